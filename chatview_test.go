package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"dischat/models"
)

func TestFindContact(t *testing.T) {
	contacts := []models.User{
		{ID: "u-1", FullName: "Ada Lovelace", Email: "ada@example.com"},
		{ID: "u-2", FullName: "Grace Hopper", Email: "grace@example.com"},
	}

	tests := []struct {
		query  string
		wantID string
		wantOK bool
	}{
		{query: "u-2", wantID: "u-2", wantOK: true},
		{query: "ADA@example.com", wantID: "u-1", wantOK: true},
		{query: "grace hopper", wantID: "u-2", wantOK: true},
		{query: "  u-1 ", wantID: "u-1", wantOK: true},
		{query: "nobody", wantOK: false},
		{query: "", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := findContact(contacts, tc.query)
		if ok != tc.wantOK || got.ID != tc.wantID {
			t.Fatalf("findContact(%q) = %q, %v; want %q, %v", tc.query, got.ID, ok, tc.wantID, tc.wantOK)
		}
	}
}

func TestStatusMark(t *testing.T) {
	at := time.Unix(100, 0)
	if got := statusMark(models.Message{}); got != markSent {
		t.Fatalf("unreceived mark = %q, want %q", got, markSent)
	}
	if got := statusMark(models.Message{ReceivedTime: &at}); got != markDelivered {
		t.Fatalf("received mark = %q, want %q", got, markDelivered)
	}
	if got := statusMark(models.Message{ReceivedTime: &at, ReadTime: &at}); got != markRead {
		t.Fatalf("read mark = %q, want %q", got, markRead)
	}
}

func TestTranscriptPrintsEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	view := newTranscript(&out, models.Identity{ID: "me", Email: "me@example.com"})
	view.setContacts([]models.User{{ID: "peer", FullName: "Peer"}})

	view.reset("Peer")
	sent := models.Message{ID: 1, SenderID: "me", ReceiverID: "peer", Content: "hi", SentTime: time.Now()}
	view.message(sent)
	view.message(sent)
	view.message(models.Message{ID: 2, SenderID: "peer", ReceiverID: "me", Content: "hello", SentTime: time.Now()})

	text := out.String()
	if n := strings.Count(text, ": hi"); n != 1 {
		t.Fatalf("own message printed %d times:\n%s", n, text)
	}
	if !strings.Contains(text, "you: hi "+markSent) {
		t.Fatalf("own message missing status mark:\n%s", text)
	}
	if !strings.Contains(text, "Peer: hello") || strings.Contains(text, "hello "+markSent) {
		t.Fatalf("peer message rendered wrong:\n%s", text)
	}

	view.reset("Peer")
	view.message(sent)
	if n := strings.Count(out.String(), ": hi"); n != 2 {
		t.Fatalf("message not reprinted after reset:\n%s", out.String())
	}
}
