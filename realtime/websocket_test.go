package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dischat/models"
)

var errBadToken = errors.New("bad token")

func staticAuthenticator(valid string) Authenticator {
	return func(_ context.Context, token string) (models.Identity, error) {
		if token != valid {
			return models.Identity{}, errBadToken
		}
		return models.Identity{ID: "user-1", Email: "one@example.com"}, nil
	}
}

func startFeedServer(t *testing.T, hub *Hub) string {
	t.Helper()
	logger := zerolog.Nop()
	srv := httptest.NewServer(Handler(hub, staticAuthenticator("secret"), &logger))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d, want %d", hub.Len(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebsocketFeedDeliversInserts(t *testing.T) {
	hub := newTestHub(t, 8)
	url := startFeedServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Dial(ctx, url, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sub.Close()
	waitForSubscribers(t, hub, 1)

	sent := time.UnixMilli(1_700_000_000_000).UTC()
	hub.Publish(models.Message{ID: 7, SenderID: "a", ReceiverID: "b", Content: "over the wire", SentTime: sent, LamportClock: 3})

	got := receive(t, sub)
	if got.ID != 7 || got.Content != "over the wire" || got.LamportClock != 3 {
		t.Fatalf("received %+v", got)
	}
	if !got.SentTime.Equal(sent) {
		t.Fatalf("SentTime = %v, want %v", got.SentTime, sent)
	}
}

func TestWebsocketFeedRejectsBadToken(t *testing.T) {
	hub := newTestHub(t, 8)
	url := startFeedServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, url, "wrong"); err == nil {
		t.Fatalf("Dial() with bad token succeeded")
	}
	if hub.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", hub.Len())
	}
}

func TestWebsocketFeedReportsServerShutdown(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(8, &logger)
	url := startFeedServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Dial(ctx, url, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sub.Close()
	waitForSubscribers(t, hub, 1)

	hub.Close()

	select {
	case err := <-sub.Errors():
		if err == nil {
			t.Fatalf("expected a read error after shutdown")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for feed error")
	}
}

func TestWebsocketSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := newTestHub(t, 8)
	url := startFeedServer(t, hub)

	sub, err := Dial(context.Background(), url, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = sub.Close()
	_ = sub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected events channel closed")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "wrong scheme", header: "Basic abc", want: ""},
		{name: "query", query: "xyz", want: "xyz"},
		{name: "none", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := "/realtime"
			if tc.query != "" {
				target += "?access_token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := BearerToken(req); got != tc.want {
				t.Fatalf("BearerToken() = %q, want %q", got, tc.want)
			}
		})
	}
}
