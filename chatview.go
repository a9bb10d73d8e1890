package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dischat/chat"
	"dischat/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat [contact]",
	Short: "Open an interactive conversation",
	Long: "Open an interactive conversation. Type a line to send it.\n" +
		"Commands: /switch <contact>, /contacts, /history, /receipts, /quit.",
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

// Status marks for outgoing messages.
const (
	markSent      = "✓"
	markDelivered = "✓✓"
	markRead      = "👁"
)

func statusMark(msg models.Message) string {
	switch msg.Status() {
	case models.StatusRead:
		return markRead
	case models.StatusDelivered:
		return markDelivered
	default:
		return markSent
	}
}

// findContact matches query against id, email, then display name, ignoring case.
func findContact(contacts []models.User, query string) (models.User, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.User{}, false
	}
	for _, contact := range contacts {
		if contact.ID == query {
			return contact, true
		}
	}
	for _, contact := range contacts {
		if strings.EqualFold(contact.Email, query) {
			return contact, true
		}
	}
	for _, contact := range contacts {
		if strings.EqualFold(contact.DisplayName(), query) {
			return contact, true
		}
	}
	return models.User{}, false
}

// transcript prints the open conversation, each row at most once.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	selfID  string
	names   map[string]string
	printed map[int64]struct{}
}

func newTranscript(out io.Writer, self models.Identity) *transcript {
	return &transcript{
		out:     out,
		selfID:  self.ID,
		names:   map[string]string{self.ID: "you"},
		printed: make(map[int64]struct{}),
	}
}

func (t *transcript) setContacts(contacts []models.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, contact := range contacts {
		t.names[contact.ID] = contact.DisplayName()
	}
}

func (t *transcript) reset(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printed = make(map[int64]struct{})
	fmt.Fprintf(t.out, "── %s ──\n", title)
}

func (t *transcript) message(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.printed[msg.ID]; ok {
		return
	}
	t.printed[msg.ID] = struct{}{}
	fmt.Fprintln(t.out, t.format(msg))
}

func (t *transcript) format(msg models.Message) string {
	name := t.names[msg.SenderID]
	if name == "" {
		name = msg.SenderID
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.SentTime.Local().Format("15:04"), name, msg.Content)
	if msg.SenderID == t.selfID {
		line += " " + statusMark(msg)
	}
	return line
}

func (t *transcript) notice(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "! "+format+"\n", args...)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	remote, sessions, err := openRemote(ctx)
	if err != nil {
		return err
	}
	defer sessions.Close()

	var view *transcript
	var viewMu sync.Mutex
	current := func() *transcript {
		viewMu.Lock()
		defer viewMu.Unlock()
		return view
	}

	ctrl, err := chat.NewController(chat.Options{
		Identity: remote,
		Rows:     remote,
		Feed:     remote,
		OnChange: func(change chat.Change) {
			t := current()
			if t == nil {
				return
			}
			switch change.Kind {
			case chat.ChangeMessage:
				t.message(change.Message)
			case chat.ChangeError:
				t.notice("%v", change.Err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Mount(ctx); err != nil {
		if errors.Is(err, chat.ErrNoSession) {
			return errors.New("not signed in: run `dischat login` first")
		}
		return err
	}
	self, _ := ctrl.Identity()

	viewMu.Lock()
	view = newTranscript(os.Stdout, self)
	viewMu.Unlock()
	view.setContacts(ctrl.Contacts())
	fmt.Printf("Signed in as %s\n", self.Email)

	open := func(query string) {
		contact, ok := findContact(ctrl.Contacts(), query)
		if !ok {
			view.notice("no contact matches %q", query)
			return
		}
		view.reset(contact.DisplayName())
		if err := ctrl.SelectContact(ctx, contact.ID); err != nil {
			view.notice("%v", err)
		}
		for _, msg := range ctrl.Messages() {
			view.message(msg)
		}
	}

	if len(args) == 1 {
		open(args[0])
	} else {
		printContacts(view, ctrl.Contacts())
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := stdin.ReadString('\n')
			if line != "" {
				select {
				case lines <- strings.TrimRight(line, "\r\n"):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for line := range lines {
		command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch command {
		case "/quit", "/exit":
			return nil
		case "/switch":
			open(rest)
		case "/contacts":
			if _, err := ctrl.LoadContacts(ctx); err != nil {
				view.notice("%v", err)
			}
			view.setContacts(ctrl.Contacts())
			printContacts(view, ctrl.Contacts())
		case "/history":
			if id, ok := ctrl.Selected(); ok {
				open(id)
			}
		case "/receipts":
			if err := ctrl.StampReceipts(ctx); err != nil {
				view.notice("%v", err)
			} else {
				view.notice("receipts updated")
			}
		default:
			ctrl.SetDraft(line)
			if _, err := ctrl.Send(ctx); err != nil {
				switch {
				case errors.Is(err, chat.ErrEmptyMessage):
				case errors.Is(err, chat.ErrNoContact):
					view.notice("pick a contact first: /switch <contact>")
				default:
					log.Debug().Err(err).Msg("send failed")
					view.notice("not sent: %v", err)
				}
			}
		}
	}
	return nil
}

func printContacts(view *transcript, contacts []models.User) {
	if len(contacts) == 0 {
		view.notice("no contacts yet")
		return
	}
	view.mu.Lock()
	defer view.mu.Unlock()
	fmt.Fprintln(view.out, "Contacts:")
	for _, contact := range contacts {
		fmt.Fprintf(view.out, "  %-24s %s\n", contact.DisplayName(), contact.Email)
	}
	fmt.Fprintln(view.out, "Use /switch <contact> to open a conversation.")
}
