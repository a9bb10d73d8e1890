// Package chat is the client core: it resolves the session, loads contacts
// and conversations, merges live inserts into the open conversation, sends
// messages and stamps delivery receipts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/models"
	"dischat/realtime"
)

// ChangeKind names what a Change notification is about.
type ChangeKind string

const (
	ChangeContacts     ChangeKind = "contacts"
	ChangeConversation ChangeKind = "conversation"
	ChangeMessage      ChangeKind = "message"
	ChangeError        ChangeKind = "error"
)

// Change is delivered to Options.OnChange after state changes.
type Change struct {
	Kind    ChangeKind
	Message models.Message
	Err     error
}

// Options wires a Controller to its capabilities.
type Options struct {
	Identity IdentityProvider
	Rows     Rows
	Feed     Feed
	Logger   *zerolog.Logger
	// Now seeds outgoing lamport_clock values. nil uses time.Now.
	Now func() time.Time
	// OnChange is called without internal locks held, possibly from the
	// feed goroutine.
	OnChange func(Change)
}

// Controller holds the state of one chat view.
type Controller struct {
	identity IdentityProvider
	rows     Rows
	feed     Feed
	logger   zerolog.Logger
	onChange func(Change)
	clock    *Clock

	mu         sync.Mutex
	self       *models.Identity
	contacts   []models.User
	selectedID string
	generation uint64
	timeline   *timeline
	draft      string
	sub        *feedHandle
}

type feedHandle struct {
	sub  realtime.Subscription
	done chan struct{}
	once sync.Once
}

// NewController validates options and returns an unmounted Controller.
func NewController(options Options) (*Controller, error) {
	if options.Identity == nil {
		return nil, errors.New("identity capability is required")
	}
	if options.Rows == nil {
		return nil, errors.New("rows capability is required")
	}
	if options.Feed == nil {
		return nil, errors.New("feed capability is required")
	}
	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}
	onChange := options.OnChange
	if onChange == nil {
		onChange = func(Change) {}
	}

	return &Controller{
		identity: options.Identity,
		rows:     options.Rows,
		feed:     options.Feed,
		logger:   logger.With().Str("component", "chat").Logger(),
		onChange: onChange,
		clock:    NewClock(options.Now),
		timeline: newTimeline(),
	}, nil
}

// Mount resolves the current identity, loads contacts and opens the live
// feed. Without an identity it fails closed with an auth error wrapping
// ErrNoSession. A feed failure is reported through OnChange and does not
// fail the mount.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	mounted := c.self != nil
	c.mu.Unlock()
	if mounted {
		return nil
	}

	identity, err := c.identity.CurrentUser(ctx)
	if err == nil && identity.ID == "" {
		err = errors.New("empty identity")
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("resolve session")
		return newError(KindAuth, "mount", fmt.Errorf("%w: %w", ErrNoSession, err))
	}

	c.mu.Lock()
	c.self = &identity
	c.mu.Unlock()
	c.logger.Debug().Str("user_id", identity.ID).Msg("mounted")

	_, _ = c.LoadContacts(ctx)
	c.subscribe(ctx)
	return nil
}

// Identity returns the resolved identity, if mounted.
func (c *Controller) Identity() (models.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return models.Identity{}, false
	}
	return *c.self, true
}

// Clock exposes the controller's lamport clock.
func (c *Controller) Clock() *Clock {
	return c.clock
}

// LoadContacts fetches every user except the current one, in storage
// order. On failure the list becomes empty and a fetch error is returned.
func (c *Controller) LoadContacts(ctx context.Context) ([]models.User, error) {
	self, err := c.requireSelf()
	if err != nil {
		return nil, err
	}

	users, err := c.rows.ListUsers(ctx, self.ID)
	if err != nil {
		c.logger.Error().Err(err).Msg("load contacts")
		c.mu.Lock()
		c.contacts = nil
		c.mu.Unlock()
		c.notify(Change{Kind: ChangeContacts})
		return nil, newError(KindFetch, "load contacts", err)
	}

	contacts := make([]models.User, 0, len(users))
	for _, user := range users {
		if user.ID != self.ID {
			contacts = append(contacts, user)
		}
	}

	c.mu.Lock()
	c.contacts = contacts
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeContacts})
	return append([]models.User(nil), contacts...), nil
}

// Contacts returns the loaded contact list.
func (c *Controller) Contacts() []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.User(nil), c.contacts...)
}

// SelectContact opens the conversation with contactID. Live inserts are
// admitted for the new contact from this point on. The fetched history is
// applied only if no later selection superseded this one; on success the
// current user's inbound receipts are stamped.
func (c *Controller) SelectContact(ctx context.Context, contactID string) error {
	if _, err := c.requireSelf(); err != nil {
		return err
	}
	if strings.TrimSpace(contactID) == "" {
		return ErrNoContact
	}

	c.mu.Lock()
	c.selectedID = contactID
	c.generation++
	generation := c.generation
	c.timeline.clear()
	c.mu.Unlock()

	history, err := c.rows.Conversation(ctx, contactID)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.logger.Debug().Str("contact_id", contactID).Msg("discarding superseded conversation load")
		return nil
	}
	if err != nil {
		c.timeline.clear()
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("contact_id", contactID).Msg("load conversation")
		c.notify(Change{Kind: ChangeConversation})
		return newError(KindFetch, "load conversation", err)
	}
	c.timeline.reset(history)
	c.mu.Unlock()

	for _, msg := range history {
		c.clock.Observe(msg.LamportClock)
	}
	c.notify(Change{Kind: ChangeConversation})

	if err := c.StampReceipts(ctx); err != nil {
		c.notify(Change{Kind: ChangeError, Err: err})
	}
	return nil
}

// Selected returns the open contact id, if any.
func (c *Controller) Selected() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID, c.selectedID != ""
}

// SelectedContact returns the open contact's profile, if it is in the
// loaded contact list.
func (c *Controller) SelectedContact() (models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, contact := range c.contacts {
		if contact.ID == c.selectedID {
			return contact, true
		}
	}
	return models.User{}, false
}

// Messages returns the open conversation in display order.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.snapshot()
}

// SetDraft replaces the unsent input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the unsent input text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Send persists the trimmed draft to the open contact. Empty drafts and a
// missing contact are rejected without writing. On success the draft is
// cleared and receipts are stamped; on failure the draft is kept and a
// write error is returned. Nothing is retried.
func (c *Controller) Send(ctx context.Context) (models.Message, error) {
	if _, err := c.requireSelf(); err != nil {
		return models.Message{}, err
	}

	c.mu.Lock()
	draft := c.draft
	contactID := c.selectedID
	c.mu.Unlock()

	content := strings.TrimSpace(draft)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if contactID == "" {
		return models.Message{}, ErrNoContact
	}

	stored, err := c.rows.InsertMessage(ctx, models.NewMessage{
		ReceiverID:   contactID,
		Content:      content,
		LamportClock: c.clock.Tick(),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("contact_id", contactID).Msg("send message")
		return models.Message{}, newError(KindWrite, "send message", err)
	}

	c.mu.Lock()
	if c.draft == draft {
		c.draft = ""
	}
	c.mu.Unlock()

	c.merge(stored)

	if err := c.StampReceipts(ctx); err != nil {
		c.notify(Change{Kind: ChangeError, Err: err})
	}
	return stored, nil
}

// StampReceipts marks every message addressed to the current user as
// received, then as read, across all conversations. Re-running it after
// everything is stamped changes nothing.
func (c *Controller) StampReceipts(ctx context.Context) error {
	if _, err := c.requireSelf(); err != nil {
		return err
	}

	var errs []error
	if n, err := c.rows.MarkReceived(ctx); err != nil {
		c.logger.Error().Err(err).Msg("mark received")
		errs = append(errs, newError(KindWrite, "mark received", err))
	} else if n > 0 {
		c.logger.Debug().Int64("rows", n).Msg("marked received")
	}
	if n, err := c.rows.MarkRead(ctx); err != nil {
		c.logger.Error().Err(err).Msg("mark read")
		errs = append(errs, newError(KindWrite, "mark read", err))
	} else if n > 0 {
		c.logger.Debug().Int64("rows", n).Msg("marked read")
	}
	return errors.Join(errs...)
}

// Admits reports whether msg belongs to the conversation between self and
// contactID.
func Admits(msg models.Message, selfID, contactID string) bool {
	if selfID == "" || contactID == "" {
		return false
	}
	return (msg.SenderID == selfID && msg.ReceiverID == contactID) ||
		(msg.SenderID == contactID && msg.ReceiverID == selfID)
}

// Close releases the live feed. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	handle := c.sub
	c.sub = nil
	c.mu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.release()
}

func (c *Controller) subscribe(ctx context.Context) {
	sub, err := c.feed.Subscribe(ctx)
	if err != nil {
		failure := newError(KindSubscription, "subscribe", err)
		c.logger.Error().Err(err).Msg("subscribe to message feed")
		c.notify(Change{Kind: ChangeError, Err: failure})
		return
	}

	handle := &feedHandle{sub: sub, done: make(chan struct{})}
	c.mu.Lock()
	previous := c.sub
	c.sub = handle
	c.mu.Unlock()
	if previous != nil {
		_ = previous.release()
	}

	go c.consume(handle)
}

func (c *Controller) consume(handle *feedHandle) {
	defer close(handle.done)

	events := handle.sub.Events()
	errs := handle.sub.Errors()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				if errs != nil {
					if err, ok := <-errs; ok && err != nil {
						c.feedFailed(err)
					}
				}
				return
			}
			c.merge(msg)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				c.feedFailed(err)
			}
		}
	}
}

// merge applies msg to the open conversation if the current selection
// admits it.
func (c *Controller) merge(msg models.Message) {
	c.mu.Lock()
	if c.self == nil || !Admits(msg, c.self.ID, c.selectedID) {
		c.mu.Unlock()
		return
	}
	c.timeline.upsert(msg)
	c.mu.Unlock()

	c.clock.Observe(msg.LamportClock)
	c.notify(Change{Kind: ChangeMessage, Message: msg})
}

func (c *Controller) feedFailed(err error) {
	failure := newError(KindSubscription, "receive", err)
	c.logger.Warn().Err(err).Msg("message feed failed")
	c.notify(Change{Kind: ChangeError, Err: failure})
}

func (c *Controller) requireSelf() (models.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return models.Identity{}, ErrNotMounted
	}
	return *c.self, nil
}

func (c *Controller) notify(change Change) {
	c.onChange(change)
}

func (h *feedHandle) release() error {
	var err error
	h.once.Do(func() {
		err = h.sub.Close()
		<-h.done
	})
	return err
}
