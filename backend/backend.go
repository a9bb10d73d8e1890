// Package backend composes the identity service, the relational store and
// the realtime hub into the service the HTTP server exposes.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/auth"
	"dischat/models"
	"dischat/realtime"
	"dischat/storage"
)

var (
	// ErrForbidden indicates a caller acting on rows it does not own.
	ErrForbidden = errors.New("backend: forbidden")
	// ErrInvalidInput indicates a request the backend refuses to persist.
	ErrInvalidInput = errors.New("backend: invalid input")
)

// Options wires the backend's collaborators.
type Options struct {
	Store  *storage.Store
	Auth   *auth.Service
	Hub    *realtime.Hub
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Backend is the hosted side of the chat: identity, rows and the insert feed.
type Backend struct {
	store  *storage.Store
	auth   *auth.Service
	hub    *realtime.Hub
	now    func() time.Time
	logger zerolog.Logger
}

// New validates options and returns a Backend.
func New(options Options) (*Backend, error) {
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	if options.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if options.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}

	return &Backend{
		store:  options.Store,
		auth:   options.Auth,
		hub:    options.Hub,
		now:    options.Now,
		logger: logger.With().Str("component", "backend").Logger(),
	}, nil
}

// Hub returns the insert feed hub.
func (b *Backend) Hub() *realtime.Hub {
	return b.hub
}

func (b *Backend) SignUp(ctx context.Context, email, password string) (models.Session, error) {
	return b.auth.SignUp(ctx, email, password)
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (models.Session, error) {
	return b.auth.SignIn(ctx, email, password)
}

func (b *Backend) SignOut(ctx context.Context, token string) error {
	return b.auth.SignOut(ctx, token)
}

func (b *Backend) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	return b.auth.Authenticate(ctx, token)
}

// ListUsers returns every profile in insertion order.
func (b *Backend) ListUsers(ctx context.Context) ([]models.User, error) {
	return b.store.ListUsers(ctx)
}

// ListUsersExcept returns every profile but id's, in insertion order.
func (b *Backend) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	return b.store.ListUsersExcept(ctx, id)
}

// InsertUser stores the caller's own profile row. The display name is
// stripped of markup; an empty email defaults to the caller's.
func (b *Backend) InsertUser(ctx context.Context, caller models.Identity, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = caller.ID
	}
	if user.ID != caller.ID {
		return models.User{}, fmt.Errorf("insert user %q as %q: %w", user.ID, caller.ID, ErrForbidden)
	}
	if user.Email == "" {
		user.Email = caller.Email
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.FullName = SanitizeName(user.FullName, user.Email)

	if err := b.store.InsertUser(ctx, user); err != nil {
		return models.User{}, err
	}
	b.logger.Info().Str("user_id", user.ID).Msg("profile created")
	return user, nil
}

// Conversation returns the history between caller and peer, oldest first.
func (b *Backend) Conversation(ctx context.Context, caller models.Identity, peerID string) ([]models.Message, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, fmt.Errorf("peer is required: %w", ErrInvalidInput)
	}
	return b.store.Conversation(ctx, caller.ID, peerID)
}

// InsertMessage persists a message from caller and publishes it on the feed.
func (b *Backend) InsertMessage(ctx context.Context, caller models.Identity, msg models.NewMessage) (*models.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("content is required: %w", ErrInvalidInput)
	}
	if msg.ReceiverID == "" {
		return nil, fmt.Errorf("receiver_id is required: %w", ErrInvalidInput)
	}
	if _, err := b.store.GetUser(ctx, msg.ReceiverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("unknown receiver %q: %w", msg.ReceiverID, ErrInvalidInput)
		}
		return nil, err
	}

	stored, err := b.store.InsertMessage(ctx, caller.ID, msg)
	if err != nil {
		return nil, err
	}
	b.hub.Publish(*stored)
	b.logger.Debug().
		Int64("message_id", stored.ID).
		Str("sender_id", stored.SenderID).
		Str("receiver_id", stored.ReceiverID).
		Msg("message stored")
	return stored, nil
}

// MarkReceived stamps received_time on every unstamped message to caller.
func (b *Backend) MarkReceived(ctx context.Context, caller models.Identity) (int64, error) {
	return b.MarkReceipt(ctx, caller, storage.ReceiptReceived)
}

// MarkRead stamps read_time on every unread message to caller.
func (b *Backend) MarkRead(ctx context.Context, caller models.Identity) (int64, error) {
	return b.MarkReceipt(ctx, caller, storage.ReceiptRead)
}

// MarkReceipt stamps column for every message addressed to caller where it
// is still unset.
func (b *Backend) MarkReceipt(ctx context.Context, caller models.Identity, column string) (int64, error) {
	if column != storage.ReceiptReceived && column != storage.ReceiptRead {
		return 0, fmt.Errorf("unknown receipt column %q: %w", column, ErrInvalidInput)
	}
	n, err := b.store.MarkReceipt(ctx, column, caller.ID, b.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		b.logger.Debug().Str("user_id", caller.ID).Str("column", column).Int64("rows", n).Msg("receipts stamped")
	}
	return n, nil
}

// Subscribe opens an in-process subscription on the insert feed.
func (b *Backend) Subscribe() (realtime.Subscription, error) {
	return b.hub.Subscribe()
}
