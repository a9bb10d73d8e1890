package chat

import (
	"context"

	"dischat/models"
	"dischat/realtime"
)

// IdentityProvider resolves who is signed in.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (models.Identity, error)
}

// Accounts is the full identity capability.
type Accounts interface {
	IdentityProvider
	SignUp(ctx context.Context, email, password string) (models.Session, error)
	SignIn(ctx context.Context, email, password string) (models.Session, error)
	SignOut(ctx context.Context) error
}

// Rows is the relational store capability as seen by the signed-in user.
// Receipt updates apply to messages addressed to that user.
type Rows interface {
	ListUsers(ctx context.Context, excludeID string) ([]models.User, error)
	InsertUser(ctx context.Context, user models.User) (models.User, error)
	Conversation(ctx context.Context, peerID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	MarkReceived(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context) (int64, error)
}

// Feed is the realtime insert feed capability.
type Feed interface {
	Subscribe(ctx context.Context) (realtime.Subscription, error)
}
