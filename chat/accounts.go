package chat

import (
	"context"
	"errors"
	"strings"

	"dischat/models"
)

// Register signs up a new identity and creates its profile row.
func Register(ctx context.Context, accounts Accounts, rows Rows, fullName, email, password string) (models.Session, error) {
	session, err := accounts.SignUp(ctx, email, password)
	if err != nil {
		return models.Session{}, newError(KindAuth, "sign up", err)
	}

	_, err = rows.InsertUser(ctx, models.User{
		ID:       session.User.ID,
		FullName: strings.TrimSpace(fullName),
		Email:    session.User.Email,
	})
	if err != nil {
		return session, newError(KindWrite, "create profile", err)
	}
	return session, nil
}

// Login signs in with email and password.
func Login(ctx context.Context, accounts Accounts, email, password string) (models.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.Session{}, newError(KindAuth, "sign in", errors.New("email and password are required"))
	}
	session, err := accounts.SignIn(ctx, email, password)
	if err != nil {
		return models.Session{}, newError(KindAuth, "sign in", err)
	}
	return session, nil
}

// Logout ends the current session.
func Logout(ctx context.Context, accounts Accounts) error {
	if err := accounts.SignOut(ctx); err != nil {
		return newError(KindAuth, "sign out", err)
	}
	return nil
}
