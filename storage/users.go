package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dischat/models"
)

// InsertUser inserts a profile row.
func (s *Store) InsertUser(ctx context.Context, user models.User) error {
	if user.ID == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return errors.New("email is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, full_name, email, created_at) VALUES (?, ?, ?, ?)`,
		user.ID,
		user.FullName,
		user.Email,
		s.now().UnixMilli(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("insert user %q: %w", user.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert user %q: %w", user.ID, err)
	}

	return nil
}

// GetUser fetches one profile row by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}

	row := s.db.QueryRowContext(ctx, `SELECT id, full_name, email FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}
	return user, nil
}

// ListUsers returns every profile row in insertion order.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, `SELECT id, full_name, email FROM users ORDER BY rowid ASC`)
}

// ListUsersExcept returns every profile row except id, in insertion order.
func (s *Store) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	return s.queryUsers(ctx, `SELECT id, full_name, email FROM users WHERE id <> ? ORDER BY rowid ASC`, id)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.FullName, &user.Email); err != nil {
		return nil, err
	}
	return &user, nil
}
