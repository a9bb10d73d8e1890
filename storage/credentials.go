package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// InsertCredential stores the password hash for a new identity.
func (s *Store) InsertCredential(ctx context.Context, cred Credential) error {
	if cred.UserID == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(cred.Email) == "" {
		return errors.New("email is required")
	}
	if cred.PasswordHash == "" {
		return errors.New("password_hash is required")
	}
	if cred.CreatedAt == 0 {
		cred.CreatedAt = s.now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		cred.UserID,
		cred.Email,
		cred.PasswordHash,
		cred.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("insert credential for %q: %w", cred.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert credential for %q: %w", cred.Email, err)
	}

	return nil
}

// GetCredentialByEmail fetches the credential row for an email address.
func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}

	var cred Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, created_at FROM credentials WHERE email = ?`,
		email,
	).Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential for %q: %w", email, err)
	}
	return &cred, nil
}

// RevokeToken records a token id as signed out until it expires.
func (s *Store) RevokeToken(ctx context.Context, tokenID string, expiresAt int64) error {
	if tokenID == "" {
		return errors.New("token_id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at)
		VALUES (?, ?)
		ON CONFLICT(token_id) DO UPDATE SET expires_at = excluded.expires_at`,
		tokenID,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("revoke token %q: %w", tokenID, err)
	}
	return nil
}

// IsTokenRevoked returns true if a token id has been signed out.
func (s *Store) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, errors.New("token_id is required")
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = ?)`,
		tokenID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check revoked token %q: %w", tokenID, err)
	}

	return exists == 1, nil
}

// PruneRevokedTokens removes revocations for tokens that expired before cutoff.
func (s *Store) PruneRevokedTokens(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}
	return s.pruneRevokedTokens(cutoffTimestamp)
}

func (s *Store) pruneRevokedTokens(cutoffTimestamp int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune revoked tokens: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for revoked token prune: %w", err)
	}

	return rowsAffected, nil
}
