// Package auth is the identity provider: password credentials, bearer
// tokens, and sign-out revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"dischat/models"
	"dischat/storage"
)

const (
	// DefaultTokenTTL bounds how long an access token is accepted.
	DefaultTokenTTL = 7 * 24 * time.Hour
	// MinPasswordLength matches the hosted provider's default policy.
	MinPasswordLength = 6
	// TokenType is the scheme clients put in the Authorization header.
	TokenType = "bearer"

	issuer = "dischat"
)

var (
	// ErrInvalidCredentials indicates an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid login credentials")
	// ErrEmailTaken indicates sign-up with an already registered email.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidToken indicates a malformed, expired, or revoked token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrWeakPassword indicates a password shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("auth: password is too short")
	// ErrInvalidEmail indicates an unparsable email address.
	ErrInvalidEmail = errors.New("auth: invalid email address")
)

// CredentialStore persists credentials and revoked token ids.
type CredentialStore interface {
	InsertCredential(ctx context.Context, cred storage.Credential) error
	GetCredentialByEmail(ctx context.Context, email string) (*storage.Credential, error)
	RevokeToken(ctx context.Context, tokenID string, expiresAt int64) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Options configures the identity service.
type Options struct {
	Store      CredentialStore
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// Claims are the JWT claims carried by access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service signs users up and in, and validates their tokens.
type Service struct {
	store      CredentialStore
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
	logger     zerolog.Logger
}

// NewService validates options and returns a ready Service.
func NewService(options Options) (*Service, error) {
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	if len(options.Secret) < 16 {
		return nil, errors.New("secret must be at least 16 bytes")
	}
	if options.TokenTTL <= 0 {
		options.TokenTTL = DefaultTokenTTL
	}
	if options.BcryptCost == 0 {
		options.BcryptCost = bcrypt.DefaultCost
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}

	return &Service{
		store:      options.Store,
		secret:     append([]byte(nil), options.Secret...),
		ttl:        options.TokenTTL,
		bcryptCost: options.BcryptCost,
		now:        options.Now,
		logger:     logger.With().Str("component", "auth").Logger(),
	}, nil
}

// SignUp registers a new identity and returns a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (models.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Session{}, err
	}
	if len(password) < MinPasswordLength {
		return models.Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return models.Session{}, fmt.Errorf("hash password: %w", err)
	}

	identity := models.Identity{ID: uuid.NewString(), Email: email}
	err = s.store.InsertCredential(ctx, storage.Credential{
		UserID:       identity.ID,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UnixMilli(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return models.Session{}, ErrEmailTaken
		}
		return models.Session{}, err
	}

	s.logger.Info().Str("user_id", identity.ID).Msg("signed up")
	return s.issue(identity)
}

// SignIn checks a password and returns a fresh session.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Session{}, ErrInvalidCredentials
	}

	cred, err := s.store.GetCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Session{}, ErrInvalidCredentials
		}
		return models.Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("user_id", cred.UserID).Msg("password mismatch")
		return models.Session{}, ErrInvalidCredentials
	}

	return s.issue(models.Identity{ID: cred.UserID, Email: cred.Email})
}

// SignOut revokes the token until it would have expired anyway.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.ttl).UnixMilli()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UnixMilli()
	}
	if err := s.store.RevokeToken(ctx, claims.ID, expiresAt); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", claims.Subject).Msg("signed out")
	return nil
}

// Authenticate resolves the identity behind a bearer token.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return models.Identity{}, err
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return models.Identity{}, err
	}
	if revoked {
		return models.Identity{}, ErrInvalidToken
	}

	return models.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

func (s *Service) issue(identity models.Identity) (models.Session, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return models.Session{}, fmt.Errorf("sign access token: %w", err)
	}

	return models.Session{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        identity,
	}, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
