package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
)

const (
	MsgLogoutSuccessful = "Logout successful"

	sessionTokenAttempts = 3
)

// LoginResult is the outcome of a successful login. SessionToken is empty
// unless the caller asked to be remembered.
type LoginResult struct {
	Response         model.LoginResponse
	SessionToken     string
	SessionExpiresAt time.Time
}

// AuthService handles authentication business logic.
type AuthService struct {
	users      UserStore
	sessions   SessionStore
	hasher     PasswordHasher
	tokens     TokenIssuer
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, sessions SessionStore, hasher PasswordHasher, tokens TokenIssuer, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Login authenticates a user and returns an access token, plus a persisted
// session token when req.RememberMe is set.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (LoginResult, error) {
	req.Email = model.NormalizeEmail(req.Email)
	if err := validate(req); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	match, err := s.hasher.Verify(req.Password, user.PasswordDigest)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, _, err := s.tokens.Issue(user.ID)
	if err != nil {
		if errors.Is(err, crypto.ErrMissingSecret) {
			return LoginResult{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return LoginResult{}, err
	}

	result := LoginResult{
		Response: model.LoginResponse{
			Message: "Welcome, " + capitalize(user.Username) + "!",
			Token:   token,
		},
	}

	if req.RememberMe {
		result.SessionToken, result.SessionExpiresAt, err = s.createSession(ctx, user.ID)
		if err != nil {
			return LoginResult{}, err
		}
	}

	slog.Info("user logged in", "user_id", user.ID, "remember_me", req.RememberMe)
	return result, nil
}

// Logout revokes the session behind sessionToken. Unknown, empty or
// malformed tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	if !crypto.LooksLikeSessionToken(sessionToken) {
		return nil
	}
	if err := s.sessions.DeleteByTokenHash(ctx, crypto.DigestSessionToken(sessionToken)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID and returns safe user data.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (model.UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserNotFound
		}
		return model.UserResponse{}, err
	}
	return user.Response(), nil
}

func (s *AuthService) createSession(ctx context.Context, userID int64) (string, time.Time, error) {
	expiresAt := s.now().Add(s.sessionTTL)

	for attempt := 0; attempt < sessionTokenAttempts; attempt++ {
		token, err := crypto.NewSessionToken()
		if err != nil {
			return "", time.Time{}, err
		}

		err = s.sessions.Create(ctx, &model.Session{
			UserID:    userID,
			TokenHash: crypto.DigestSessionToken(token),
			ExpiresAt: expiresAt,
		})
		if errors.Is(err, repository.ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return "", time.Time{}, fmt.Errorf("creating session: %w", err)
		}
		return token, expiresAt, nil
	}
	return "", time.Time{}, ErrSessionConflict
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
