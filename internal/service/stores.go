package service

import (
	"context"
	"time"

	"github.com/notely/notely-go/internal/model"
)

// UserStore persists accounts. Implementations report missing rows with
// repository.ErrUserNotFound and uniqueness violations with
// repository.ErrDuplicateEmail or repository.ErrDuplicateUsername.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// SessionStore persists remember-me sessions by token digest.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
}

// NoteStore persists notes scoped to their owner.
type NoteStore interface {
	Create(ctx context.Context, note *model.Note) error
	GetByID(ctx context.Context, userID, id int64) (*model.Note, error)
	List(ctx context.Context, userID int64, q model.NoteQuery) ([]model.Note, int, error)
	Update(ctx context.Context, note *model.Note) error
	TogglePin(ctx context.Context, userID, id int64) error
	Delete(ctx context.Context, userID, id int64) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID int64) (string, time.Time, error)
}
