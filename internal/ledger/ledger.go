// Package ledger holds the short-lived, per-email state of the sign-up flow:
// one-time passcode challenges and registrations that are waiting for one.
//
// Both ledgers are keyed by normalised email with last-writer-wins semantics,
// and every check-then-mutate on a key is atomic. Expiry is evaluated lazily
// when an entry is read; sweeping only bounds memory.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/model"
)

var (
	ErrNotFound = errors.New("ledger entry not found")
	ErrExpired  = errors.New("ledger entry expired")
	ErrMismatch = errors.New("code does not match")
)

// OTPLedger issues and checks one-time codes scoped to an email.
type OTPLedger interface {
	// IssueOrReuse stores a fresh code for email and returns it, unless a live
	// challenge already exists, in which case it returns reused=true and no code.
	IssueOrReuse(ctx context.Context, email string) (code string, reused bool, err error)

	// Verify returns ErrNotFound, ErrExpired (evicting the entry) or
	// ErrMismatch (keeping it). A nil error leaves the entry in place; the
	// caller consumes it with Discard.
	Verify(ctx context.Context, email, code string) error

	// Discard removes the challenge for email, if any.
	Discard(ctx context.Context, email string) error
}

// PendingLedger holds registrations until their email is proven.
type PendingLedger interface {
	// Stage replaces any pending registration for reg.Email. ExpiresAt is set
	// by the ledger.
	Stage(ctx context.Context, reg model.PendingRegistration) error

	// Consume removes and returns the registration, or fails with ErrNotFound
	// or ErrExpired.
	Consume(ctx context.Context, email string) (model.PendingRegistration, error)

	// Exists reports whether a live registration is staged for email.
	Exists(ctx context.Context, email string) (bool, error)
}

// CodeFunc produces a one-time code for email at the given instant.
type CodeFunc func(email string, at time.Time) (string, error)

type options struct {
	now      func() time.Time
	generate CodeFunc
}

// Option customises a ledger.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCodeFunc overrides the OTP generator.
func WithCodeFunc(fn CodeFunc) Option {
	return func(o *options) { o.generate = fn }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, generate: crypto.GenerateOTP}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired reports whether an entry with deadline exp is dead at now. An
// entry is still live at exactly its deadline.
func expired(now, exp time.Time) bool {
	return now.After(exp)
}

// RunJanitor calls sweep every interval until ctx is done.
func RunJanitor(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx)
			if err != nil {
				slog.Warn("sweep failed", "janitor", name, "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept expired entries", "janitor", name, "count", n)
			}
		}
	}
}
