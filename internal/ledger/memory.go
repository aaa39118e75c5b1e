package ledger

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/notely/notely-go/internal/model"
)

type otpEntry struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MemoryOTP is a process-local OTPLedger. It does not survive restarts and
// is not shared between instances; use RedisOTP for that.
type MemoryOTP struct {
	mu      sync.Mutex
	entries map[string]otpEntry
	ttl     time.Duration
	opts    options
}

func NewMemoryOTP(ttl time.Duration, opts ...Option) *MemoryOTP {
	return &MemoryOTP{
		entries: make(map[string]otpEntry),
		ttl:     ttl,
		opts:    buildOptions(opts),
	}
}

func (l *MemoryOTP) IssueOrReuse(_ context.Context, email string) (string, bool, error) {
	email = model.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	if e, ok := l.entries[email]; ok && !expired(now, e.ExpiresAt) {
		return "", true, nil
	}

	code, err := l.opts.generate(email, now)
	if err != nil {
		return "", false, err
	}
	l.entries[email] = otpEntry{Code: code, ExpiresAt: now.Add(l.ttl)}
	return code, false, nil
}

func (l *MemoryOTP) Verify(_ context.Context, email, code string) error {
	email = model.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[email]
	if !ok {
		return ErrNotFound
	}
	if expired(l.opts.now(), e.ExpiresAt) {
		delete(l.entries, email)
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		return ErrMismatch
	}
	return nil
}

func (l *MemoryOTP) Discard(_ context.Context, email string) error {
	l.mu.Lock()
	delete(l.entries, model.NormalizeEmail(email))
	l.mu.Unlock()
	return nil
}

// Sweep drops every challenge that has expired and returns how many.
func (l *MemoryOTP) Sweep(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	n := 0
	for k, e := range l.entries {
		if expired(now, e.ExpiresAt) {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored challenges, live or not.
func (l *MemoryOTP) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// MemoryPending is a process-local PendingLedger.
type MemoryPending struct {
	mu      sync.Mutex
	entries map[string]model.PendingRegistration
	ttl     time.Duration
	opts    options
}

func NewMemoryPending(ttl time.Duration, opts ...Option) *MemoryPending {
	return &MemoryPending{
		entries: make(map[string]model.PendingRegistration),
		ttl:     ttl,
		opts:    buildOptions(opts),
	}
}

func (l *MemoryPending) Stage(_ context.Context, reg model.PendingRegistration) error {
	reg.Email = model.NormalizeEmail(reg.Email)

	l.mu.Lock()
	defer l.mu.Unlock()

	reg.ExpiresAt = l.opts.now().Add(l.ttl)
	l.entries[reg.Email] = reg
	return nil
}

func (l *MemoryPending) Consume(_ context.Context, email string) (model.PendingRegistration, error) {
	email = model.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	reg, ok := l.entries[email]
	if !ok {
		return model.PendingRegistration{}, ErrNotFound
	}
	delete(l.entries, email)
	if expired(l.opts.now(), reg.ExpiresAt) {
		return model.PendingRegistration{}, ErrExpired
	}
	return reg, nil
}

// Exists reports whether a live registration is staged for email. It never
// removes entries; expired ones stay until consumed or swept.
func (l *MemoryPending) Exists(_ context.Context, email string) (bool, error) {
	email = model.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	reg, ok := l.entries[email]
	return ok && !expired(l.opts.now(), reg.ExpiresAt), nil
}

// Sweep drops every registration that has expired and returns how many.
func (l *MemoryPending) Sweep(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	n := 0
	for k, reg := range l.entries {
		if expired(now, reg.ExpiresAt) {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored registrations, live or not.
func (l *MemoryPending) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
