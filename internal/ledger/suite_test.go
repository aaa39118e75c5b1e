package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notely/notely-go/internal/model"
)

const (
	otpTTL     = 5 * time.Minute
	pendingTTL = 10 * time.Minute
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// sequentialCodes hands out 100001, 100002, ... so tests can tell codes apart.
func sequentialCodes() CodeFunc {
	var n atomic.Int64
	return func(string, time.Time) (string, error) {
		return fmt.Sprintf("%06d", 100000+n.Add(1)), nil
	}
}

type otpFactory func(t *testing.T, clock *fakeClock) OTPLedger
type pendingFactory func(t *testing.T, clock *fakeClock) PendingLedger

func runOTPSuite(t *testing.T, newLedger otpFactory) {
	ctx := context.Background()

	t.Run("issue then reuse within window", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		code, reused, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.False(t, reused)
		assert.Equal(t, "100001", code)

		clock.Advance(4 * time.Minute)
		code, reused, err = l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.True(t, reused)
		assert.Empty(t, code)

		require.NoError(t, l.Verify(ctx, "alice@x.com", "100001"))
	})

	t.Run("reissue after expiry", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		_, _, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)

		clock.Advance(otpTTL + time.Second)
		code, reused, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.False(t, reused)
		assert.Equal(t, "100002", code)

		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", "100001"), ErrMismatch)
		assert.NoError(t, l.Verify(ctx, "alice@x.com", "100002"))
	})

	t.Run("verify without challenge", func(t *testing.T) {
		l := newLedger(t, newFakeClock())
		assert.ErrorIs(t, l.Verify(ctx, "nobody@x.com", "123456"), ErrNotFound)
	})

	t.Run("mismatch keeps challenge", func(t *testing.T) {
		l := newLedger(t, newFakeClock())

		code, _, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)

		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", "000000"), ErrMismatch)
		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", "000001"), ErrMismatch)
		assert.NoError(t, l.Verify(ctx, "alice@x.com", code))
	})

	t.Run("expired is evicted", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		code, _, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)

		clock.Advance(otpTTL + time.Second)
		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", code), ErrExpired)
		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", code), ErrNotFound)
	})

	t.Run("live at exact deadline", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		code, _, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)

		clock.Advance(otpTTL)
		assert.NoError(t, l.Verify(ctx, "alice@x.com", code))
	})

	t.Run("discard", func(t *testing.T) {
		l := newLedger(t, newFakeClock())

		code, _, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)
		require.NoError(t, l.Discard(ctx, "alice@x.com"))
		assert.ErrorIs(t, l.Verify(ctx, "alice@x.com", code), ErrNotFound)

		// Discarding nothing is fine.
		assert.NoError(t, l.Discard(ctx, "alice@x.com"))
	})

	t.Run("emails are normalised", func(t *testing.T) {
		l := newLedger(t, newFakeClock())

		code, _, err := l.IssueOrReuse(ctx, "  Alice@X.com ")
		require.NoError(t, err)

		_, reused, err := l.IssueOrReuse(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.True(t, reused)
		assert.NoError(t, l.Verify(ctx, "ALICE@x.COM", code))
	})

	t.Run("concurrent issue yields one code", func(t *testing.T) {
		l := newLedger(t, newFakeClock())

		var issued atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, reused, err := l.IssueOrReuse(ctx, "race@x.com")
				assert.NoError(t, err)
				if !reused {
					issued.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), issued.Load())
	})
}

func runPendingSuite(t *testing.T, newLedger pendingFactory) {
	ctx := context.Background()
	reg := model.PendingRegistration{Username: "alice", Email: "alice@x.com", PasswordDigest: "$argon2id$digest"}

	t.Run("stage then consume once", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		require.NoError(t, l.Stage(ctx, reg))

		got, err := l.Consume(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "alice@x.com", got.Email)
		assert.Equal(t, "$argon2id$digest", got.PasswordDigest)
		assert.True(t, got.ExpiresAt.Equal(clock.Now().Add(pendingTTL)))

		_, err = l.Consume(ctx, "alice@x.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("restage overwrites", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		require.NoError(t, l.Stage(ctx, reg))
		clock.Advance(8 * time.Minute)

		second := reg
		second.Username = "alice2"
		require.NoError(t, l.Stage(ctx, second))

		// The first staging's deadline has passed; the second's has not.
		clock.Advance(5 * time.Minute)
		got, err := l.Consume(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.Equal(t, "alice2", got.Username)
	})

	t.Run("expired", func(t *testing.T) {
		clock := newFakeClock()
		l := newLedger(t, clock)

		require.NoError(t, l.Stage(ctx, reg))
		clock.Advance(pendingTTL + time.Minute)

		ok, err := l.Exists(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = l.Consume(ctx, "alice@x.com")
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("exists", func(t *testing.T) {
		l := newLedger(t, newFakeClock())

		ok, err := l.Exists(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, l.Stage(ctx, reg))
		ok, err = l.Exists(ctx, "Alice@X.com")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent consume yields one winner", func(t *testing.T) {
		l := newLedger(t, newFakeClock())
		require.NoError(t, l.Stage(ctx, reg))

		var won atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Consume(ctx, "alice@x.com"); err == nil {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())
	})
}
