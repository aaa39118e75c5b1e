package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/ledger"
	"github.com/notely/notely-go/internal/mailer"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
)

var testHashParams = crypto.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memUsers enforces username and email uniqueness the way the schema does.
type memUsers struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.User
	err    error
}

func newMemUsers() *memUsers {
	return &memUsers{rows: make(map[int64]*model.User)}
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, row := range m.rows {
		if row.Email == u.Email {
			return repository.ErrDuplicateEmail
		}
		if row.Username == u.Username {
			return repository.ErrDuplicateUsername
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.rows[u.ID] = &cp
	return nil
}

func (m *memUsers) find(match func(*model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if match(row) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username })
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memSessions struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[string]*model.Session
	createErr []error
}

func newMemSessions() *memSessions {
	return &memSessions{rows: make(map[string]*model.Session)}
}

func (m *memSessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		return err
	}
	if _, ok := m.rows[s.TokenHash]; ok {
		return repository.ErrDuplicateToken
	}
	m.nextID++
	s.ID = m.nextID
	cp := *s
	m.rows[s.TokenHash] = &cp
	return nil
}

func (m *memSessions) GetByTokenHash(_ context.Context, hash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[hash]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) DeleteByTokenHash(_ context.Context, hash string) error {
	m.mu.Lock()
	delete(m.rows, hash)
	m.mu.Unlock()
	return nil
}

func (m *memSessions) all() []model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, *s)
	}
	return out
}

type sentMail struct {
	To, Subject, Body string
}

// recordingMailer keeps every message; fail makes the next sends error.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (r *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("%w: connection refused", mailer.ErrDelivery)
	}
	r.sent = append(r.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

var otpPattern = regexp.MustCompile(`Your OTP is: (\S+)\.`)

// lastCode extracts the code from the most recent email.
func (r *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no email was sent")
	}
	m := otpPattern.FindStringSubmatch(r.sent[len(r.sent)-1].Body)
	if m == nil {
		t.Fatalf("no code in body %q", r.sent[len(r.sent)-1].Body)
	}
	return m[1]
}

type memNotes struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Note
}

func newMemNotes() *memNotes {
	return &memNotes{rows: make(map[int64]*model.Note)}
}

func (m *memNotes) Create(_ context.Context, n *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now().UTC()
	n.ModifiedAt = n.CreatedAt
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memNotes) GetByID(_ context.Context, userID, id int64) (*model.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return nil, repository.ErrNoteNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memNotes) List(_ context.Context, userID int64, q model.NoteQuery) ([]model.Note, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Note
	for _, n := range m.rows {
		if n.UserID != userID {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(n.Title+" "+n.Content), strings.ToLower(q.Search)) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	start := min(q.Offset(), total)
	end := min(start+q.Limit, total)
	return out[start:end], total, nil
}

func (m *memNotes) Update(_ context.Context, n *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[n.ID]
	if !ok || row.UserID != n.UserID {
		return repository.ErrNoteNotFound
	}
	row.Title, row.Content, row.Categories = n.Title, n.Content, n.Categories
	row.ModifiedAt = time.Now().UTC()
	return nil
}

func (m *memNotes) TogglePin(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return repository.ErrNoteNotFound
	}
	row.IsPinned = !row.IsPinned
	return nil
}

func (m *memNotes) Delete(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return repository.ErrNoteNotFound
	}
	delete(m.rows, id)
	return nil
}

// harness wires the services to in-memory collaborators sharing one clock.
type harness struct {
	clock    *testClock
	users    *memUsers
	sessions *memSessions
	mail     *recordingMailer
	otps     *ledger.MemoryOTP
	pending  *ledger.MemoryPending
	hasher   *crypto.Argon2Hasher
	reg      *RegistrationService
	auth     *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newTestClock(),
		users:    newMemUsers(),
		sessions: newMemSessions(),
		mail:     &recordingMailer{},
		hasher:   crypto.NewArgon2Hasher(testHashParams),
	}
	h.otps = ledger.NewMemoryOTP(5*time.Minute, ledger.WithClock(h.clock.Now))
	h.pending = ledger.NewMemoryPending(10*time.Minute, ledger.WithClock(h.clock.Now))
	h.reg = NewRegistrationService(h.users, h.otps, h.pending, h.mail, h.hasher, 5*time.Minute)
	h.auth = NewAuthService(h.users, h.sessions, h.hasher, crypto.NewTokenIssuer("test-secret", time.Hour), 7*24*time.Hour)
	h.auth.now = h.clock.Now
	return h
}

// failingOTP wraps an OTP ledger and fails Discard.
type failingOTP struct {
	ledger.OTPLedger
}

func (failingOTP) Discard(context.Context, string) error {
	return errors.New("redis down")
}
