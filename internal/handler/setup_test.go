package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/ledger"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
	"github.com/notely/notely-go/internal/service"
)

type memUsers struct {
	mu   sync.Mutex
	rows []*model.User
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Email == u.Email {
			return repository.ErrDuplicateEmail
		}
		if row.Username == u.Username {
			return repository.ErrDuplicateUsername
		}
	}
	u.ID = int64(len(m.rows) + 1)
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.rows = append(m.rows, &cp)
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

type memSessions struct {
	mu   sync.Mutex
	rows map[string]model.Session
}

func (m *memSessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.TokenHash]; ok {
		return repository.ErrDuplicateToken
	}
	s.ID = int64(len(m.rows) + 1)
	m.rows[s.TokenHash] = *s
	return nil
}

func (m *memSessions) GetByTokenHash(_ context.Context, hash string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[hash]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessions) DeleteByTokenHash(_ context.Context, hash string) error {
	m.mu.Lock()
	delete(m.rows, hash)
	m.mu.Unlock()
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memNotes struct {
	mu   sync.Mutex
	rows []*model.Note
}

func (m *memNotes) Create(_ context.Context, n *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = int64(len(m.rows) + 1)
	n.CreatedAt = time.Now().UTC()
	n.ModifiedAt = n.CreatedAt
	cp := *n
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memNotes) lookup(userID, id int64) *model.Note {
	for _, n := range m.rows {
		if n.ID == id && n.UserID == userID {
			return n
		}
	}
	return nil
}

func (m *memNotes) GetByID(_ context.Context, userID, id int64) (*model.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(userID, id)
	if n == nil {
		return nil, repository.ErrNoteNotFound
	}
	cp := *n
	return &cp, nil
}

// List ignores filters; query parsing is covered separately.
func (m *memNotes) List(_ context.Context, userID int64, _ model.NoteQuery) ([]model.Note, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Note
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (m *memNotes) Update(_ context.Context, n *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.lookup(n.UserID, n.ID)
	if row == nil {
		return repository.ErrNoteNotFound
	}
	row.Title, row.Content, row.Categories = n.Title, n.Content, n.Categories
	return nil
}

func (m *memNotes) TogglePin(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.lookup(userID, id)
	if row == nil {
		return repository.ErrNoteNotFound
	}
	row.IsPinned = !row.IsPinned
	return nil
}

func (m *memNotes) Delete(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.rows {
		if n.ID == id && n.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNoteNotFound
}

type outbox struct {
	mu     sync.Mutex
	bodies []string
}

func (o *outbox) Send(_ context.Context, _, _, body string) error {
	o.mu.Lock()
	o.bodies = append(o.bodies, body)
	o.mu.Unlock()
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.bodies)
}

var codePattern = regexp.MustCompile(`Your OTP is: (\S+)\.`)

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.bodies, "no email sent")
	m := codePattern.FindStringSubmatch(o.bodies[len(o.bodies)-1])
	require.NotNil(t, m)
	return m[1]
}

type testServer struct {
	handler  http.Handler
	users    *memUsers
	sessions *memSessions
	mail     *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ts := &testServer{
		users:    &memUsers{},
		sessions: &memSessions{rows: make(map[string]model.Session)},
		mail:     &outbox{},
	}
	hasher := crypto.NewArgon2Hasher(crypto.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	tokens := crypto.NewTokenIssuer("test-secret", time.Hour)

	reg := service.NewRegistrationService(ts.users,
		ledger.NewMemoryOTP(5*time.Minute), ledger.NewMemoryPending(10*time.Minute),
		ts.mail, hasher, 5*time.Minute)
	auth := service.NewAuthService(ts.users, ts.sessions, hasher, tokens, 7*24*time.Hour)

	ts.handler = NewRouter(ctx, Deps{
		Auth:     NewAuthHandler(reg, auth, true),
		Notes:    NewNoteHandler(service.NewNoteService(&memNotes{})),
		Tokens:   tokens,
		Sessions: ts.sessions,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body %q", rec.Body.String())
	return v
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session_token" {
			return c
		}
	}
	return nil
}

// signUp registers and verifies an account.
func (ts *testServer) signUp(t *testing.T, username, email, password string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/register", map[string]string{"username": username, "email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": email, "otp": ts.mail.lastCode(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (ts *testServer) login(t *testing.T, email, password string, remember bool) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/auth/login", map[string]any{"email": email, "password": password, "rememberMe": remember})
}
