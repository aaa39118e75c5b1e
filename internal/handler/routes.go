package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/notely/notely-go/internal/middleware"
)

// Per-IP limits for the unauthenticated auth endpoints.
const (
	authRateLimit = 5
	authRateBurst = 10
)

// Deps is everything the router needs.
type Deps struct {
	Auth     *AuthHandler
	Notes    *NoteHandler
	Tokens   middleware.TokenVerifier
	Sessions middleware.SessionLookup
}

// NewRouter builds the HTTP API. ctx bounds background work started by the
// middleware, such as rate-limiter cleanup.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	gate := middleware.Gate(d.Tokens, d.Sessions, nil)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(ctx, authRateLimit, authRateBurst))
			r.Post("/register", d.Auth.HandleRegister)
			r.Post("/send-otp", d.Auth.HandleSendOTP)
			r.Post("/verify-otp", d.Auth.HandleVerifyOTP)
			r.Post("/login", d.Auth.HandleLogin)
		})

		r.Post("/logout", d.Auth.HandleLogout)
		r.With(gate).Get("/me", d.Auth.HandleMe)
	})

	r.Route("/notes", func(r chi.Router) {
		r.Use(gate)
		r.Post("/", d.Notes.HandleCreate)
		r.Get("/", d.Notes.HandleList)
		r.Put("/{id}", d.Notes.HandleUpdate)
		r.Delete("/{id}", d.Notes.HandleDelete)
		r.Patch("/{id}/pin", d.Notes.HandleTogglePin)
	})

	return r
}
