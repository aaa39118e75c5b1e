package model

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Note represents a user's note in the database.
type Note struct {
	ID         int64
	UserID     int64
	Title      string
	Content    string
	Categories []string
	IsPinned   bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// NoteRequest is the body for creating or replacing a note.
type NoteRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Categories []string `json:"categories"`
}

func (r NoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Content, validation.Length(0, 65535)),
		validation.Field(&r.Categories, validation.Length(0, 20), validation.By(categoryNames)),
	)
}

func categoryNames(value interface{}) error {
	cats, _ := value.([]string)
	for _, c := range cats {
		if n := len(strings.TrimSpace(c)); n == 0 || n > 50 {
			return errors.New("each category must be 1 to 50 characters")
		}
	}
	return nil
}

// NormalizedCategories lower-cases, trims and de-duplicates categories.
func NormalizedCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Sortable note columns; anything else falls back to created_at.
var NoteSortColumns = map[string]bool{
	"created_at":  true,
	"modified_at": true,
	"title":       true,
	"is_pinned":   true,
}

const (
	DefaultNoteLimit = 10
	MaxNoteLimit     = 100
)

// NoteQuery filters, orders and paginates a user's notes.
type NoteQuery struct {
	Search     string
	Categories []string
	SortBy     string
	SortDesc   bool
	Page       int
	Limit      int
}

// Normalize clamps the query to supported values.
func (q NoteQuery) Normalize() NoteQuery {
	q.Search = strings.TrimSpace(q.Search)
	q.Categories = NormalizedCategories(q.Categories)
	if !NoteSortColumns[q.SortBy] {
		q.SortBy = "created_at"
		q.SortDesc = true
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultNoteLimit
	}
	if q.Limit > MaxNoteLimit {
		q.Limit = MaxNoteLimit
	}
	return q
}

// Offset is the row offset for the query's page.
func (q NoteQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// NoteResponse represents a note in API responses.
type NoteResponse struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Categories []string  `json:"categories"`
	IsPinned   bool      `json:"is_pinned"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NoteListResponse is one page of notes plus the unpaginated match count.
type NoteListResponse struct {
	Notes []NoteResponse `json:"notes"`
	Total int            `json:"total"`
}

func (n *Note) Response() NoteResponse {
	cats := n.Categories
	if cats == nil {
		cats = []string{}
	}
	return NoteResponse{
		ID:         n.ID,
		Title:      n.Title,
		Content:    n.Content,
		Categories: cats,
		IsPinned:   n.IsPinned,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
	}
}
