package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notely/notely-go/internal/model"
)

var ErrNoteNotFound = errors.New("note not found")

const noteColumns = `id, user_id, title, content, categories, is_pinned, created_at, modified_at`

// NoteRepository handles note persistence. Every query is scoped to a user.
type NoteRepository struct {
	db *sql.DB
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Create inserts a note and fills in its ID and timestamps.
func (r *NoteRepository) Create(ctx context.Context, note *model.Note) error {
	cats, err := encodeCategories(note.Categories)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (user_id, title, content, categories, is_pinned, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		note.UserID, note.Title, note.Content, cats, note.IsPinned, now, now,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	note.ID = id
	note.CreatedAt = now
	note.ModifiedAt = now
	return nil
}

// GetByID retrieves one of the user's notes.
func (r *NoteRepository) GetByID(ctx context.Context, userID, id int64) (*model.Note, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, id, userID)

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return note, nil
}

// List returns one page of the user's notes matching q and the total number
// of matches. q must already be normalised.
func (r *NoteRepository) List(ctx context.Context, userID int64, q model.NoteQuery) ([]model.Note, int, error) {
	where, args := noteFilter(userID, q)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM notes WHERE %s ORDER BY %s LIMIT ? OFFSET ?`, noteColumns, where, noteOrder(q))
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		notes = append(notes, *n)
	}
	return notes, total, rows.Err()
}

// Update replaces the title, content and categories of one of the user's notes.
func (r *NoteRepository) Update(ctx context.Context, note *model.Note) error {
	cats, err := encodeCategories(note.Categories)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	result, err := r.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, categories = ?, modified_at = ? WHERE id = ? AND user_id = ?`,
		note.Title, note.Content, cats, now, note.ID, note.UserID,
	)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	note.ModifiedAt = now
	return nil
}

// TogglePin flips the pinned flag of one of the user's notes.
func (r *NoteRepository) TogglePin(ctx context.Context, userID, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notes SET is_pinned = NOT is_pinned WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Delete removes one of the user's notes.
func (r *NoteRepository) Delete(ctx context.Context, userID, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func noteFilter(userID int64, q model.NoteQuery) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}

	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		clauses = append(clauses, "(title LIKE ? OR content LIKE ?)")
		args = append(args, pattern, pattern)
	}
	for _, c := range q.Categories {
		clauses = append(clauses, "JSON_CONTAINS(categories, JSON_QUOTE(?))")
		args = append(args, c)
	}
	return strings.Join(clauses, " AND "), args
}

// noteOrder trusts q.SortBy because NoteQuery.Normalize restricts it to
// model.NoteSortColumns.
func noteOrder(q model.NoteQuery) string {
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	if q.SortBy == "created_at" {
		return "created_at " + dir + ", id " + dir
	}
	return q.SortBy + " " + dir + ", created_at DESC"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*model.Note, error) {
	var (
		n    model.Note
		cats []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &cats, &n.IsPinned, &n.CreatedAt, &n.ModifiedAt); err != nil {
		return nil, err
	}
	if len(cats) > 0 {
		if err := json.Unmarshal(cats, &n.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories of note %d: %w", n.ID, err)
		}
	}
	return &n, nil
}

func encodeCategories(cats []string) (string, error) {
	if cats == nil {
		cats = []string{}
	}
	b, err := json.Marshal(cats)
	if err != nil {
		return "", fmt.Errorf("encoding categories: %w", err)
	}
	return string(b), nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoteNotFound
	}
	return nil
}
