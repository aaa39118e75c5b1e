package service

import (
	"context"
	"errors"
	"strings"

	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
)

// NoteService handles note business logic for an authenticated user.
type NoteService struct {
	repo NoteStore
}

// NewNoteService creates a new NoteService.
func NewNoteService(repo NoteStore) *NoteService {
	return &NoteService{repo: repo}
}

// Create stores a new note for a user.
func (s *NoteService) Create(ctx context.Context, userID int64, req model.NoteRequest) (model.NoteResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validate(req); err != nil {
		return model.NoteResponse{}, err
	}

	note := model.Note{
		UserID:     userID,
		Title:      req.Title,
		Content:    req.Content,
		Categories: model.NormalizedCategories(req.Categories),
	}
	if err := s.repo.Create(ctx, &note); err != nil {
		return model.NoteResponse{}, err
	}
	return note.Response(), nil
}

// List returns one page of the user's notes.
func (s *NoteService) List(ctx context.Context, userID int64, q model.NoteQuery) (model.NoteListResponse, error) {
	notes, total, err := s.repo.List(ctx, userID, q.Normalize())
	if err != nil {
		return model.NoteListResponse{}, err
	}
	return model.NoteListResponse{Notes: notesToResponse(notes), Total: total}, nil
}

// Update replaces a note's title, content and categories.
func (s *NoteService) Update(ctx context.Context, userID, id int64, req model.NoteRequest) (model.NoteResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validate(req); err != nil {
		return model.NoteResponse{}, err
	}

	note := model.Note{
		ID:         id,
		UserID:     userID,
		Title:      req.Title,
		Content:    req.Content,
		Categories: model.NormalizedCategories(req.Categories),
	}
	if err := s.repo.Update(ctx, &note); err != nil {
		return model.NoteResponse{}, noteErr(err)
	}
	return s.get(ctx, userID, id)
}

// TogglePin flips whether a note is pinned and returns the result.
func (s *NoteService) TogglePin(ctx context.Context, userID, id int64) (model.NoteResponse, error) {
	if err := s.repo.TogglePin(ctx, userID, id); err != nil {
		return model.NoteResponse{}, noteErr(err)
	}
	return s.get(ctx, userID, id)
}

// Delete removes a note.
func (s *NoteService) Delete(ctx context.Context, userID, id int64) error {
	return noteErr(s.repo.Delete(ctx, userID, id))
}

func (s *NoteService) get(ctx context.Context, userID, id int64) (model.NoteResponse, error) {
	note, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return model.NoteResponse{}, noteErr(err)
	}
	return note.Response(), nil
}

func noteErr(err error) error {
	if errors.Is(err, repository.ErrNoteNotFound) {
		return ErrNoteNotFound
	}
	return err
}

// notesToResponse never returns nil so an empty page encodes as [].
func notesToResponse(notes []model.Note) []model.NoteResponse {
	result := make([]model.NoteResponse, 0, len(notes))
	for i := range notes {
		result = append(result, notes[i].Response())
	}
	return result
}
