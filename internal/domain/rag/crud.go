package rag

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/studyforge/notebook-api/pkg/errors"
)

// NotebookInput carries the mutable fields of a Notebook CRUD request.
type NotebookInput struct {
	Title            string
	Description      *string
	Language         string
	Tone             string
	MaxContextTokens int
}

// CreateNotebook creates a new notebook owned by ownerID.
func (s *Service) CreateNotebook(ctx context.Context, ownerID uuid.UUID, in NotebookInput) (*Notebook, error) {
	if in.Title == "" {
		return nil, apperrors.Validation("title is required", nil)
	}
	now := time.Now()
	n := &Notebook{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		Title:            in.Title,
		Description:      in.Description,
		Language:         firstNonEmpty(in.Language, "en"),
		Tone:             firstNonEmpty(in.Tone, "neutral"),
		MaxContextTokens: in.MaxContextTokens,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.notebooks.Create(ctx, n); err != nil {
		return nil, apperrors.Internal("failed to create notebook", err)
	}
	return n, nil
}

// GetNotebook loads a notebook, enforcing tenant ownership.
func (s *Service) GetNotebook(ctx context.Context, ownerID, notebookID uuid.UUID) (*Notebook, error) {
	n, err := s.notebooks.Get(ctx, notebookID, false)
	if err != nil {
		return nil, apperrors.Internal("failed to load notebook", err)
	}
	if n == nil || n.OwnerID != ownerID {
		return nil, apperrors.NotFound("notebook not found")
	}
	return n, nil
}

// ListNotebooks returns all notebooks owned by ownerID.
func (s *Service) ListNotebooks(ctx context.Context, ownerID uuid.UUID) ([]Notebook, error) {
	notebooks, err := s.notebooks.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Internal("failed to list notebooks", err)
	}
	return notebooks, nil
}

// UpdateNotebook applies in to an existing, owned notebook.
func (s *Service) UpdateNotebook(ctx context.Context, ownerID, notebookID uuid.UUID, in NotebookInput) (*Notebook, error) {
	n, err := s.GetNotebook(ctx, ownerID, notebookID)
	if err != nil {
		return nil, err
	}
	if in.Title != "" {
		n.Title = in.Title
	}
	if in.Description != nil {
		n.Description = in.Description
	}
	if in.Language != "" {
		n.Language = in.Language
	}
	if in.Tone != "" {
		n.Tone = in.Tone
	}
	if in.MaxContextTokens > 0 {
		n.MaxContextTokens = in.MaxContextTokens
	}
	n.UpdatedAt = time.Now()
	if err := s.notebooks.Update(ctx, n); err != nil {
		return nil, apperrors.Internal("failed to update notebook", err)
	}
	return n, nil
}

// DeleteNotebook soft-deletes an owned notebook.
func (s *Service) DeleteNotebook(ctx context.Context, ownerID, notebookID uuid.UUID) error {
	if _, err := s.GetNotebook(ctx, ownerID, notebookID); err != nil {
		return err
	}
	if err := s.notebooks.SoftDelete(ctx, notebookID); err != nil {
		return apperrors.Internal("failed to delete notebook", err)
	}
	return nil
}

// RestoreNotebook reverses a soft-delete for an owned notebook.
func (s *Service) RestoreNotebook(ctx context.Context, ownerID, notebookID uuid.UUID) (*Notebook, error) {
	n, err := s.notebooks.Get(ctx, notebookID, true)
	if err != nil {
		return nil, apperrors.Internal("failed to load notebook", err)
	}
	if n == nil || n.OwnerID != ownerID {
		return nil, apperrors.NotFound("notebook not found")
	}
	if err := s.notebooks.Restore(ctx, notebookID); err != nil {
		return nil, apperrors.Internal("failed to restore notebook", err)
	}
	n.DeletedAt = nil
	return n, nil
}

// ListSources returns a notebook's ingested sources, enforcing ownership.
func (s *Service) ListSources(ctx context.Context, ownerID, notebookID uuid.UUID) ([]Source, error) {
	if _, err := s.GetNotebook(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	sources, err := s.sources.ListByNotebook(ctx, notebookID)
	if err != nil {
		return nil, apperrors.Internal("failed to list sources", err)
	}
	return sources, nil
}

// CreateConversation starts a new conversation thread for userID.
func (s *Service) CreateConversation(ctx context.Context, userID, notebookID uuid.UUID, title *string, mode ConversationMode, sourceID *uuid.UUID) (*Conversation, error) {
	if _, err := s.notebooks.Get(ctx, notebookID, false); err != nil {
		return nil, apperrors.Internal("failed to load notebook", err)
	}
	if mode == "" {
		mode = ModeChat
	}
	now := time.Now()
	c := &Conversation{
		ID:         uuid.New(),
		NotebookID: notebookID,
		UserID:     userID,
		Title:      title,
		Mode:       mode,
		SourceID:   sourceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, apperrors.Internal("failed to create conversation", err)
	}
	return c, nil
}

// GetConversation loads a conversation, enforcing ownership.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*Conversation, error) {
	c, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Internal("failed to load conversation", err)
	}
	if c == nil || c.UserID != userID {
		return nil, apperrors.NotFound("conversation not found")
	}
	return c, nil
}

// ListConversations returns a notebook's conversations for userID.
func (s *Service) ListConversations(ctx context.Context, userID, notebookID uuid.UUID) ([]Conversation, error) {
	all, err := s.conversations.ListByNotebook(ctx, notebookID)
	if err != nil {
		return nil, apperrors.Internal("failed to list conversations", err)
	}
	out := make([]Conversation, 0, len(all))
	for _, c := range all {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListMessages returns a conversation's message history for userID,
// capped at the HistoryLimit*100 most recent messages.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID uuid.UUID) ([]Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListRecent(ctx, conversationID, s.cfg.HistoryLimit*100)
	if err != nil {
		return nil, apperrors.Internal("failed to list messages", err)
	}
	return messages, nil
}
