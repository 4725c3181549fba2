package rag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/studyforge/notebook-api/pkg/errors"
)

// GenerationRequest scopes a derived-artifact request to a notebook and,
// optionally, a single source within it.
type GenerationRequest struct {
	NotebookID uuid.UUID
	SourceID   *uuid.UUID
	UserID     uuid.UUID
}

// QuizOptions parametrizes GenerateQuiz.
type QuizOptions struct {
	NumQuestions int
	Difficulty   string
}

// MindmapOptions parametrizes GenerateMindmap.
type MindmapOptions struct {
	Format string
}

// GenerateSummary produces and audits a notebook- or source-scoped summary.
func (s *Service) GenerateSummary(ctx context.Context, req GenerationRequest) (*GenerationHistory, error) {
	text, err := s.sourceTextForGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.llm.GenerateSummary(ctx, text)
	if err != nil {
		return nil, apperrors.External("summary generation failed", err)
	}
	return s.recordGeneration(ctx, req, GenerationSummary, result)
}

// GenerateQuiz produces and audits a quiz of the requested size/difficulty.
func (s *Service) GenerateQuiz(ctx context.Context, req GenerationRequest, opts QuizOptions) (*GenerationHistory, error) {
	if !validQuizSize(opts.NumQuestions) {
		return nil, apperrors.Validation("num_questions must be one of 10,20,30,40,50", nil)
	}
	text, err := s.sourceTextForGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.llm.GenerateQuiz(ctx, text, opts.NumQuestions, opts.Difficulty)
	if err != nil {
		return nil, apperrors.External("quiz generation failed", err)
	}
	return s.recordGeneration(ctx, req, GenerationQuiz, result)
}

// GenerateStudyGuide produces and audits a study guide.
func (s *Service) GenerateStudyGuide(ctx context.Context, req GenerationRequest) (*GenerationHistory, error) {
	text, err := s.sourceTextForGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.llm.GenerateStudyGuide(ctx, text)
	if err != nil {
		return nil, apperrors.External("study guide generation failed", err)
	}
	return s.recordGeneration(ctx, req, GenerationStudyGuide, result)
}

// GenerateMindmap produces and audits a mindmap in the requested format.
func (s *Service) GenerateMindmap(ctx context.Context, req GenerationRequest, opts MindmapOptions) (*GenerationHistory, error) {
	if !validMindmapFormat(opts.Format) {
		return nil, apperrors.Validation("format must be one of json,mermaid,markdown", nil)
	}
	text, err := s.sourceTextForGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.llm.GenerateMindmap(ctx, text, opts.Format)
	if err != nil {
		return nil, apperrors.External("mindmap generation failed", err)
	}
	return s.recordGeneration(ctx, req, GenerationMindmap, result)
}

// GenerateMindmapFromText produces a mindmap directly from caller-supplied
// text, bypassing notebook/source grounding entirely.
func (s *Service) GenerateMindmapFromText(ctx context.Context, text, format string) (map[string]any, error) {
	if text == "" {
		return nil, apperrors.Validation("text is required", nil)
	}
	if !validMindmapFormat(format) {
		return nil, apperrors.Validation("format must be one of json,mermaid,markdown", nil)
	}
	result, err := s.llm.GenerateMindmap(ctx, text, format)
	if err != nil {
		return nil, apperrors.External("mindmap generation failed", err)
	}
	return result, nil
}

// sourceTextForGeneration concatenates the chunk text available for the
// request's scope (a single source, or every completed source in the
// notebook), used as the prompt grounding for derived artifacts.
func (s *Service) sourceTextForGeneration(ctx context.Context, req GenerationRequest) (string, error) {
	notebook, err := s.notebooks.Get(ctx, req.NotebookID, false)
	if err != nil {
		return "", apperrors.Internal("failed to load notebook", err)
	}
	if notebook == nil {
		return "", apperrors.NotFound("notebook not found")
	}

	sources, err := s.sources.ListByNotebook(ctx, req.NotebookID)
	if err != nil {
		return "", apperrors.Internal("failed to list sources", err)
	}

	var text string
	for _, src := range sources {
		if src.Status != SourceStatusCompleted {
			continue
		}
		if req.SourceID != nil && src.ID != *req.SourceID {
			continue
		}
		chunks, err := s.chunks.ListBySource(ctx, src.ID)
		if err != nil {
			continue
		}
		for _, c := range chunks {
			text += c.PlainText + "\n"
		}
	}
	if text == "" {
		return "", apperrors.Validation("no completed source content available for generation", nil)
	}
	return text, nil
}

func (s *Service) recordGeneration(ctx context.Context, req GenerationRequest, kind GenerationKind, content map[string]any) (*GenerationHistory, error) {
	version, err := s.history.NextVersion(ctx, req.NotebookID, kind)
	if err != nil {
		return nil, apperrors.Internal("failed to allocate generation version", err)
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, apperrors.Internal("failed to encode generation content", err)
	}
	h := &GenerationHistory{
		ID:         uuid.New(),
		NotebookID: req.NotebookID,
		UserID:     req.UserID,
		Kind:       kind,
		Version:    version,
		Content:    string(payload),
		Preview:    previewOf(string(payload), 240),
		CreatedAt:  time.Now(),
	}
	if err := s.history.Create(ctx, h); err != nil {
		return nil, apperrors.Internal("failed to persist generation history", err)
	}
	return h, nil
}

func previewOf(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func validQuizSize(n int) bool {
	switch n {
	case 10, 20, 30, 40, 50:
		return true
	default:
		return false
	}
}

func validMindmapFormat(f string) bool {
	switch f {
	case "json", "mermaid", "markdown":
		return true
	default:
		return false
	}
}
