package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON strips markdown code fences (if present) and returns the
// raw JSON payload a model response is expected to contain.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return text
}

// parseStructured decodes a chat response as JSON, tolerating markdown
// fences. On any parse failure it returns fallback instead of an error:
// derived-artifact generation must never raise on malformed model output.
func parseStructured(text string, fallback map[string]any) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return fallback
	}
	return out
}

// GenerateQuiz prompts for a structured quiz and tolerantly parses it.
func (c *Client) GenerateQuiz(ctx context.Context, sourceText string, numQuestions int, difficulty string) (map[string]any, error) {
	if numQuestions <= 0 {
		numQuestions = 10
	}
	if difficulty == "" {
		difficulty = "medium"
	}
	prompt := fmt.Sprintf(
		"Create a %d-question %s quiz grounded strictly in the material below. "+
			"Respond with JSON only: {\"questions\":[{\"question\":string,\"options\":[string],\"answer\":string}]}.\n\nMATERIAL:\n%s",
		numQuestions, difficulty, sourceText,
	)
	text, err := c.GenerateChat(ctx, []rag.ChatMessage{{Role: "user", Content: prompt}}, rag.ChatOptions{Temperature: 0.5})
	if err != nil {
		return nil, err
	}
	return parseStructured(text, map[string]any{"questions": []any{}}), nil
}

// GenerateSummary prompts for a structured summary.
func (c *Client) GenerateSummary(ctx context.Context, sourceText string) (map[string]any, error) {
	prompt := "Summarize the material below. Respond with JSON only: " +
		"{\"summary\":string,\"key_points\":[string]}.\n\nMATERIAL:\n" + sourceText
	text, err := c.GenerateChat(ctx, []rag.ChatMessage{{Role: "user", Content: prompt}}, rag.ChatOptions{Temperature: 0.3})
	if err != nil {
		return nil, err
	}
	return parseStructured(text, map[string]any{"summary": "", "key_points": []any{}}), nil
}

// GenerateStudyGuide prompts for a structured study guide.
func (c *Client) GenerateStudyGuide(ctx context.Context, sourceText string) (map[string]any, error) {
	prompt := "Build a study guide for the material below. Respond with JSON only: " +
		"{\"sections\":[{\"title\":string,\"content\":string}]}.\n\nMATERIAL:\n" + sourceText
	text, err := c.GenerateChat(ctx, []rag.ChatMessage{{Role: "user", Content: prompt}}, rag.ChatOptions{Temperature: 0.4})
	if err != nil {
		return nil, err
	}
	return parseStructured(text, map[string]any{"sections": []any{}}), nil
}

// GenerateMindmap prompts for a structured mindmap in the requested format.
func (c *Client) GenerateMindmap(ctx context.Context, sourceText string, format string) (map[string]any, error) {
	if format == "" {
		format = "json"
	}
	prompt := fmt.Sprintf(
		"Build a mindmap (format=%s) for the material below. Respond with JSON only: "+
			"{\"root\":string,\"children\":[{\"label\":string,\"children\":[]}]}.\n\nMATERIAL:\n%s",
		format, sourceText,
	)
	text, err := c.GenerateChat(ctx, []rag.ChatMessage{{Role: "user", Content: prompt}}, rag.ChatOptions{Temperature: 0.4})
	if err != nil {
		return nil, err
	}
	return parseStructured(text, map[string]any{"root": "", "children": []any{}}), nil
}
