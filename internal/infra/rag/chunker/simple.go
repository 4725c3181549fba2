// Package chunker splits document text into overlapping windows.
//
// The sliding-window approach (fixed size with an overlap trimmed off
// the step) follows the same shape as the PDF processor's character
// chunker in the niski84-the-hive reference pack, adapted to track
// explicit [start,end) offsets per window.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

const (
	DefaultChunkSize = 512
	DefaultOverlap   = 100
)

// SlidingWindow implements rag.Chunker with character-based windows.
// Each window is additionally stamped with a cl100k_base token count,
// so downstream callers (chunk budgeting, prompt assembly) can reason
// about LLM context cost without re-tokenizing stored text.
type SlidingWindow struct {
	chunkSize int
	overlap   int
	encoder   *tiktoken.Tiktoken
}

// New constructs a SlidingWindow chunker. A non-positive chunkSize falls
// back to DefaultChunkSize and a negative overlap becomes 0; an overlap
// >= chunkSize is clamped so the step is always forward-progressing. If the cl100k_base encoding can't be
// loaded, TokenCount falls back to a whitespace word count.
func New(chunkSize, overlap int) *SlidingWindow {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &SlidingWindow{chunkSize: chunkSize, overlap: overlap, encoder: enc}
}

func (s *SlidingWindow) countTokens(text string) int {
	if s.encoder != nil {
		return len(s.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// Chunk produces contiguous, offset-tracked windows over text. Empty
// input yields zero chunks. The step between windows is always at
// least 1 character, guaranteeing termination regardless of how large
// overlap is relative to chunkSize.
func (s *SlidingWindow) Chunk(text string) []rag.ChunkCandidate {
	if len(text) == 0 {
		return nil
	}

	step := s.chunkSize - s.overlap
	if step < 1 {
		step = 1
	}

	var chunks []rag.ChunkCandidate
	index := 0
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunkText := text[start:end]
		chunks = append(chunks, rag.ChunkCandidate{
			Text:        chunkText,
			ChunkIndex:  index,
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  s.countTokens(chunkText),
		})
		index++
		if end == len(text) {
			break
		}
	}
	return chunks
}
