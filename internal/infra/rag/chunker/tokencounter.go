package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// TiktokenCounter implements rag.TokenCounter over the same cl100k_base
// encoding SlidingWindow stamps chunks with, so context-budget checks
// at generation time agree with the counts persisted at ingestion time.
type TiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter constructs a TiktokenCounter. If the encoding can't
// be loaded, Count falls back to a whitespace word count.
func NewTokenCounter() *TiktokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &TiktokenCounter{encoder: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

var _ rag.TokenCounter = (*TiktokenCounter)(nil)
