package indexer

import (
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Chunker splits section text into fixed-width overlapping windows at
// rune granularity.
type Chunker struct {
	window  int
	overlap int
}

// NewChunker builds a chunker with the given window geometry. The
// overlap must satisfy 0 < overlap < window so every step advances.
func NewChunker(window, overlap int) (*Chunker, error) {
	if window <= 0 {
		return nil, domain.Newf(domain.KindValidation,
			"chunk window must be positive, got %d", window)
	}
	if overlap <= 0 || overlap >= window {
		return nil, domain.Newf(domain.KindValidation,
			"chunk overlap must satisfy 0 < overlap < window, got overlap=%d window=%d",
			overlap, window)
	}
	return &Chunker{window: window, overlap: overlap}, nil
}

// ChunkSections windows every section in order and assigns chunk indices
// that are global to the file, dense from 0 in emission order. Chunks
// inherit the section's page and type so retrieval hits can cite their
// origin.
func (c *Chunker) ChunkSections(fileID int64, fileName string, sections []domain.FileSection) []domain.Chunk {
	var out []domain.Chunk
	index := 0
	for _, sec := range sections {
		for _, text := range c.split(sec.Text) {
			out = append(out, domain.Chunk{
				FileID:      fileID,
				Index:       index,
				Text:        text,
				PageNumber:  sec.PageStart,
				SectionType: sec.Type,
				FileName:    fileName,
			})
			index++
		}
	}
	return out
}

// split windows one section's text. Whitespace-only text yields nothing.
// The loop only advances while the previous window ended short of the
// text, so the final window always carries more than the overlap.
func (c *Chunker) split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.window {
		return []string{text}
	}

	step := c.window - c.overlap
	var parts []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.window, len(runes))
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return parts
}
