package indexer

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// reasonUnsupportedMedia is the short reason recorded on a file row when
// no extractor can read its payload.
const reasonUnsupportedMedia = "unsupported_media"

// defaultPageChars approximates one printed page of prose.
const defaultPageChars = 3000

// SectionExtractor turns an uploaded file's raw bytes into ordered
// sections ready for chunking.
type SectionExtractor interface {
	Extract(filename string, data []byte) ([]domain.FileSection, error)
}

// NaiveExtractor reads plain-text and markdown uploads, grouping
// paragraphs into page-sized sections with synthetic page numbers.
// Binary formats need a pre-extracted sections payload instead; they
// fail here with reason unsupported_media.
type NaiveExtractor struct {
	pageChars int
}

// NewNaiveExtractor builds an extractor targeting pageChars runes per
// section. Non-positive values use the default.
func NewNaiveExtractor(pageChars int) *NaiveExtractor {
	if pageChars <= 0 {
		pageChars = defaultPageChars
	}
	return &NaiveExtractor{pageChars: pageChars}
}

// Extract splits the upload into sections. The section type is "text"
// or "markdown" by file extension.
func (e *NaiveExtractor) Extract(filename string, data []byte) ([]domain.FileSection, error) {
	secType, ok := sectionTypeFor(filename)
	if !ok {
		return nil, domain.New(domain.KindValidation, reasonUnsupportedMedia)
	}
	if !utf8.Valid(data) {
		return nil, domain.New(domain.KindValidation, reasonUnsupportedMedia)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, domain.New(domain.KindValidation, "file contains no text")
	}

	var sections []domain.FileSection
	page := 1
	var buf strings.Builder
	flush := func() {
		body := strings.TrimSpace(buf.String())
		buf.Reset()
		if body == "" {
			return
		}
		sections = append(sections, domain.FileSection{
			Index:     len(sections),
			PageStart: page,
			PageEnd:   page,
			Type:      secType,
			Text:      body,
		})
		page++
	}

	for _, para := range splitParagraphs(text) {
		if buf.Len() > 0 && utf8.RuneCountInString(buf.String())+utf8.RuneCountInString(para) > e.pageChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()
	return sections, nil
}

func sectionTypeFor(filename string) (string, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "markdown", true
	case ".txt", ".text", ".log", "":
		return "text", true
	default:
		return "", false
	}
}

// splitParagraphs breaks text on blank lines, normalizing line endings.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sectionPayload is the wire form of one pre-extracted section, as
// supplied in the multipart "sections" part of an upload. It is how an
// external extraction service hands over formats the naive extractor
// cannot read.
type sectionPayload struct {
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Type      string `json:"type"`
	Text      string `json:"text"`
}

// ParseSectionsJSON decodes a client-supplied sections document. Both a
// bare array and a {"sections": [...]} wrapper are accepted. Section
// indices are assigned from position; missing pages and types get
// defaults.
func ParseSectionsJSON(data []byte) ([]domain.FileSection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.New(domain.KindValidation, "sections payload is empty")
	}

	var payload []sectionPayload
	if trimmed[0] == '{' {
		var wrapper struct {
			Sections []sectionPayload `json:"sections"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, domain.Wrap(domain.KindValidation, "malformed sections payload", err)
		}
		payload = wrapper.Sections
	} else {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, domain.Wrap(domain.KindValidation, "malformed sections payload", err)
		}
	}
	if len(payload) == 0 {
		return nil, domain.New(domain.KindValidation, "sections payload has no sections")
	}

	sections := make([]domain.FileSection, 0, len(payload))
	for i, p := range payload {
		if strings.TrimSpace(p.Text) == "" {
			return nil, domain.Newf(domain.KindValidation, "section %d has no text", i)
		}
		if p.PageStart <= 0 {
			p.PageStart = i + 1
		}
		if p.PageEnd < p.PageStart {
			p.PageEnd = p.PageStart
		}
		if p.Type == "" {
			p.Type = "text"
		}
		sections = append(sections, domain.FileSection{
			Index:     i,
			PageStart: p.PageStart,
			PageEnd:   p.PageEnd,
			Type:      p.Type,
			Text:      p.Text,
		})
	}
	return sections, nil
}
