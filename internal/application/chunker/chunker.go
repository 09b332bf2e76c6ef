package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Heading-style section boundaries: "Section 3.2", "Article 5",
// "Chapter 2", or bare numeric headers like "4.1 Reporting".
var (
	sectionLine  = regexp.MustCompile(`(?i)^(?:section|article|chapter|\d+\.?\d*)\s+\S.*$`)
	headingLabel = regexp.MustCompile(`(?im)^(?:Section|Article|Chapter|\d+\.?\d*)\s+([^\n:]+)`)
)

// Chunker splits policy documents into retrievable units.
type Chunker struct {
	ChunkSize    int // tokens per window
	ChunkOverlap int // tokens shared between adjacent windows
	MinChunkLen  int // trailing fragments under this many chars are dropped
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 600
	}
	if overlap < 0 || overlap >= size {
		overlap = 100
	}
	return &Chunker{ChunkSize: size, ChunkOverlap: overlap, MinChunkLen: 50}
}

type section struct {
	title string
	body  string
}

// Chunk produces the ordered chunk set for a document: section order, then
// in-section window order. Ordering is stable so audit replay is
// deterministic.
func (c *Chunker) Chunk(doc policy.Document) ([]policy.Chunk, error) {
	if !utf8.ValidString(doc.Content) {
		return nil, &compliance.ExtractionError{Kind: "text", Reason: "content is not valid UTF-8"}
	}

	sections := detectSections(doc.Content)
	if len(sections) == 0 {
		sections = []section{{body: doc.Content}}
	}

	var chunks []policy.Chunk
	index := 0
	for _, sec := range sections {
		words := strings.Fields(sec.body)
		start := 0
		for start < len(words) {
			end := start + c.ChunkSize
			if end > len(words) {
				end = len(words)
			}
			text := strings.Join(words[start:end], " ")
			if len(strings.TrimSpace(text)) < c.MinChunkLen {
				break
			}
			chunks = append(chunks, policy.Chunk{
				ChunkID:   fmt.Sprintf("%s_chunk_%d", doc.DocID, index),
				DocID:     doc.DocID,
				Text:      text,
				DocTitle:  doc.Title,
				Section:   sec.title,
				Source:    doc.Source,
				Topic:     doc.Topic,
				Version:   doc.Version,
				ValidFrom: doc.ValidFrom,
				ValidTo:   doc.ValidTo,
				IsActive:  doc.IsActive,
			})
			index++
			start += c.ChunkSize - c.ChunkOverlap
		}
	}
	return chunks, nil
}

// detectSections splits text on heading-style lines. The heading line
// becomes the section title; text before the first heading (if any) is
// dropped into an untitled leading section.
func detectSections(text string) []section {
	var sections []section
	var current *section
	var buf []string

	flush := func() {
		if current != nil {
			current.body = strings.Join(buf, "\n")
			sections = append(sections, *current)
		} else if len(sections) == 0 && strings.TrimSpace(strings.Join(buf, "\n")) != "" {
			sections = append(sections, section{body: strings.Join(buf, "\n")})
		}
		buf = nil
	}

	foundHeading := false
	for _, line := range strings.Split(text, "\n") {
		if sectionLine.MatchString(strings.TrimSpace(line)) {
			flush()
			foundHeading = true
			current = &section{title: strings.TrimSpace(line)}
			continue
		}
		buf = append(buf, line)
	}
	flush()

	if !foundHeading {
		return nil
	}
	return sections
}

// ExtractHeadings returns the heading labels found in text. The sentinel
// uses the same structural pattern as chunking so section attribution
// stays consistent between ingestion and change detection.
func ExtractHeadings(text string) []string {
	matches := headingLabel.FindAllStringSubmatch(text, -1)
	headings := make([]string, 0, len(matches))
	for _, m := range matches {
		headings = append(headings, strings.TrimSpace(m[1]))
	}
	return headings
}
