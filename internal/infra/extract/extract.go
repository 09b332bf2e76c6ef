package extract

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/policylens/policylens/internal/domain/compliance"
)

// Extractor converts uploaded policy files to plain text. Only textual
// formats are handled inline; binary document formats need an external
// extraction engine and are rejected with a typed error.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) PlainText(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", "":
		text := string(data)
		if !utf8.ValidString(text) {
			return "", &compliance.ExtractionError{Kind: ext, Reason: "file is not valid UTF-8 text"}
		}
		return text, nil
	case ".pdf", ".docx", ".doc":
		return "", &compliance.ExtractionError{Kind: ext, Reason: "no extraction engine configured for this format"}
	default:
		return "", &compliance.ExtractionError{Kind: ext, Reason: "unsupported file format"}
	}
}
