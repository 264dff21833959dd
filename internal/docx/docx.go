// Package docx edits the text of Office Open XML word processing documents in place.
//
// Only the XML parts that carry paragraph text are touched: the main document body
// and any headers and footers. Every other archive member is copied through
// unchanged, in its original order.
//
// Substitution works on paragraphs. The text of all runs in a paragraph is
// concatenated, tokens are replaced on that string, and when the result differs
// the new text is written into the paragraph's first text element while the
// others are emptied. A token split across runs by Word's editing history is
// therefore still replaced, at the cost of the paragraph keeping the formatting
// of its first run only. Paragraphs without a token are left byte-identical.
//
// Paragraphs may nest, as inside text boxes and shapes. Each paragraph owns only
// the text elements that are not inside a deeper paragraph and is rewritten on
// its own.
package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// MIMEType is the content type of a .docx file.
const MIMEType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const mainPart = "word/document.xml"

var (
	// ErrInvalidDocument is returned when the bytes are not a zip archive.
	ErrInvalidDocument = errors.New("invalid docx archive")

	// ErrMissingBody is returned when the archive has no word/document.xml.
	ErrMissingBody = errors.New("docx archive has no document body")
)

var textParts = regexp.MustCompile(`^word/(document|header\d*|footer\d*)\.xml$`)

type member struct {
	header zip.FileHeader
	data   []byte
}

// Document is an opened .docx archive.
type Document struct {
	members []*member
}

// Open reads a .docx archive from memory.
func Open(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc := &Document{}
	hasBody := false
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidDocument, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidDocument, f.Name, err)
		}

		if f.Name == mainPart {
			hasBody = true
		}
		doc.members = append(doc.members, &member{header: f.FileHeader, data: content})
	}

	if !hasBody {
		return nil, ErrMissingBody
	}
	return doc, nil
}

// ReplaceAll substitutes every occurrence of each key in replacements with its value
// and returns the number of paragraphs that changed.
//
// Keys are matched literally and case-sensitively. All keys are replaced in a single
// pass, so a value that itself contains a key is inserted verbatim. Newlines in values
// become line breaks.
func (d *Document) ReplaceAll(replacements map[string]string) int {
	if len(replacements) == 0 {
		return 0
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		if k != "" {
			keys = append(keys, k)
		}
	}
	// Longest first, so a key that prefixes another never shadows it.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	replacer := strings.NewReplacer(pairs...)

	changed := 0
	for _, m := range d.members {
		if !textParts.MatchString(m.header.Name) {
			continue
		}
		var edits []edit
		for _, p := range scanParagraphs(m.data) {
			if e, ok := p.replace(m.data, keys, replacer); ok {
				edits = append(edits, e...)
				changed++
			}
		}
		m.data = applyEdits(m.data, edits)
	}
	return changed
}

// Text returns the document body as plain text, one line per paragraph.
// A paragraph nested in a text box follows the paragraph that anchors it.
func (d *Document) Text() string {
	for _, m := range d.members {
		if m.header.Name != mainPart {
			continue
		}
		paragraphs := scanParagraphs(m.data)
		sort.SliceStable(paragraphs, func(i, j int) bool { return paragraphs[i].start < paragraphs[j].start })

		lines := make([]string, 0, len(paragraphs))
		for _, p := range paragraphs {
			lines = append(lines, p.text(m.data))
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// Bytes serializes the document back into a .docx archive.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, m := range d.members {
		header := m.header
		w, err := zw.CreateHeader(&header)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", m.header.Name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", m.header.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\r", "",
)

// runText escapes s for a <w:t> element, closing and reopening the element around line breaks.
func runText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = xmlEscaper.Replace(line)
	}
	return strings.Join(lines, `</w:t><w:br/><w:t xml:space="preserve">`)
}
