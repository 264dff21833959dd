package docx

import (
	"bytes"
	"html"
	"sort"
	"strings"
)

var textClose = []byte("</w:t>")

// textElement is one <w:t> element. start and end delimit the whole element,
// content the bytes between its tags.
type textElement struct {
	start, end               int
	contentStart, contentEnd int
}

// paragraph is one <w:p> element with the text it owns directly.
// items lists the owned content in document order: an index into texts, or
// lineBreak.
type paragraph struct {
	start int
	texts []textElement
	items []int
}

const lineBreak = -1

// scanParagraphs walks the tags of an XML part and returns every closed
// paragraph, innermost first.
func scanParagraphs(data []byte) []*paragraph {
	var (
		open   []*paragraph
		closed []*paragraph
	)

	for i := 0; i < len(data); {
		lt := bytes.IndexByte(data[i:], '<')
		if lt < 0 {
			break
		}
		start := i + lt

		if bytes.HasPrefix(data[start:], []byte("<!--")) {
			end := bytes.Index(data[start:], []byte("-->"))
			if end < 0 {
				break
			}
			i = start + end + 3
			continue
		}

		gt := bytes.IndexByte(data[start:], '>')
		if gt < 0 {
			break
		}
		end := start + gt + 1
		tag := data[start:end]
		closing, name, selfClosing := tagName(tag)
		i = end

		switch {
		case name == "w:p" && closing:
			if n := len(open); n > 0 {
				closed = append(closed, open[n-1])
				open = open[:n-1]
			}
		case name == "w:p" && !selfClosing:
			open = append(open, &paragraph{start: start})
		case len(open) == 0:
		case (name == "w:br" || name == "w:cr") && !closing:
			p := open[len(open)-1]
			p.items = append(p.items, lineBreak)
		case name == "w:t" && !closing && !selfClosing:
			closeAt := bytes.Index(data[end:], textClose)
			if closeAt < 0 {
				return closed
			}
			p := open[len(open)-1]
			p.items = append(p.items, len(p.texts))
			p.texts = append(p.texts, textElement{
				start:        start,
				end:          end + closeAt + len(textClose),
				contentStart: end,
				contentEnd:   end + closeAt,
			})
			i = end + closeAt + len(textClose)
		}
	}
	return closed
}

// tagName splits a tag such as <w:t xml:space="preserve"> into its parts.
func tagName(tag []byte) (closing bool, name string, selfClosing bool) {
	body := tag[1 : len(tag)-1]
	if len(body) > 0 && body[0] == '/' {
		closing = true
		body = body[1:]
	}
	if len(body) > 0 && body[len(body)-1] == '/' {
		selfClosing = true
		body = body[:len(body)-1]
	}
	if cut := bytes.IndexAny(body, " \t\r\n"); cut >= 0 {
		body = body[:cut]
	}
	return closing, string(body), selfClosing
}

func elementText(data []byte, t textElement) string {
	return html.UnescapeString(string(data[t.contentStart:t.contentEnd]))
}

func (p *paragraph) text(data []byte) string {
	var b strings.Builder
	for _, item := range p.items {
		if item == lineBreak {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(elementText(data, p.texts[item]))
	}
	return b.String()
}

type edit struct {
	start, end int
	with       string
}

// replace computes the edits that substitute the keys in the paragraph's own text.
func (p *paragraph) replace(data []byte, keys []string, replacer *strings.Replacer) ([]edit, bool) {
	if len(p.texts) == 0 {
		return nil, false
	}

	var b strings.Builder
	for _, t := range p.texts {
		b.WriteString(elementText(data, t))
	}
	original := b.String()

	hasKey := false
	for _, k := range keys {
		if strings.Contains(original, k) {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return nil, false
	}

	replaced := replacer.Replace(original)
	if replaced == original {
		return nil, false
	}

	edits := make([]edit, 0, len(p.texts))
	for i, t := range p.texts {
		with := `<w:t></w:t>`
		if i == 0 {
			with = `<w:t xml:space="preserve">` + runText(replaced) + `</w:t>`
		}
		edits = append(edits, edit{start: t.start, end: t.end, with: with})
	}
	return edits, true
}

// applyEdits splices non-overlapping edits into data.
func applyEdits(data []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return data
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out bytes.Buffer
	out.Grow(len(data))
	last := 0
	for _, e := range edits {
		out.Write(data[last:e.start])
		out.WriteString(e.with)
		last = e.end
	}
	out.Write(data[last:])
	return out.Bytes()
}
