package ingest

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Content types accepted by Extract.
const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypePDF      = "application/pdf"
)

// Extracted is the plain text recovered from an uploaded document.
type Extracted struct {
	Title string
	Text  string
}

// Extract converts data of the given MIME type into plain text. An empty
// content type is treated as plain text.
func Extract(contentType string, data []byte) (Extracted, error) {
	mt := TypePlain
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return Extracted{}, fmt.Errorf("parsing content type %q: %w", contentType, err)
		}
		mt = parsed
	}

	var (
		out Extracted
		err error
	)
	switch mt {
	case TypePlain, TypeMarkdown:
		out.Text = string(data)
	case TypeHTML:
		out, err = extractHTML(data)
	case TypePDF:
		out, err = extractPDF(data)
	default:
		return Extracted{}, fmt.Errorf("unsupported content type %q", mt)
	}
	if err != nil {
		return Extracted{}, err
	}
	out.Text = normalizeSpace(out.Text)
	out.Title = strings.TrimSpace(out.Title)
	return out, nil
}

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true,
}

func extractHTML(data []byte) (Extracted, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Extracted{}, fmt.Errorf("parsing html: %w", err)
	}

	var out Extracted
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.Data] {
				return
			}
			if n.Data == "title" {
				if out.Title == "" && n.FirstChild != nil {
					out.Title = n.FirstChild.Data
				}
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	out.Text = sb.String()
	return out, nil
}

func extractPDF(data []byte) (Extracted, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extracted{}, fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return Extracted{}, fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return Extracted{}, fmt.Errorf("reading pdf text: %w", err)
	}
	return Extracted{Text: string(b)}, nil
}

// normalizeSpace collapses runs of blanks within lines and drops empty lines.
func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
