package extract

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidEncoding   = errors.New("document is not valid UTF-8")
	ErrEmptyDocument     = errors.New("document has no text")
)

const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ContentType maps a filename to the content type used for extraction
func ContentType(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return ContentTypeText, nil
	case ".md", ".markdown":
		return ContentTypeMarkdown, nil
	default:
		return "", goerr.Wrap(ErrUnsupportedFormat, "file extension is not supported",
			goerr.V("filename", filename))
	}
}

// Text extracts plain text from an uploaded file
func Text(filename string, data []byte) (string, error) {
	contentType, err := ContentType(filename)
	if err != nil {
		return "", err
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", goerr.Wrap(ErrInvalidEncoding, "failed to decode document", goerr.V("filename", filename))
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	var result string
	switch contentType {
	case ContentTypeMarkdown:
		result = Markdown(data)
	default:
		result = strings.TrimSpace(string(data))
	}

	if result == "" {
		return "", goerr.Wrap(ErrEmptyDocument, "no text extracted", goerr.V("filename", filename))
	}
	return result, nil
}

// Markdown renders markdown source to plain text. Markup and raw HTML are dropped;
// block elements are separated by blank lines.
func Markdown(src []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var b strings.Builder
	endLine := func(blank bool) {
		s := b.String()
		if s == "" {
			return
		}
		if !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
		if blank && !strings.HasSuffix(b.String(), "\n\n") {
			b.WriteByte('\n')
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
			endLine(true)
		case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.ThematicBreak:
			if !entering {
				endLine(true)
			}
		case *ast.ListItem, *ast.TextBlock:
			if !entering {
				endLine(false)
			}
		case *ast.List:
			if !entering {
				endLine(true)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}
