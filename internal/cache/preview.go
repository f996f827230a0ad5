// ABOUTME: Flattens markdown message bodies into plain-text previews
// ABOUTME: Walks the goldmark AST collecting text, then truncates

package cache

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PreviewLimit matches the service's 120-character preview truncation.
const PreviewLimit = 120

// PreviewText flattens a markdown message body to plain text for the
// conversation list: formatting is dropped, whitespace collapsed, and the
// result truncated to limit runes with an ellipsis. limit <= 0 uses
// PreviewLimit.
func PreviewText(body string, limit int) string {
	if limit <= 0 {
		limit = PreviewLimit
	}

	source := []byte(body)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var b strings.Builder
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	flat := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "…"
}
