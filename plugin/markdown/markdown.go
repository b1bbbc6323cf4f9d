// Package markdown flattens chat markdown into plain text suitable for
// embedding and prompt assembly. Formatting is stripped, content is kept:
// emphasis markers disappear, link labels and code bodies survive.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// GFM covers the constructs chat platforms actually emit, strikethrough and
// bare links in particular.
var parser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Flatten renders markdown source as plain text. Block structure collapses to
// single newlines and runs of blank lines shrink to one.
func Flatten(source string) string {
	src := []byte(source)
	doc := parser.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				newline(&sb)
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				newline(&sb)
			}
		case *ast.FencedCodeBlock:
			writeLines(&sb, src, node.Lines())
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&sb, src, node.Lines())
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			sb.Write(node.URL(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return collapse(sb.String())
}

func newline(sb *strings.Builder) {
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
}

func writeLines(sb *strings.Builder, src []byte, lines *text.Segments) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
}

// collapse trims trailing space per line and squeezes blank line runs.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
