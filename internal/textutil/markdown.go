package textutil

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	frontmatterRe = regexp.MustCompile(`^(---[\s\S]*?---|\+\+\+[\s\S]*?\+\+\+)\s*`)
	blankLineRe   = regexp.MustCompile(`(?m)^\s*$`)
	wikiLinkRe    = regexp.MustCompile(`\[\[([^\]|]+)(\|[^\]]+)?\]\]`)

	markdown = goldmark.New()
)

// CleanMarkdown converts an Obsidian-flavoured markdown note into plain text:
// frontmatter is dropped, [[target|alias]] links become "target", a pipe table
// is flattened into "Header: value, ..." sentences and remaining markdown syntax
// is stripped. Image alt text is not kept.
func CleanMarkdown(md string) string {
	md = removeFrontmatter(md)
	md = removeWikiLinks(md)
	md = flattenTable(md)
	return strings.TrimSpace(stripMarkdown(md))
}

func removeFrontmatter(md string) string {
	if loc := frontmatterRe.FindStringIndex(md); loc != nil {
		md = md[:loc[0]] + md[loc[1]:]
	}
	return strings.TrimSpace(blankLineRe.ReplaceAllString(md, ""))
}

func removeWikiLinks(md string) string {
	return wikiLinkRe.ReplaceAllString(md, "${1}")
}

// flattenTable rewrites the first pipe table of md. Only the first table is
// handled; lines are collected wherever they contain a pipe.
func flattenTable(md string) string {
	var tableLines []string
	for _, line := range strings.Split(md, "\n") {
		if strings.Contains(line, "|") {
			tableLines = append(tableLines, line)
		}
	}
	if len(tableLines) < 2 || !strings.Contains(tableLines[1], "-") {
		return md
	}
	headers := splitCells(tableLines[0])
	rows := make([]string, 0, len(tableLines)-2)
	for _, line := range tableLines[2:] {
		cells := splitCells(line)
		parts := make([]string, len(headers))
		for i, h := range headers {
			v := ""
			if i < len(cells) {
				v = cells[i]
			}
			parts[i] = h + ": " + v
		}
		rows = append(rows, strings.Join(parts, ", "))
	}
	return strings.Replace(md, strings.Join(tableLines, "\n"), strings.Join(rows, ". "), 1)
}

func splitCells(line string) []string {
	var cells []string
	for _, c := range strings.Split(line, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

// stripMarkdown renders the text content of the markdown AST, one line per block.
func stripMarkdown(md string) string {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				endLine(&b)
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func endLine(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
