package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/okian/shrinkrank/internal/domain/model"
)

var gfm = goldmark.New(goldmark.WithExtensions(extension.Table))

// verify parses src the way a GFM renderer would and checks that both
// managed tables are real tables with the expected number of body rows.
// It catches tables swallowed by HTML blocks, code fences, or paragraphs.
func verify(src []byte, mainRows, archiveRows int) error {
	doc := gfm.Parser().Parse(text.NewReader(src))

	counts := map[string][]int{}
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tbl, ok := n.(*east.Table)
		if !ok {
			return ast.WalkContinue, nil
		}
		var header []string
		body := 0
		for child := tbl.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *east.TableHeader:
				for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
					header = append(header, nodeText(cell, src))
				}
			case *east.TableRow:
				body++
			}
		}
		switch {
		case headerIs(header, MainColumns):
			counts["main"] = append(counts["main"], body)
		case headerIs(header, ArchiveColumns):
			counts["archive"] = append(counts["archive"], body)
		}
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrParse, err)
	}

	for _, want := range []struct {
		name string
		rows int
	}{{"main", mainRows}, {"archive", archiveRows}} {
		got := counts[want.name]
		if len(got) != 1 {
			return fmt.Errorf("%w: %s table not rendered as a table (found %d)", model.ErrParse, want.name, len(got))
		}
		if got[0] != want.rows {
			return fmt.Errorf("%w: %s table renders %d rows, want %d", model.ErrParse, want.name, got[0], want.rows)
		}
	}
	return nil
}

// nodeText concatenates the literal text below n.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
