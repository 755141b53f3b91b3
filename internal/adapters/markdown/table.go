package markdown

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// separatorRe matches a table separator row cell content.
var separatorRe = regexp.MustCompile(`^:?-+:?$`)

// span locates a pipe table inside the document's lines.
type span struct {
	start  int // index of the header line
	end    int // index one past the last data row
	header []string
	rows   [][]string
}

// findTables scans lines for contiguous pipe tables outside fenced code.
// A table needs a header row followed by a separator row.
func findTables(lines []string) []span {
	var (
		tables []span
		fence  string
	)
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if f := fenceMarker(trimmed); f != "" {
			switch {
			case fence == "":
				fence = f
			case strings.HasPrefix(trimmed, fence):
				fence = ""
			}
			continue
		}
		if fence != "" || !isTableLine(trimmed) || i+1 >= len(lines) {
			continue
		}
		if !isSeparator(strings.TrimSpace(lines[i+1])) {
			continue
		}
		tbl := span{start: i, header: splitRow(trimmed)}
		j := i + 2
		for j < len(lines) && isTableLine(strings.TrimSpace(lines[j])) {
			tbl.rows = append(tbl.rows, splitRow(strings.TrimSpace(lines[j])))
			j++
		}
		tbl.end = j
		tables = append(tables, tbl)
		i = j - 1
	}
	return tables
}

func fenceMarker(trimmed string) string {
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, f) {
			return f
		}
	}
	return ""
}

func isTableLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "|")
}

func isSeparator(trimmed string) bool {
	if !isTableLine(trimmed) {
		return false
	}
	cells := splitRow(trimmed)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if !separatorRe.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return true
}

// splitRow splits a pipe table row into trimmed cells, honoring \| escapes.
func splitRow(line string) []string {
	line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}
	var (
		cells []string
		cur   strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

// escapeCell makes s safe to place inside a table cell.
func escapeCell(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return strings.ReplaceAll(s, "|", `\|`)
}

// emphasisMarkers are unwrapped from hand-formatted cells, longest first.
var emphasisMarkers = []string{"**", "__", "`", "*", "_"}

var textEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`")

// escapeText escapes the inline emphasis characters of s so that usernames
// and dates read back exactly as written.
func escapeText(s string) string {
	return escapeCell(textEscaper.Replace(s))
}

// readText is the inverse of escapeText. It also unwraps a balanced
// emphasis pair such as **Baseline** from hand-edited documents.
func readText(cell string) string {
	return unescapeText(stripEmphasis(cell))
}

func stripEmphasis(s string) string {
	s = strings.TrimSpace(s)
	for _, m := range emphasisMarkers {
		if len(s) > 2*len(m) && strings.HasPrefix(s, m) && strings.HasSuffix(s, m) && !strings.HasSuffix(s, `\`+m) {
			return strings.TrimSpace(s[len(m) : len(s)-len(m)])
		}
	}
	return s
}

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("\\*_`", s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// formatTable renders header and rows as a padded pipe table.
// rightAlign marks numeric columns.
func formatTable(header []string, rows [][]string, rightAlign []bool) []string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = max(utf8.RuneCountInString(h), 3)
	}
	for _, r := range rows {
		for i, c := range r {
			if n := utf8.RuneCountInString(c); n > widths[i] {
				widths[i] = n
			}
		}
	}

	out := make([]string, 0, len(rows)+2)
	out = append(out, formatRow(header, widths, rightAlign))

	var sep strings.Builder
	sep.WriteByte('|')
	for i, w := range widths {
		sep.WriteByte(' ')
		if rightAlign[i] {
			sep.WriteString(strings.Repeat("-", w-1) + ":")
		} else {
			sep.WriteString(strings.Repeat("-", w))
		}
		sep.WriteString(" |")
	}
	out = append(out, sep.String())

	for _, r := range rows {
		out = append(out, formatRow(r, widths, rightAlign))
	}
	return out
}

func formatRow(cells []string, widths []int, rightAlign []bool) string {
	var b strings.Builder
	b.WriteByte('|')
	for i, c := range cells {
		pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c))
		b.WriteByte(' ')
		if rightAlign[i] {
			b.WriteString(pad + c)
		} else {
			b.WriteString(c + pad)
		}
		b.WriteString(" |")
	}
	return b.String()
}
