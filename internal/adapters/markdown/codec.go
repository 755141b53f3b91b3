// Package markdown reads and writes the leaderboard document: a Markdown file
// holding a ranked main table, an archive table inside a <details> block, and
// a "Last updated" stamp. Everything else in the file is left untouched.
package markdown

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
)

const defaultPrecision = 2

// MainColumns are the column titles of the ranked table.
var MainColumns = []string{
	"Rank", "Username", "Model Size (MB)", "Size Score", "Latency (ms)", "Latency Score",
	"Accuracy (%)", "Accuracy Score", "Total Score", "Submission Date",
}

// ArchiveColumns are the column titles of the submission history table.
var ArchiveColumns = []string{
	"Username", "Model Size (MB)", "Latency (ms)", "Accuracy (%)", "Total Score", "Submission Date", "Notes",
}

var (
	mainAlign    = []bool{true, false, true, true, true, true, true, true, true, false}
	archiveAlign = []bool{false, true, true, true, true, false, false}
)

// updatedRe matches the "Last updated" line, optionally emphasized.
var updatedRe = regexp.MustCompile(`(?i)^(\s*[*_]*last updated[*_]*:[*_]*\s*)(.*?)\s*$`)

// Option applies a configuration option to the Codec.
type Option func(*Codec)

// WithPrecision sets the decimal places used for metrics and scores.
func WithPrecision(places int) Option {
	return func(c *Codec) {
		if places >= 0 {
			c.precision = places
		}
	}
}

// Codec converts between the document bytes and a leaderboard.Board.
type Codec struct {
	precision int
}

// NewCodec creates a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{precision: defaultPrecision}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Document is a decoded leaderboard file. It remembers where the managed
// regions live so Encode can rewrite them and keep the surrounding prose.
type Document struct {
	Board leaderboard.Board

	lines       []string
	main        span
	archive     span
	updatedLine int
}

// Decode parses src. It fails with model.ErrParse when either table is
// missing, duplicated, or malformed.
func (c *Codec) Decode(src []byte) (*Document, error) {
	doc := &Document{lines: strings.Split(string(src), "\n"), updatedLine: -1}

	var foundMain, foundArchive int
	for _, t := range findTables(doc.lines) {
		switch {
		case headerIs(t.header, MainColumns):
			doc.main = t
			foundMain++
		case headerIs(t.header, ArchiveColumns):
			doc.archive = t
			foundArchive++
		}
	}
	if foundMain != 1 {
		return nil, fmt.Errorf("%w: expected one ranking table, found %d", model.ErrParse, foundMain)
	}
	if foundArchive != 1 {
		return nil, fmt.Errorf("%w: expected one archive table, found %d", model.ErrParse, foundArchive)
	}

	rows, err := parseMainRows(doc.main)
	if err != nil {
		return nil, err
	}
	archive, err := parseArchiveRows(doc.archive)
	if err != nil {
		return nil, err
	}
	doc.Board = leaderboard.Board{Rows: rows, Archive: archive}

	for i, line := range doc.lines {
		if m := updatedRe.FindStringSubmatch(line); m != nil {
			doc.updatedLine = i
			if ts, ok := model.ParseDate(m[2]); ok {
				doc.Board.LastUpdated = ts
			}
			break
		}
	}

	if err := verify(src, len(rows), len(archive)); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode renders b into the layout of doc and verifies the result parses
// back with both tables intact.
func (c *Codec) Encode(doc *Document, b leaderboard.Board) ([]byte, error) {
	type edit struct {
		start, end int
		lines      []string
	}
	stamp := "Last updated: " + model.FormatDate(b.LastUpdated) + " UTC"

	edits := []edit{
		{doc.main.start, doc.main.end, c.renderMain(b.Rows)},
		{doc.archive.start, doc.archive.end, c.renderArchive(b.Archive)},
	}
	if doc.updatedLine >= 0 {
		prefix := updatedRe.FindStringSubmatch(doc.lines[doc.updatedLine])[1]
		edits = append(edits, edit{doc.updatedLine, doc.updatedLine + 1, []string{strings.TrimRight(prefix, " ") + " " + model.FormatDate(b.LastUpdated) + " UTC"}})
	} else {
		edits = append(edits, edit{doc.main.start, doc.main.start, []string{stamp, ""}})
	}
	// Apply bottom-up so earlier indices stay valid. A stamp inserted at the
	// main table's start is applied after the table itself is replaced.
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start > edits[j].start
		}
		return edits[i].end > edits[j].end
	})

	lines := append([]string(nil), doc.lines...)
	for _, e := range edits {
		tail := append([]string(nil), lines[e.end:]...)
		lines = append(append(lines[:e.start], e.lines...), tail...)
	}

	out := []byte(strings.Join(lines, "\n"))
	if err := verify(out, len(b.Rows), len(b.Archive)); err != nil {
		return nil, err
	}
	return out, nil
}

// Template renders a fresh document holding only the baseline row.
func (c *Codec) Template(baseline model.Row, now time.Time) ([]byte, error) {
	rows := []model.Row{baseline}
	leaderboard.Rank(rows)

	var lines []string
	lines = append(lines,
		"# Model Compression Leaderboard",
		"",
		"Submit a compressed image-classification model to compete. Every metric is normalized against the baseline model:",
		"",
		"- Size Score = baseline size / model size",
		"- Latency Score = baseline latency / model latency",
		"- Accuracy Score = model accuracy / baseline accuracy",
		"- Total Score = 0.3 × Size Score + 0.3 × Latency Score + 0.4 × Accuracy Score",
		"",
		"Last updated: "+model.FormatDate(now)+" UTC",
		"",
		"## Rankings",
		"",
	)
	lines = append(lines, c.renderMain(rows)...)
	lines = append(lines,
		"",
		"## Submission History",
		"",
		"<details>",
		"<summary>All submissions</summary>",
		"",
	)
	lines = append(lines, c.renderArchive(nil)...)
	lines = append(lines, "", "</details>", "")

	out := []byte(strings.Join(lines, "\n"))
	if err := verify(out, 1, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Codec) renderMain(rows []model.Row) []string {
	cells := make([][]string, 0, len(rows))
	for i, r := range rows {
		cells = append(cells, []string{
			strconv.Itoa(i + 1),
			escapeText(r.Username),
			c.num(r.ModelSizeMB),
			c.num(r.Scores.Size),
			c.num(r.LatencyMS),
			c.num(r.Scores.Latency),
			c.num(r.AccuracyPct),
			c.num(r.Scores.Accuracy),
			c.num(r.Scores.Total),
			escapeText(r.SubmissionDate),
		})
	}
	return formatTable(MainColumns, cells, mainAlign)
}

func (c *Codec) renderArchive(entries []model.ArchiveEntry) []string {
	cells := make([][]string, 0, len(entries))
	for _, e := range entries {
		cells = append(cells, []string{
			escapeText(e.Username),
			c.num(e.ModelSizeMB),
			c.num(e.LatencyMS),
			c.num(e.AccuracyPct),
			c.num(e.TotalScore),
			escapeText(e.SubmissionDate),
			escapeCell(e.Notes),
		})
	}
	return formatTable(ArchiveColumns, cells, archiveAlign)
}

func (c *Codec) num(v float64) string {
	return strconv.FormatFloat(v, 'f', c.precision, 64)
}

func headerIs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !strings.EqualFold(stripEmphasis(got[i]), want[i]) {
			return false
		}
	}
	return true
}

func parseMainRows(t span) ([]model.Row, error) {
	rows := make([]model.Row, 0, len(t.rows))
	for i, cells := range t.rows {
		if len(cells) != len(MainColumns) {
			return nil, fmt.Errorf("%w: ranking row %d has %d cells, want %d", model.ErrParse, i+1, len(cells), len(MainColumns))
		}
		nums, err := parseFloats(cells, 2, 3, 4, 5, 6, 7, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: ranking row %d: %v", model.ErrParse, i+1, err)
		}
		rows = append(rows, model.Row{
			Rank:        i + 1,
			Username:    readText(cells[1]),
			ModelSizeMB: nums[0],
			LatencyMS:   nums[2],
			AccuracyPct: nums[4],
			Scores: model.Scores{
				Size:     nums[1],
				Latency:  nums[3],
				Accuracy: nums[5],
				Total:    nums[6],
			},
			SubmissionDate: readText(cells[9]),
		})
	}
	return rows, nil
}

func parseArchiveRows(t span) ([]model.ArchiveEntry, error) {
	entries := make([]model.ArchiveEntry, 0, len(t.rows))
	for i, cells := range t.rows {
		if len(cells) != len(ArchiveColumns) {
			return nil, fmt.Errorf("%w: archive row %d has %d cells, want %d", model.ErrParse, i+1, len(cells), len(ArchiveColumns))
		}
		nums, err := parseFloats(cells, 1, 2, 3, 4)
		if err != nil {
			return nil, fmt.Errorf("%w: archive row %d: %v", model.ErrParse, i+1, err)
		}
		entries = append(entries, model.ArchiveEntry{
			Username:       readText(cells[0]),
			ModelSizeMB:    nums[0],
			LatencyMS:      nums[1],
			AccuracyPct:    nums[2],
			TotalScore:     nums[3],
			SubmissionDate: readText(cells[5]),
			Notes:          cells[6],
		})
	}
	return entries, nil
}

func parseFloats(cells []string, idx ...int) ([]float64, error) {
	out := make([]float64, len(idx))
	for i, k := range idx {
		v, err := strconv.ParseFloat(stripEmphasis(cells[k]), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %q is not a number", k+1, cells[k])
		}
		out[i] = v
	}
	return out, nil
}
