package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/moby/sys/atomicwriter"

	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/scoring"
)

// Result is the document handed from the evaluation job to the update job.
type Result struct {
	ModelSize  float64 `json:"model_size"`
	Latency    float64 `json:"latency"`
	Accuracy   float64 `json:"accuracy"`
	TotalScore float64 `json:"total_score"`
}

// Result returns the rounded metrics of r.
func (r Report) Result(precision int) Result {
	return Result{
		ModelSize:  scoring.Round(r.ModelSizeMB, precision),
		Latency:    scoring.Round(r.LatencyMS, precision),
		Accuracy:   scoring.Round(r.AccuracyPct, precision),
		TotalScore: r.Scores.Total,
	}
}

// WriteResult atomically writes res as JSON to path.
func WriteResult(path string, res Result) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode result: %w", model.ErrIO, err)
	}
	out = append(out, '\n')
	if err := atomicwriter.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", model.ErrIO, path, err)
	}
	return nil
}

// ReadResult loads a result file written by WriteResult.
func ReadResult(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read %s: %w", model.ErrIO, path, err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, fmt.Errorf("%w: decode %s: %w", model.ErrParse, path, err)
	}
	return res, nil
}

// AppendGitHubOutput appends the result as key=value lines to a GitHub
// Actions output file. An empty path is a no-op.
func AppendGitHubOutput(path string, res Result, extra map[string]string) error {
	if path == "" {
		return nil
	}
	var b strings.Builder
	writeKV(&b, "model_size", formatFloat(res.ModelSize))
	writeKV(&b, "latency", formatFloat(res.Latency))
	writeKV(&b, "accuracy", formatFloat(res.Accuracy))
	writeKV(&b, "total_score", formatFloat(res.TotalScore))
	for _, k := range []string{"username", "notes"} {
		if v, ok := extra[k]; ok && v != "" {
			writeKV(&b, k, v)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", model.ErrIO, path, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %w", model.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", model.ErrIO, path, err)
	}
	return nil
}

// writeKV drops line breaks from v so one key never spans lines.
func writeKV(b *strings.Builder, k, v string) {
	v = strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
	b.WriteString(k)
	b.WriteByte('=')
	b.WriteString(v)
	b.WriteByte('\n')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
