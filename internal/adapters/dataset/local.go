package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"

	"github.com/okian/shrinkrank/internal/domain/model"
)

const samplePattern = "*/*"

// LocalProvider reads an image folder tree from the local filesystem.
type LocalProvider struct {
	root       string
	extensions map[string]struct{}
}

// NewLocalProvider creates a provider rooted at root. A nil or empty
// extension list selects DefaultExtensions.
func NewLocalProvider(root string, extensions []string) *LocalProvider {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &LocalProvider{
		root:       root,
		extensions: normalizeExtensions(extensions),
	}
}

// Root implements Provider.
func (p *LocalProvider) Root() string { return p.root }

// Samples implements Provider.
func (p *LocalProvider) Samples(ctx context.Context) ([]Sample, error) {
	info, err := os.Stat(p.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDataset, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", model.ErrDataset, p.root)
	}

	fsys := os.DirFS(p.root)
	matches, err := doublestar.Glob(fsys, samplePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", model.ErrDataset, p.root, err)
	}

	samples := make([]Sample, 0, len(matches))
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.accepts(m) {
			continue
		}
		st, err := fs.Stat(fsys, m)
		if err != nil || st.IsDir() {
			continue
		}
		samples = append(samples, Sample{
			Path:  filepath.Join(p.root, filepath.FromSlash(m)),
			Label: path.Dir(m),
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples under %s", model.ErrDataset, p.root)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Path < samples[j].Path })
	return samples, nil
}

// accepts rejects hidden files and anything under a hidden label directory.
func (p *LocalProvider) accepts(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}
	_, ok := p.extensions[strings.ToLower(path.Ext(name))]
	return ok
}

// Labels returns the distinct labels in samples, sorted.
func Labels(samples []Sample) []string {
	labels := lo.Uniq(lo.Map(samples, func(s Sample, _ int) string { return s.Label }))
	sort.Strings(labels)
	return labels
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}
