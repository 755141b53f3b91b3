// Package submission locates the model artifact and metadata in a
// contributor's submission directory.
package submission

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"

	"github.com/okian/shrinkrank/internal/domain/model"
)

// MetadataFile is the optional metadata document next to the artifact.
const MetadataFile = "metadata.json"

// DefaultExtensions are the artifact extensions recognised when none are configured.
var DefaultExtensions = []string{".pt", ".pth", ".onnx", ".tflite", ".pb", ".h5", ".keras", ".safetensors", ".bin"}

// Metadata holds the fields read from metadata.json. Unknown fields are ignored.
type Metadata struct {
	Username  string
	ModelName string
	Notes     string
}

// Submission is a located submission.
type Submission struct {
	Dir          string
	ArtifactPath string
	SizeBytes    int64
	MetadataPath string // empty when there is no metadata file
	Metadata     Metadata
}

// bytesPerMB converts sizes to mebibytes.
const bytesPerMB = 1 << 20

// SizeMB is the artifact size in MiB.
func (s Submission) SizeMB() float64 {
	return float64(s.SizeBytes) / bytesPerMB
}

// Locate finds exactly one artifact directly inside dir. Metadata problems are
// tolerated: validation happens before evaluation.
func Locate(dir string, extensions []string) (Submission, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %w", model.ErrArtifact, err)
	}
	if !info.IsDir() {
		return Submission{}, fmt.Errorf("%w: %s is not a directory", model.ErrArtifact, dir)
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, "*")
	if err != nil {
		return Submission{}, fmt.Errorf("%w: scan %s: %w", model.ErrArtifact, dir, err)
	}

	var artifacts []string
	for _, m := range matches {
		if !hasExtension(m, extensions) {
			continue
		}
		st, err := fs.Stat(fsys, m)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		artifacts = append(artifacts, m)
	}
	sort.Strings(artifacts)

	switch len(artifacts) {
	case 0:
		return Submission{}, fmt.Errorf("%w: no model file (%s) in %s",
			model.ErrArtifact, strings.Join(extensions, " "), dir)
	case 1:
	default:
		return Submission{}, fmt.Errorf("%w: %d model files in %s: %s",
			model.ErrArtifact, len(artifacts), dir, strings.Join(artifacts, ", "))
	}

	artifact := filepath.Join(dir, artifacts[0])
	st, err := os.Stat(artifact)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %w", model.ErrArtifact, err)
	}

	sub := Submission{Dir: dir, ArtifactPath: artifact, SizeBytes: st.Size()}
	metaPath := filepath.Join(dir, MetadataFile)
	if raw, err := os.ReadFile(metaPath); err == nil {
		sub.MetadataPath = metaPath
		sub.Metadata = ParseMetadata(raw)
	}
	return sub, nil
}

// ParseMetadata extracts the known fields. Malformed JSON yields empty metadata.
func ParseMetadata(raw []byte) Metadata {
	if !gjson.ValidBytes(raw) {
		return Metadata{}
	}
	res := gjson.GetManyBytes(raw, "username", "model_name", "notes")
	return Metadata{
		Username:  strings.TrimSpace(res[0].String()),
		ModelName: strings.TrimSpace(res[1].String()),
		Notes:     strings.TrimSpace(res[2].String()),
	}
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}
