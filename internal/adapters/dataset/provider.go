// Package dataset supplies labelled evaluation samples laid out as an image
// folder tree: <root>/<label>/<file>.
package dataset

import "context"

// DefaultExtensions are the image extensions picked up when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// Sample is one labelled input.
type Sample struct {
	Path  string
	Label string
}

// Provider lists the samples of a dataset.
type Provider interface {
	// Samples returns every sample sorted by path. An empty or unreadable
	// dataset is an error wrapping model.ErrDataset.
	Samples(ctx context.Context) ([]Sample, error)

	// Root is the local directory the sample paths live under.
	Root() string
}
