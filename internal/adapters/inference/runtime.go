// Package inference runs an opaque model artifact behind a line protocol.
//
// A runtime process prints "ready" once the artifact is loaded. It then reads
// one sample path per line on stdin and answers each with one line on stdout
// holding the predicted label. A reply starting with "error:" reports a
// failed prediction.
package inference

import (
	"context"
	"strings"
)

// Protocol markers.
const (
	ReadyLine   = "ready"
	ErrorPrefix = "error:"
)

// Argument placeholders substituted in runtime command templates.
const (
	ModelPlaceholder = "{model}"
	DataPlaceholder  = "{data}"
)

// LoadSpec names what a runtime should load.
type LoadSpec struct {
	ArtifactPath string
	DataDir      string
}

// Runtime loads artifacts into sessions.
type Runtime interface {
	Load(ctx context.Context, spec LoadSpec) (Session, error)
}

// Session serves predictions for one loaded artifact. Predict calls are
// serialized.
type Session interface {
	Predict(ctx context.Context, samplePath string) (string, error)
	Close() error
}

func expand(template []string, model, data string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		arg = strings.ReplaceAll(arg, ModelPlaceholder, model)
		out[i] = strings.ReplaceAll(arg, DataPlaceholder, data)
	}
	return out
}
