package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
)

// ExecRuntime starts the runtime as a local child process.
type ExecRuntime struct {
	argv []string
	cfg  settings
}

// NewExecRuntime creates a runtime from an argv template. The "{model}" and
// "{data}" placeholders are replaced with the artifact path and data
// directory.
func NewExecRuntime(argv []string, opts ...Option) (*ExecRuntime, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("exec runtime: empty command")
	}
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("inference")
	}
	return &ExecRuntime{argv: argv, cfg: cfg}, nil
}

// Load implements Runtime.
func (r *ExecRuntime) Load(ctx context.Context, spec LoadSpec) (Session, error) {
	if _, err := os.Stat(spec.ArtifactPath); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrArtifact, err)
	}
	args := expand(r.argv, spec.ArtifactPath, spec.DataDir)

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // command comes from operator config
	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.stopTimeout
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMetric, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMetric, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", model.ErrMetric, args[0], err)
	}

	s := newLineSession(stdin, stdout, stderr)
	s.closeFn = func() error { return r.stop(cmd) }

	start := time.Now()
	if err := s.awaitReady(ctx, r.cfg.readyTimeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	r.cfg.logger.Info(ctx, "runtime ready",
		logger.String("command", args[0]),
		logger.Int("pid", cmd.Process.Pid),
		logger.Duration("load_time", time.Since(start)),
	)
	return s, nil
}

// stop waits for the process to exit after stdin is closed and kills it
// when it does not.
func (r *ExecRuntime) stop(cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(r.cfg.stopTimeout):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
