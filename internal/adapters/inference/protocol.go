package inference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/okian/shrinkrank/internal/domain/model"
)

const maxLineBytes = 1 << 20

// lineSession speaks the line protocol over a pair of streams.
type lineSession struct {
	mu      sync.Mutex
	stdin   io.WriteCloser
	lines   chan string
	readErr error // valid once lines is closed
	rewrite func(string) (string, error)
	stderr  *tailBuffer
	closeFn func() error
	once    sync.Once
	closed  error
}

func newLineSession(stdin io.WriteCloser, stdout io.Reader, stderr *tailBuffer) *lineSession {
	s := &lineSession{
		stdin:   stdin,
		lines:   make(chan string, 1),
		rewrite: func(p string) (string, error) { return p, nil },
		stderr:  stderr,
	}
	go s.scan(stdout)
	return s
}

func (s *lineSession) scan(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		s.lines <- strings.TrimRight(sc.Text(), "\r")
	}
	s.readErr = sc.Err()
}

func (s *lineSession) next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", s.exitError()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *lineSession) exitError() error {
	err := fmt.Errorf("%w: %w", model.ErrMetric, ErrRuntimeExited)
	if s.readErr != nil {
		err = fmt.Errorf("%w: %w", err, s.readErr)
	}
	if tail := s.stderr.String(); tail != "" {
		err = fmt.Errorf("%w; stderr: %s", err, tail)
	}
	return err
}

// awaitReady consumes output until the ready marker. Other lines are
// treated as load-time chatter.
func (s *lineSession) awaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		line, err := s.next(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w: %w", model.ErrMetric, ErrNotReady, err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == ReadyLine:
			return nil
		case strings.HasPrefix(line, ErrorPrefix):
			return fmt.Errorf("%w: load failed: %s", model.ErrMetric,
				strings.TrimSpace(strings.TrimPrefix(line, ErrorPrefix)))
		}
	}
}

// Predict implements Session.
func (s *lineSession) Predict(ctx context.Context, samplePath string) (string, error) {
	if strings.ContainsAny(samplePath, "\r\n") {
		return "", fmt.Errorf("%w: %w: %q", model.ErrMetric, ErrBadSamplePath, samplePath)
	}
	arg, err := s.rewrite(samplePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", model.ErrMetric, ErrBadSamplePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.stdin, arg+"\n"); err != nil {
		return "", fmt.Errorf("%w: send %s: %w", model.ErrMetric, samplePath, err)
	}
	line, err := s.next(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: predict %s: %w", model.ErrMetric, samplePath, err)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, ErrorPrefix) {
		return "", fmt.Errorf("%w: predict %s: %s", model.ErrMetric, samplePath,
			strings.TrimSpace(strings.TrimPrefix(line, ErrorPrefix)))
	}
	if line == "" {
		return "", fmt.Errorf("%w: predict %s: %w", model.ErrMetric, samplePath, ErrEmptyPrediction)
	}
	return line, nil
}

// Close implements Session. It is safe to call more than once.
func (s *lineSession) Close() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		if s.closeFn != nil {
			s.closed = s.closeFn()
		}
	})
	return s.closed
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer { return &tailBuffer{limit: limit} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
