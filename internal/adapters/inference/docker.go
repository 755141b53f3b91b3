package inference

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
)

// Mount points inside the runtime container.
const (
	SubmissionMount = "/submission"
	DataMount       = "/data"
)

// DockerAPI is the subset of the docker client the runtime drives.
type DockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NewDockerClient connects using the DOCKER_HOST family of env variables.
func NewDockerClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: docker client: %w", model.ErrMetric, err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: cannot reach docker daemon (%s): %w", model.ErrMetric, os.Getenv("DOCKER_HOST"), err)
	}
	return cli, nil
}

// DockerRuntime runs the runtime inside a sandboxed container: no network,
// bounded memory and CPU, submission and data mounted read-only.
type DockerRuntime struct {
	api      DockerAPI
	image    string
	argv     []string
	memoryMB int64
	cpus     float64
	pull     bool
	cfg      settings
}

// DockerOption configures a DockerRuntime.
type DockerOption func(*DockerRuntime)

// WithMemoryMB caps container memory. Zero leaves it unlimited.
func WithMemoryMB(mb int64) DockerOption {
	return func(r *DockerRuntime) { r.memoryMB = mb }
}

// WithCPUs caps container CPU. Zero leaves it unlimited.
func WithCPUs(cpus float64) DockerOption {
	return func(r *DockerRuntime) { r.cpus = cpus }
}

// WithPull pulls the image before each load.
func WithPull(pull bool) DockerOption {
	return func(r *DockerRuntime) { r.pull = pull }
}

// WithRuntimeOptions applies generic runtime options.
func WithRuntimeOptions(opts ...Option) DockerOption {
	return func(r *DockerRuntime) {
		for _, opt := range opts {
			opt(&r.cfg)
		}
	}
}

// NewDockerRuntime creates a runtime for image. argv overrides the image
// command and may use the "{model}" and "{data}" placeholders, which expand
// to container paths.
func NewDockerRuntime(api DockerAPI, imageRef string, argv []string, opts ...DockerOption) *DockerRuntime {
	r := &DockerRuntime{
		api:   api,
		image: imageRef,
		argv:  argv,
		cfg:   defaultSettings(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.logger == nil {
		r.cfg.logger = logger.Get().Named("inference")
	}
	return r
}

// Load implements Runtime.
func (r *DockerRuntime) Load(ctx context.Context, spec LoadSpec) (Session, error) {
	artifact, err := filepath.Abs(spec.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrArtifact, err)
	}
	if _, err := os.Stat(artifact); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrArtifact, err)
	}
	dataDir, err := filepath.Abs(spec.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDataset, err)
	}

	if r.pull {
		if err := r.pullImage(ctx); err != nil {
			return nil, err
		}
	}

	inModel := path.Join(SubmissionMount, filepath.Base(artifact))
	create, err := r.api.ContainerCreate(ctx, &container.Config{
		Image:           r.image,
		Cmd:             expand(r.argv, inModel, DataMount),
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		Tty:             false,
		NetworkDisabled: true,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: filepath.Dir(artifact), Target: SubmissionMount, ReadOnly: true},
			{Type: mount.TypeBind, Source: dataDir, Target: DataMount, ReadOnly: true},
		},
		Resources: container.Resources{
			Memory:   r.memoryMB << 20,
			NanoCPUs: int64(r.cpus * 1e9),
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: create container: %w", model.ErrMetric, err)
	}
	cid := create.ID

	remove := func() error {
		timeout := int(r.cfg.stopTimeout / time.Second)
		_ = r.api.ContainerStop(context.Background(), cid, container.StopOptions{Timeout: &timeout})
		return r.api.ContainerRemove(context.Background(), cid, container.RemoveOptions{Force: true})
	}

	hijacked, err := r.api.ContainerAttach(ctx, cid, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		_ = remove()
		return nil, fmt.Errorf("%w: attach container: %w", model.ErrMetric, err)
	}
	if err := r.api.ContainerStart(ctx, cid, container.StartOptions{}); err != nil {
		hijacked.Close()
		_ = remove()
		return nil, fmt.Errorf("%w: start container: %w", model.ErrMetric, err)
	}

	// The attach stream multiplexes stdout and stderr.
	stdoutR, stdoutW := io.Pipe()
	stderr := newTailBuffer(stderrTailBytes)
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderr, hijacked.Reader)
		_ = stdoutW.CloseWithError(err)
	}()

	s := newLineSession(&hijackedStdin{resp: &hijacked}, stdoutR, stderr)
	s.rewrite = containerPath(dataDir)
	s.closeFn = func() error {
		hijacked.Close()
		return remove()
	}

	start := time.Now()
	if err := s.awaitReady(ctx, r.cfg.readyTimeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	r.cfg.logger.Info(ctx, "container runtime ready",
		logger.String("image", r.image),
		logger.String("container", shortID(cid)),
		logger.Duration("load_time", time.Since(start)),
	)
	return s, nil
}

func (r *DockerRuntime) pullImage(ctx context.Context) error {
	rc, err := r.api.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: pull %s: %w", model.ErrMetric, r.image, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// containerPath maps a host sample path under dataDir to its path under
// DataMount.
func containerPath(dataDir string) func(string) (string, error) {
	return func(p string) (string, error) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(dataDir, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is outside %s", p, dataDir)
		}
		return path.Join(DataMount, filepath.ToSlash(rel)), nil
	}
}

// hijackedStdin closes only the write half so the runtime sees EOF while
// its remaining output can still be read.
type hijackedStdin struct {
	resp *types.HijackedResponse
}

func (h *hijackedStdin) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }
func (h *hijackedStdin) Close() error               { return h.resp.CloseWrite() }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
