package inference_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/okian/shrinkrank/internal/adapters/inference"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// labelScript answers every path with the name of its parent directory.
const labelScript = `echo "loading $1"
echo ready
while IFS= read -r line; do
  case "$line" in
    *corrupt*) echo "error: cannot decode $line" ;;
    *) basename "$(dirname "$line")" ;;
  esac
done`

func fixture(t *testing.T) (artifact, data string) {
	t.Helper()
	dir := t.TempDir()
	artifact = filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(artifact, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	data = filepath.Join(dir, "data")
	if err := os.MkdirAll(filepath.Join(data, "cat"), 0o755); err != nil {
		t.Fatal(err)
	}
	return artifact, data
}

func TestExecRuntime(t *testing.T) {
	Convey("Given a runtime speaking the line protocol", t, func() {
		So(logger.Init(), ShouldBeNil)
		artifact, data := fixture(t)
		ctx := context.Background()

		rt, err := inference.NewExecRuntime([]string{"sh", "-c", labelScript, "runtime", inference.ModelPlaceholder},
			inference.WithReadyTimeout(5*time.Second))
		So(err, ShouldBeNil)

		Convey("When it is loaded", func() {
			s, err := rt.Load(ctx, inference.LoadSpec{ArtifactPath: artifact, DataDir: data})
			So(err, ShouldBeNil)
			defer s.Close()

			Convey("Then predictions should come back line by line", func() {
				label, err := s.Predict(ctx, filepath.Join(data, "cat", "1.jpg"))
				So(err, ShouldBeNil)
				So(label, ShouldEqual, "cat")

				label, err = s.Predict(ctx, filepath.Join(data, "dog", "2.jpg"))
				So(err, ShouldBeNil)
				So(label, ShouldEqual, "dog")
			})

			Convey("Then an error reply should fail the prediction", func() {
				_, err := s.Predict(ctx, filepath.Join(data, "cat", "corrupt.jpg"))
				So(errors.Is(err, model.ErrMetric), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "cannot decode")
			})

			Convey("Then paths with newlines should be refused", func() {
				_, err := s.Predict(ctx, "a\nb")
				So(errors.Is(err, inference.ErrBadSamplePath), ShouldBeTrue)
			})

			Convey("Then closing twice should be harmless", func() {
				So(s.Close(), ShouldBeNil)
				So(s.Close(), ShouldBeNil)
			})
		})

		Convey("When the artifact is missing", func() {
			_, err := rt.Load(ctx, inference.LoadSpec{ArtifactPath: filepath.Join(data, "none.onnx"), DataDir: data})
			So(errors.Is(err, model.ErrArtifact), ShouldBeTrue)
		})
	})

	Convey("Given runtimes that fail to load", t, func() {
		So(logger.Init(), ShouldBeNil)
		artifact, data := fixture(t)
		spec := inference.LoadSpec{ArtifactPath: artifact, DataDir: data}
		ctx := context.Background()

		Convey("A reported load error should be a metric error", func() {
			rt, err := inference.NewExecRuntime([]string{"sh", "-c", "echo 'error: unsupported opset'; exit 1"})
			So(err, ShouldBeNil)
			_, err = rt.Load(ctx, spec)
			So(errors.Is(err, model.ErrMetric), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "unsupported opset")
		})

		Convey("A silent exit should report the runtime never became ready", func() {
			rt, err := inference.NewExecRuntime([]string{"sh", "-c", "echo oops >&2; exit 3"})
			So(err, ShouldBeNil)
			_, err = rt.Load(ctx, spec)
			So(errors.Is(err, inference.ErrNotReady), ShouldBeTrue)
			So(errors.Is(err, inference.ErrRuntimeExited), ShouldBeTrue)
		})

		Convey("A hung runtime should time out", func() {
			rt, err := inference.NewExecRuntime([]string{"sh", "-c", "sleep 5"},
				inference.WithReadyTimeout(50*time.Millisecond), inference.WithStopTimeout(50*time.Millisecond))
			So(err, ShouldBeNil)
			_, err = rt.Load(ctx, spec)
			So(errors.Is(err, inference.ErrNotReady), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("An empty command should be rejected", func() {
			_, err := inference.NewExecRuntime(nil)
			So(err, ShouldNotBeNil)
		})
	})
}

// fakeDocker emulates a container running the label protocol over a
// hijacked connection.
type fakeDocker struct {
	mu       sync.Mutex
	config   *container.Config
	host     *container.HostConfig
	received []string
	stopped  bool
	removed  bool
	server   net.Conn
	client   net.Conn
}

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string,
) (container.CreateResponse, error) {
	f.config, f.host = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) ContainerAttach(context.Context, string, container.AttachOptions) (types.HijackedResponse, error) {
	f.server, f.client = net.Pipe()
	return types.HijackedResponse{Conn: f.client, Reader: bufio.NewReader(f.client)}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	go func() {
		out := stdcopy.NewStdWriter(f.server, stdcopy.Stdout)
		errOut := stdcopy.NewStdWriter(f.server, stdcopy.Stderr)
		_, _ = errOut.Write([]byte("warming up\n"))
		_, _ = out.Write([]byte("ready\n"))
		sc := bufio.NewScanner(f.server)
		for sc.Scan() {
			line := sc.Text()
			f.mu.Lock()
			f.received = append(f.received, line)
			f.mu.Unlock()
			_, _ = out.Write([]byte(path.Base(path.Dir(line)) + "\n"))
		}
	}()
	return nil
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	f.stopped = true
	return nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.removed = true
	return nil
}

func TestDockerRuntime(t *testing.T) {
	Convey("Given a docker runtime", t, func() {
		So(logger.Init(), ShouldBeNil)
		artifact, data := fixture(t)
		api := &fakeDocker{}
		rt := inference.NewDockerRuntime(api, "shrinkrank/runtime:latest",
			[]string{"python", "serve.py", inference.ModelPlaceholder, inference.DataPlaceholder},
			inference.WithMemoryMB(512), inference.WithCPUs(1.5), inference.WithPull(true))
		ctx := context.Background()

		Convey("When an artifact is loaded", func() {
			s, err := rt.Load(ctx, inference.LoadSpec{ArtifactPath: artifact, DataDir: data})
			So(err, ShouldBeNil)

			Convey("Then the container should be sandboxed", func() {
				So(api.config.Cmd, ShouldResemble, []string{"python", "serve.py", "/submission/model.onnx", "/data"})
				So(api.config.NetworkDisabled, ShouldBeTrue)
				So(string(api.host.NetworkMode), ShouldEqual, "none")
				So(api.host.Resources.Memory, ShouldEqual, int64(512<<20))
				So(api.host.Resources.NanoCPUs, ShouldEqual, int64(1500000000))
				So(api.host.Mounts, ShouldHaveLength, 2)
				for _, m := range api.host.Mounts {
					So(m.ReadOnly, ShouldBeTrue)
				}
				So(s.Close(), ShouldBeNil)
			})

			Convey("Then host sample paths should be rewritten under /data", func() {
				label, err := s.Predict(ctx, filepath.Join(data, "cat", "1.jpg"))
				So(err, ShouldBeNil)
				So(label, ShouldEqual, "cat")

				_, err = s.Predict(ctx, filepath.Join(os.TempDir(), "elsewhere.jpg"))
				So(errors.Is(err, inference.ErrBadSamplePath), ShouldBeTrue)

				So(s.Close(), ShouldBeNil)
				api.mu.Lock()
				So(api.received, ShouldResemble, []string{"/data/cat/1.jpg"})
				api.mu.Unlock()
				So(api.stopped, ShouldBeTrue)
				So(api.removed, ShouldBeTrue)
			})
		})
	})
}
