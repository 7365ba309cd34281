package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainer struct {
	id      string
	name    string
	image   string
	labels  map[string]string
	running bool
	binds   []string
}

type fakeAPI struct {
	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*fakeContainer
	next       int
	buildBody  string
	created    []*container.Config
	hosts      []*container.HostConfig
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{images: map[string]bool{}, containers: map[string]*fakeContainer{}}
}

func (f *fakeAPI) Ping(ctx context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeAPI) ImageInspectWithRaw(ctx context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[ref] {
		return types.ImageInspect{ID: ref}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(fmt.Errorf("no such image: %s", ref))
}

func (f *fakeAPI) ImageBuild(ctx context.Context, r io.Reader, opts types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	io.Copy(io.Discard, r)
	f.mu.Lock()
	for _, t := range opts.Tags {
		f.images[t] = true
	}
	f.mu.Unlock()
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildBody))}, nil
}

func (f *fakeAPI) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.images[ref] = true
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(`{"status":"Pulling","id":"abc"}` + "\n")), nil
}

func (f *fakeAPI) ContainerList(ctx context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Container
	for _, c := range f.containers {
		if names := opts.Filters.Get("name"); len(names) > 0 && !strings.Contains(c.name, names[0]) {
			continue
		}
		if labels := opts.Filters.Get("label"); len(labels) > 0 {
			kv := strings.SplitN(labels[0], "=", 2)
			if c.labels[kv[0]] != kv[1] {
				continue
			}
		}
		state := "exited"
		if c.running {
			state = "running"
		}
		out = append(out, types.Container{ID: c.id, Names: []string{"/" + c.name}, Image: c.image, Labels: c.labels, State: state})
	}
	return out, nil
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.name == name {
			return container.CreateResponse{}, errdefs.Conflict(errors.New("name already in use"))
		}
	}
	f.next++
	id := fmt.Sprintf("%064d", f.next)
	f.containers[id] = &fakeContainer{id: id, name: name, image: cfg.Image, labels: cfg.Labels, binds: host.Binds}
	f.created = append(f.created, cfg)
	f.hosts = append(f.hosts, host)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeAPI) setRunning(id string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	c.running = on
	return nil
}

func (f *fakeAPI) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	return f.setRunning(id, true)
}

func (f *fakeAPI) ContainerStop(ctx context.Context, id string, _ container.StopOptions) error {
	return f.setRunning(id, false)
}

func (f *fakeAPI) ContainerRestart(ctx context.Context, id string, _ container.StopOptions) error {
	return f.setRunning(id, true)
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeAPI) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("no such container"))
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			Name:  "/" + c.name,
			State: &types.ContainerState{Running: c.running, Status: status},
		},
		Config: &container.Config{Image: c.image},
	}, nil
}

func (f *fakeAPI) ContainerLogs(ctx context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	// stdcopy frame: stream 1 (stdout), 4 byte big endian length.
	payload := []byte("listening on 8931\n")
	var buf bytes.Buffer
	buf.Write([]byte{1, 0, 0, 0, 0, 0, 0, byte(len(payload))})
	buf.Write(payload)
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) Close() error { return nil }

func nat8931() nat.Port { return nat.Port("8931/tcp") }

func TestUnavailableClient(t *testing.T) {
	c := &Client{}
	assert.False(t, c.Available(context.Background()))
	_, err := c.ImageExists(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = c.Run(context.Background(), RunSpec{Server: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestImageExists(t *testing.T) {
	api := newFakeAPI()
	api.images["mcp/fetch"] = true
	c := NewWithAPI(api, nil)

	ok, err := c.ImageExists(context.Background(), "mcp/fetch")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ImageExists(context.Background(), "mcp/other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunTwiceLeavesOneContainer(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api, nil)
	spec := RunSpec{
		Server:  "browser",
		Image:   "mcp-browser:latest",
		Ports:   []string{"8931:8931"},
		Volumes: []string{"/tmp/data:/data"},
		Env:     map[string]string{"B": "2", "A": "1"},
	}

	_, err := c.Run(context.Background(), spec)
	require.NoError(t, err)
	id, err := c.Run(context.Background(), spec)
	require.NoError(t, err)

	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "browser", list[0].Server)
	assert.Equal(t, "mcp-browser", list[0].Name)
	assert.True(t, list[0].Running)

	last := api.created[len(api.created)-1]
	assert.Equal(t, []string{"A=1", "B=2"}, last.Env)
	assert.Contains(t, last.ExposedPorts, nat8931())
	assert.Equal(t, container.RestartPolicyUnlessStopped, api.hosts[len(api.hosts)-1].RestartPolicy.Name)

	info, err := c.Inspect(context.Background(), "browser")
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.True(t, info.Running)
}

func TestLifecycle(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api, nil)
	ctx := context.Background()
	_, err := c.Run(ctx, RunSpec{Server: "memory", Image: "mcp-memory:latest"})
	require.NoError(t, err)

	require.NoError(t, c.Stop(ctx, "memory"))
	info, _ := c.Inspect(ctx, "memory")
	assert.False(t, info.Running)

	require.NoError(t, c.Start(ctx, "memory"))
	require.NoError(t, c.Restart(ctx, "memory"))

	logs, err := c.Logs(ctx, "memory", 10)
	require.NoError(t, err)
	assert.Contains(t, logs, "listening on 8931")

	require.NoError(t, c.Remove(ctx, "memory"))
	require.NoError(t, c.Remove(ctx, "memory"))
	assert.Error(t, c.Stop(ctx, "memory"))
}

func TestBuildReportsProgressAndErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Materialize(dir))
	require.FileExists(t, filepath.Join(dir, "Dockerfile.git"))

	api := newFakeAPI()
	api.buildBody = `{"stream":"Step 1/3 : FROM python:3.12-slim\n"}` + "\n" + `{"stream":"Successfully built abc\n"}` + "\n"
	c := NewWithAPI(api, nil)

	var lines []string
	err := c.Build(context.Background(), BuildRequest{ContextDir: dir, Dockerfile: "Dockerfile.git", Tag: "mcp-git:latest"},
		func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Step 1/3 : FROM python:3.12-slim", "Successfully built abc"}, lines)

	api.buildBody = `{"stream":"Step 1/3"}` + "\n" + `{"errorDetail":{"message":"pip failed"},"error":"pip failed"}` + "\n"
	err = c.Build(context.Background(), BuildRequest{ContextDir: dir, Dockerfile: "Dockerfile.git", Tag: "mcp-git:latest"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pip failed")

	err = c.Build(context.Background(), BuildRequest{ContextDir: dir, Dockerfile: "Dockerfile.nope", Tag: "x"}, nil)
	assert.Error(t, err)
}

func TestMaterializeKeepsUserEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Dockerfile.memory")
	require.NoError(t, os.WriteFile(path, []byte("FROM custom\n"), 0644))
	require.NoError(t, Materialize(dir))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "FROM custom\n", string(data))
	assert.ElementsMatch(t, []string{"Dockerfile.filesystem", "Dockerfile.git", "Dockerfile.memory", "Dockerfile.playwright"}, Dockerfiles())
}

func TestPull(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api, nil)
	var lines []string
	require.NoError(t, c.Pull(context.Background(), "mcp/fetch", func(l string) { lines = append(lines, l) }))
	assert.Equal(t, []string{"abc Pulling"}, lines)
	ok, _ := c.ImageExists(context.Background(), "mcp/fetch")
	assert.True(t, ok)
}
