// Package docker manages images and containers for Docker-based servers
// through the Engine API.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-hclog"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/JuanVilla424/mcpsetup/internal/metrics"
)

const (
	LabelManagedBy  = "mcpsetup.managed-by"
	LabelServer     = "mcpsetup.server"
	containerPrefix = "mcp-"
)

// ErrUnavailable is returned by every operation when no daemon answered.
var ErrUnavailable = errors.New("docker not available")

// engineAPI is the subset of the Engine API client used here.
type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

var _ engineAPI = (*client.Client)(nil)

// Client wraps the Engine API. A Client whose daemon could not be reached
// is still usable: every call fails with ErrUnavailable.
type Client struct {
	api    engineAPI
	logger hclog.Logger
	mu     sync.Mutex
	err    error
}

// Connect tries DOCKER_HOST and then the usual socket locations.
func Connect(ctx context.Context, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &Client{logger: logger.Named("docker")}
	api, err := dial(ctx)
	if err != nil {
		c.err = err
		c.logger.Debug("docker daemon not reachable", "error", err)
		return c
	}
	c.api = api
	return c
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api engineAPI, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{api: api, logger: logger.Named("docker")}
}

func dial(ctx context.Context) (*client.Client, error) {
	ping := func(cli *client.Client) bool {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := cli.Ping(pctx)
		return err == nil
	}

	if cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation()); err == nil {
		if ping(cli) {
			return cli, nil
		}
		cli.Close()
	}

	home, _ := os.UserHomeDir()
	hosts := []string{
		"unix://" + home + "/.docker/run/docker.sock",
		"unix:///var/run/docker.sock",
		"unix://" + home + "/.colima/docker.sock",
		"npipe:////./pipe/docker_engine",
	}
	for _, host := range hosts {
		cli, err := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
		if err != nil {
			continue
		}
		if ping(cli) {
			return cli, nil
		}
		cli.Close()
	}
	return nil, fmt.Errorf("%w: could not connect to Docker daemon", ErrUnavailable)
}

// Available pings the daemon.
func (c *Client) Available(ctx context.Context) bool {
	if c == nil || c.api == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.api.Ping(pctx)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err == nil
}

// Err is the last connection error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) ready() error {
	if c == nil || c.api == nil {
		return ErrUnavailable
	}
	return nil
}

// ContainerName is the container a server runs in.
func ContainerName(server string) string {
	return containerPrefix + server
}

func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	_, _, err := c.api.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// RunSpec describes a long-running server container.
type RunSpec struct {
	Server  string
	Image   string
	Env     map[string]string
	Ports   []string
	Volumes []string
	Command []string
}

// Run starts a fresh container for spec.Server. Any previous container with
// the same name is removed first, so repeated runs leave exactly one.
func (c *Client) Run(ctx context.Context, spec RunSpec) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	name := ContainerName(spec.Server)
	if err := c.removeByName(ctx, name); err != nil {
		return "", fmt.Errorf("removing previous container: %w", err)
	}

	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return "", fmt.Errorf("parsing ports: %w", err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          spec.Command,
		ExposedPorts: exposed,
		OpenStdin:    true,
		Labels: map[string]string{
			LabelManagedBy: "mcpsetup",
			LabelServer:    spec.Server,
		},
	}
	hostCfg := &container.HostConfig{
		Binds:        spec.Volumes,
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", name, err)
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", name, err)
	}
	c.logger.Info("container started", "server", spec.Server, "image", spec.Image, "status", "ok")
	return resp.ID, nil
}

func (c *Client) find(ctx context.Context, name string) (string, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", err
	}
	for _, ct := range list {
		for _, n := range ct.Names {
			if n == "/"+name {
				return ct.ID, nil
			}
		}
	}
	return "", nil
}

func (c *Client) removeByName(ctx context.Context, name string) error {
	id, err := c.find(ctx, name)
	if err != nil || id == "" {
		return err
	}
	timeout := 5
	_ = c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	err = c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) lookup(ctx context.Context, server string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	id, err := c.find(ctx, ContainerName(server))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no container for server %s", server)
	}
	return id, nil
}

func (c *Client) Start(ctx context.Context, server string) error {
	id, err := c.lookup(ctx, server)
	if err != nil {
		return err
	}
	return c.api.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *Client) Stop(ctx context.Context, server string) error {
	id, err := c.lookup(ctx, server)
	if err != nil {
		return err
	}
	timeout := 10
	return c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
}

func (c *Client) Restart(ctx context.Context, server string) error {
	id, err := c.lookup(ctx, server)
	if err != nil {
		return err
	}
	timeout := 10
	return c.api.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout})
}

// Remove stops and deletes the server's container. A missing container is
// not an error.
func (c *Client) Remove(ctx context.Context, server string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.removeByName(ctx, ContainerName(server))
}

func (c *Client) Logs(ctx context.Context, server string, tail int) (string, error) {
	id, err := c.lookup(ctx, server)
	if err != nil {
		return "", err
	}
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true}
	if tail > 0 {
		opts.Tail = fmt.Sprint(tail)
	}
	rc, err := c.api.ContainerLogs(ctx, id, opts)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	var out strings.Builder
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil && err != io.EOF {
		return "", err
	}
	return out.String(), nil
}

// ContainerInfo is one managed container.
type ContainerInfo struct {
	Server  string `json:"server"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// List returns every container carrying the mcpsetup label.
func (c *Client) List(ctx context.Context) ([]ContainerInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManagedBy+"=mcpsetup")),
	})
	if err != nil {
		return nil, err
	}
	out := make([]ContainerInfo, 0, len(list))
	for _, ct := range list {
		name := ""
		if len(ct.Names) > 0 {
			name = strings.TrimPrefix(ct.Names[0], "/")
		}
		id := ct.ID
		if len(id) > 12 {
			id = id[:12]
		}
		out = append(out, ContainerInfo{
			Server:  ct.Labels[LabelServer],
			ID:      id,
			Name:    name,
			Image:   ct.Image,
			State:   ct.State,
			Status:  ct.Status,
			Running: ct.State == "running",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out, nil
}

func (c *Client) Inspect(ctx context.Context, server string) (ContainerInfo, error) {
	id, err := c.lookup(ctx, server)
	if err != nil {
		return ContainerInfo{}, err
	}
	js, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, err
	}
	info := ContainerInfo{Server: server, ID: id, Name: strings.TrimPrefix(js.Name, "/")}
	if js.Config != nil {
		info.Image = js.Config.Image
	}
	if js.State != nil {
		info.State = js.State.Status
		info.Running = js.State.Running
	}
	return info, nil
}

// Monitor polls the managed containers every interval until ctx ends.
func (c *Client) Monitor(ctx context.Context, interval time.Duration, fn func([]ContainerInfo, error)) error {
	if err := c.ready(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		list, err := c.List(ctx)
		if err == nil {
			running := 0
			for _, ct := range list {
				if ct.Running {
					running++
				}
			}
			metrics.ManagedContainers.Set(float64(running))
		}
		fn(list, err)
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}
