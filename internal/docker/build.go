package docker

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

//go:embed dockerfiles
var dockerfiles embed.FS

// Dockerfiles lists the bundled Dockerfile names.
func Dockerfiles() []string {
	entries, _ := fs.ReadDir(dockerfiles, "dockerfiles")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// Materialize writes the bundled Dockerfiles into dir, leaving files the
// user already edited alone.
func Materialize(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, name := range Dockerfiles() {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := dockerfiles.ReadFile("dockerfiles/" + name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", dst, err)
		}
	}
	return nil
}

// ProgressFunc receives one human readable line of build or pull output.
type ProgressFunc func(line string)

type BuildRequest struct {
	ContextDir string
	Dockerfile string
	Tag        string
}

// Build builds req.Tag from the Dockerfile inside req.ContextDir.
func (c *Client) Build(ctx context.Context, req BuildRequest, progress ProgressFunc) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(req.ContextDir, req.Dockerfile)); err != nil {
		return fmt.Errorf("dockerfile not found: %w", err)
	}
	tar, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("packing build context: %w", err)
	}
	defer tar.Close()

	resp, err := c.api.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  req.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{LabelManagedBy: "mcpsetup"},
	})
	if err != nil {
		return fmt.Errorf("building %s: %w", req.Tag, err)
	}
	defer resp.Body.Close()
	if err := drain(resp.Body, progress); err != nil {
		return fmt.Errorf("building %s: %w", req.Tag, err)
	}
	c.logger.Info("image built", "image", req.Tag, "status", "ok")
	return nil
}

// Pull fetches ref from its registry.
func (c *Client) Pull(ctx context.Context, ref string, progress ProgressFunc) error {
	if err := c.ready(); err != nil {
		return err
	}
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	defer rc.Close()
	if err := drain(rc, progress); err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	return nil
}

// drain decodes a build or pull message stream and stops at the first
// error message the daemon sends.
func drain(r io.Reader, progress ProgressFunc) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if progress == nil {
			continue
		}
		line := strings.TrimSpace(msg.Stream)
		if line == "" && msg.Status != "" {
			line = strings.TrimSpace(msg.ID + " " + msg.Status)
		}
		if line != "" {
			progress(line)
		}
	}
}

// StartDaemon asks the platform to start Docker and waits up to wait for
// the daemon to answer.
func StartDaemon(ctx context.Context, runner shell.Runner, c *Client, wait time.Duration) error {
	var cmd shell.Command
	switch runtime.GOOS {
	case "windows":
		cmd = shell.Command{Name: "cmd", Args: []string{"/c", "start", "", `C:\Program Files\Docker\Docker\Docker Desktop.exe`}}
	case "darwin":
		cmd = shell.Command{Name: "open", Args: []string{"-a", "Docker"}}
	default:
		cmd = shell.Command{Name: "sudo", Args: []string{"systemctl", "start", "docker"}}
	}
	if _, err := runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("starting docker: %w", err)
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if c.api == nil {
			if api, err := dial(ctx); err == nil {
				c.api = api
			}
		}
		if c.Available(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("%w: daemon did not start within %s", ErrUnavailable, wait)
}
