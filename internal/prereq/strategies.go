package prereq

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JuanVilla424/mcpsetup/internal/download"
	"github.com/JuanVilla424/mcpsetup/internal/pathutil"
	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

// NodeVersion is the LTS release fetched by the direct download strategy.
const NodeVersion = "20.18.0"

const wingetFlags = "--silent --accept-package-agreements --accept-source-agreements"

func (r *Resolver) command(name string, args ...string) Strategy {
	c := shell.Command{Name: name, Args: args, Timeout: r.timeout}
	return Strategy{
		Name: name,
		Install: func(ctx context.Context) error {
			_, err := r.runner.Run(ctx, c)
			return err
		},
	}
}

func (r *Resolver) winget(id string) Strategy {
	args := append([]string{"install", "--id", id, "-e"}, strings.Fields(wingetFlags)...)
	s := r.command("winget", args...)
	s.Name = "winget " + id
	return s
}

func (r *Resolver) brew(args ...string) Strategy {
	s := r.command("brew", append([]string{"install"}, args...)...)
	s.Name = "brew"
	return s
}

func (r *Resolver) apt(pkgs ...string) Strategy {
	s := r.command("sudo", append([]string{"apt-get", "install", "-y", "-qq"}, pkgs...)...)
	s.Name = "apt-get"
	return s
}

func (r *Resolver) defaultStrategies() map[string][]Strategy {
	m := make(map[string][]Strategy)
	switch r.goos {
	case "windows":
		m["node"] = []Strategy{r.winget("OpenJS.NodeJS.LTS"), r.winget("OpenJS.NodeJS"), r.nodeDownload()}
		m["python"] = []Strategy{r.winget("Python.Python.3.12")}
		m["git"] = []Strategy{r.winget("Git.Git")}
		m["docker"] = []Strategy{r.winget("Docker.DockerDesktop")}
		m["uv"] = []Strategy{r.winget("astral-sh.uv"), r.pipUV()}
	case "darwin":
		m["node"] = []Strategy{r.brew("node"), r.nodeDownload()}
		m["python"] = []Strategy{r.brew("python@3.12")}
		m["git"] = []Strategy{r.brew("git")}
		m["docker"] = []Strategy{r.brew("--cask", "docker")}
		m["uv"] = []Strategy{r.brew("uv"), r.pipUV()}
	default:
		m["node"] = []Strategy{r.apt("nodejs", "npm"), r.nodeDownload()}
		m["python"] = []Strategy{r.apt("python3", "python3-pip", "python3-venv")}
		m["git"] = []Strategy{r.apt("git")}
		m["docker"] = []Strategy{r.apt("docker.io")}
		m["uv"] = []Strategy{r.pipUV()}
	}
	// npm ships with node.
	m["npm"] = m["node"]
	return m
}

func (r *Resolver) pipUV() Strategy {
	return Strategy{
		Name: "pip uv",
		Install: func(ctx context.Context) error {
			st := r.Check(ctx, "python")
			if !st.Installed {
				return fmt.Errorf("python is required to install uv")
			}
			_, err := r.runner.Run(ctx, shell.Command{
				Name:    st.Command,
				Args:    []string{"-m", "pip", "install", "--user", "uv"},
				Timeout: r.timeout,
			})
			return err
		},
	}
}

// NodeDist returns the archive base name and extension of the official
// Node.js build for a platform.
func NodeDist(goos, goarch string) (string, string) {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x64"
	case "386":
		arch = "x86"
	}
	osName := goos
	ext := ".tar.gz"
	if goos == "windows" {
		osName = "win"
		ext = ".zip"
	}
	return fmt.Sprintf("node-v%s-%s-%s", NodeVersion, osName, arch), ext
}

// nodeDownload fetches the official archive into the tools dir, extracts it
// and puts its bin directory on PATH for this process and future shells.
func (r *Resolver) nodeDownload() Strategy {
	return Strategy{
		Name: "download",
		Install: func(ctx context.Context) error {
			name, ext := NodeDist(r.goos, r.goarch)
			url := fmt.Sprintf("https://nodejs.org/dist/v%s/%s%s", NodeVersion, name, ext)
			if err := os.MkdirAll(r.toolsDir, 0755); err != nil {
				return fmt.Errorf("creating tools dir: %w", err)
			}
			archive := filepath.Join(r.toolsDir, name+ext)
			defer os.Remove(archive)

			dctx, cancel := context.WithTimeout(ctx, r.timeout)
			err := download.File(dctx, r.httpClient, url, archive)
			cancel()
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			// bsdtar on Windows 10+ also reads zip.
			flags := "-xzf"
			if ext == ".zip" {
				flags = "-xf"
			}
			if _, err := r.runner.Run(ctx, shell.Command{
				Name:    "tar",
				Args:    []string{flags, archive, "-C", r.toolsDir},
				Timeout: r.timeout,
			}); err != nil {
				return fmt.Errorf("extract failed: %w", err)
			}

			bin := filepath.Join(r.toolsDir, name, "bin")
			if r.goos == "windows" {
				bin = filepath.Join(r.toolsDir, name)
			}
			pathutil.Prepend(bin)
			if r.persistPath != nil {
				if err := r.persistPath(bin); err != nil {
					r.logger.Warn("could not persist PATH", "dir", bin, "error", err)
				}
			}
			return nil
		},
	}
}
