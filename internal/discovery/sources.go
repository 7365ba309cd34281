package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
)

const (
	OfficialRegistryURL = "https://registry.modelcontextprotocol.io"
	NPMRegistryURL      = "https://registry.npmjs.org"
	GitHubAPIURL        = "https://api.github.com"
	DockerHubURL        = "https://hub.docker.com"
)

// LocalSource serves the on-disk catalog.
func LocalSource(path string) Source {
	return Source{
		Name:     "local",
		Priority: 0,
		Fetch: func(ctx context.Context) ([]catalog.ServerDescriptor, error) {
			c, err := catalog.Load(path)
			if err != nil {
				return nil, err
			}
			return c.List(), nil
		},
	}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mcpsetup")
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", rawURL, err)
	}
	return nil
}

// OfficialRegistrySource queries the MCP registry. Each server maps to its
// first npm, pypi or oci package.
func OfficialRegistrySource(client *http.Client, baseURL string, limit int) Source {
	if baseURL == "" {
		baseURL = OfficialRegistryURL
	}
	if limit <= 0 {
		limit = 50
	}
	return Source{
		Name:     "official",
		Priority: 1,
		Network:  true,
		Fetch: func(ctx context.Context) ([]catalog.ServerDescriptor, error) {
			var body struct {
				Servers []struct {
					Server struct {
						Name        string `json:"name"`
						Description string `json:"description"`
						Version     string `json:"version"`
						Repository  struct {
							URL string `json:"url"`
						} `json:"repository"`
						Packages []struct {
							RegistryType         string `json:"registryType"`
							Identifier           string `json:"identifier"`
							Version              string `json:"version"`
							EnvironmentVariables []struct {
								Name       string `json:"name"`
								IsRequired bool   `json:"isRequired"`
							} `json:"environmentVariables"`
						} `json:"packages"`
					} `json:"server"`
				} `json:"servers"`
			}
			u := fmt.Sprintf("%s/v0.1/servers?limit=%d", strings.TrimRight(baseURL, "/"), limit)
			if err := getJSON(ctx, client, u, nil, &body); err != nil {
				return nil, err
			}

			var out []catalog.ServerDescriptor
			for _, s := range body.Servers {
				srv := s.Server
				if srv.Name == "" {
					continue
				}
				d := catalog.ServerDescriptor{
					ID:          catalog.NormalizeID(srv.Name),
					Name:        srv.Name,
					Description: srv.Description,
					Version:     srv.Version,
					Category:    "official",
				}
				matched := false
				for _, pkg := range srv.Packages {
					if pkg.Identifier == "" {
						continue
					}
					switch pkg.RegistryType {
					case "npm":
						d.Kind = catalog.KindNPM
						d.Spec.Package = pkg.Identifier
					case "pypi":
						d.Kind = catalog.KindPython
						d.Spec.Package = pkg.Identifier
					case "oci":
						d.Kind = catalog.KindDocker
						d.Spec.Image = pkg.Identifier
						d.Spec.RunMode = catalog.RunInteractive
					default:
						continue
					}
					for _, ev := range pkg.EnvironmentVariables {
						if ev.IsRequired && ev.Name != "" {
							d.Spec.RequiredEnv = append(d.Spec.RequiredEnv, ev.Name)
						}
					}
					matched = true
					break
				}
				if !matched {
					if srv.Repository.URL == "" {
						continue
					}
					d.Kind = catalog.KindURL
					d.Spec.Repository = srv.Repository.URL
				}
				d.Prerequisites = catalog.DefaultPrerequisites(d.Kind)
				out = append(out, d)
			}
			return out, nil
		},
	}
}

// NPMSource searches the npm registry for MCP server packages.
func NPMSource(client *http.Client, baseURL string, size int) Source {
	if baseURL == "" {
		baseURL = NPMRegistryURL
	}
	if size <= 0 {
		size = 30
	}
	return Source{
		Name:     "npm",
		Priority: 2,
		Network:  true,
		Fetch: func(ctx context.Context) ([]catalog.ServerDescriptor, error) {
			var body struct {
				Objects []struct {
					Package struct {
						Name        string   `json:"name"`
						Description string   `json:"description"`
						Version     string   `json:"version"`
						Keywords    []string `json:"keywords"`
					} `json:"package"`
				} `json:"objects"`
			}
			q := url.Values{}
			q.Set("text", "keywords:mcp-server")
			q.Set("size", fmt.Sprint(size))
			u := strings.TrimRight(baseURL, "/") + "/-/v1/search?" + q.Encode()
			if err := getJSON(ctx, client, u, nil, &body); err != nil {
				return nil, err
			}
			var out []catalog.ServerDescriptor
			for _, o := range body.Objects {
				p := o.Package
				if p.Name == "" {
					continue
				}
				out = append(out, catalog.ServerDescriptor{
					ID:            catalog.NormalizeID(p.Name),
					Name:          p.Name,
					Description:   p.Description,
					Version:       p.Version,
					Category:      "npm",
					Tags:          p.Keywords,
					Kind:          catalog.KindNPM,
					Spec:          catalog.InstallSpec{Package: p.Name},
					Prerequisites: catalog.DefaultPrerequisites(catalog.KindNPM),
				})
			}
			return out, nil
		},
	}
}

// GitHubSource searches repositories. Unauthenticated search allows ten
// requests a minute, so calls wait on limiter.
func GitHubSource(client *http.Client, baseURL, token string, limiter *rate.Limiter) Source {
	if baseURL == "" {
		baseURL = GitHubAPIURL
	}
	return Source{
		Name:     "github",
		Priority: 3,
		Network:  true,
		Fetch: func(ctx context.Context) ([]catalog.ServerDescriptor, error) {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			var body struct {
				Items []struct {
					Name            string `json:"name"`
					FullName        string `json:"full_name"`
					Description     string `json:"description"`
					CloneURL        string `json:"clone_url"`
					StargazersCount int    `json:"stargazers_count"`
					Language        string `json:"language"`
				} `json:"items"`
			}
			q := url.Values{}
			q.Set("q", `topic:mcp-server`)
			q.Set("sort", "stars")
			q.Set("per_page", "20")
			u := strings.TrimRight(baseURL, "/") + "/search/repositories?" + q.Encode()
			headers := map[string]string{"Accept": "application/vnd.github+json"}
			if token != "" {
				headers["Authorization"] = "Bearer " + token
			}
			if err := getJSON(ctx, client, u, headers, &body); err != nil {
				return nil, err
			}
			var out []catalog.ServerDescriptor
			for _, it := range body.Items {
				if it.Name == "" || it.CloneURL == "" {
					continue
				}
				d := catalog.ServerDescriptor{
					ID:          catalog.NormalizeID(it.Name),
					Name:        it.FullName,
					Description: it.Description,
					Category:    "community",
					Stars:       it.StargazersCount,
					Kind:        catalog.KindURL,
					Spec:        catalog.InstallSpec{Repository: it.CloneURL},
				}
				if strings.EqualFold(it.Language, "python") {
					d.Kind = catalog.KindPython
				}
				d.Prerequisites = catalog.DefaultPrerequisites(d.Kind)
				if d.Kind == catalog.KindPython {
					d.Prerequisites = append(d.Prerequisites, "git")
				} else {
					d.Prerequisites = append(d.Prerequisites, "node", "npm")
				}
				if it.Language != "" {
					d.Tags = []string{strings.ToLower(it.Language)}
				}
				out = append(out, d)
			}
			return out, nil
		},
	}
}

// DockerHubSource lists images in the mcp/ namespace.
func DockerHubSource(client *http.Client, baseURL string) Source {
	if baseURL == "" {
		baseURL = DockerHubURL
	}
	return Source{
		Name:     "dockerhub",
		Priority: 4,
		Network:  true,
		Fetch: func(ctx context.Context) ([]catalog.ServerDescriptor, error) {
			var body struct {
				Results []struct {
					Name        string `json:"name"`
					Namespace   string `json:"namespace"`
					Description string `json:"description"`
					StarCount   int    `json:"star_count"`
				} `json:"results"`
			}
			u := strings.TrimRight(baseURL, "/") + "/v2/namespaces/mcp/repositories?page_size=50"
			if err := getJSON(ctx, client, u, nil, &body); err != nil {
				return nil, err
			}
			var out []catalog.ServerDescriptor
			for _, r := range body.Results {
				if r.Name == "" {
					continue
				}
				ns := r.Namespace
				if ns == "" {
					ns = "mcp"
				}
				out = append(out, catalog.ServerDescriptor{
					ID:          catalog.NormalizeID(r.Name),
					Name:        ns + "/" + r.Name,
					Description: r.Description,
					Category:    "docker",
					Stars:       r.StarCount,
					Kind:        catalog.KindDocker,
					Spec: catalog.InstallSpec{
						Image:   ns + "/" + r.Name,
						RunMode: catalog.RunInteractive,
					},
					Prerequisites: catalog.DefaultPrerequisites(catalog.KindDocker),
				})
			}
			return out, nil
		},
	}
}

// DefaultSources wires every known source in priority order.
func DefaultSources(catalogPath, githubToken string, client *http.Client, limiter *rate.Limiter) []Source {
	if client == nil {
		client = http.DefaultClient
	}
	return []Source{
		LocalSource(catalogPath),
		OfficialRegistrySource(client, "", 0),
		NPMSource(client, "", 0),
		GitHubSource(client, "", githubToken, limiter),
		DockerHubSource(client, ""),
	}
}
