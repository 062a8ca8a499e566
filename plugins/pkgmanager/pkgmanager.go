// Package pkgmanager is a demo Plugin standing in for the concrete
// package-management plugin bodies spec.md §1 scopes out of the core.
// It exposes container/image inventory as tools, routed through the
// Command Executor for anything that needs a privileged subprocess
// rather than talking to the daemon socket directly — the same split
// the teacher's docker-agent uses between its docker/client calls and
// its shelled-out helper invocations. Grounded on
// streamspace-dev-streamspace's agents/docker-agent (client
// construction via client.NewClientWithOpts +
// WithAPIVersionNegotiation).
package pkgmanager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/hearthd/hearthd/internal/execkit"
	"github.com/hearthd/hearthd/internal/registry"
)

// Plugin lists containers and images via the Docker engine API and
// exposes a generic package-install tool routed through the Command
// Executor's allowlist/audit path.
type Plugin struct {
	docker   *client.Client
	executor *execkit.Executor
}

// New returns a pkgmanager plugin that executes privileged install
// commands through executor.
func New(executor *execkit.Executor) *Plugin {
	return &Plugin{executor: executor}
}

func (p *Plugin) Name() string { return "pkgmanager" }

func (p *Plugin) Init(ctx context.Context) error {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("pkgmanager: docker client: %w", err)
	}
	p.docker = c
	return nil
}

func (p *Plugin) Cleanup(ctx context.Context) error {
	if p.docker == nil {
		return nil
	}
	return p.docker.Close()
}

func (p *Plugin) Tools() []registry.ToolDescriptor {
	return []registry.ToolDescriptor{
		{
			Name:        "pkgmanager.list_containers",
			Description: "List containers known to the local container engine",
			InputSchema: registry.Schema{Type: "object"},
			Handler:     p.listContainers,
		},
		{
			Name:        "pkgmanager.list_images",
			Description: "List images known to the local container engine",
			InputSchema: registry.Schema{Type: "object"},
			Handler:     p.listImages,
		},
		{
			Name:        "pkgmanager.install",
			Description: "Install a package by name using the host package manager",
			InputSchema: registry.Schema{
				Type:       "object",
				Properties: map[string]registry.Schema{"name": {Type: "string"}},
				Required:   []string{"name"},
			},
			Handler: p.install,
		},
	}
}

func (p *Plugin) Resources() []registry.ResourceDescriptor { return nil }

func (p *Plugin) listContainers(ctx context.Context, args map[string]interface{}) (*registry.ToolResult, error) {
	containers, err := p.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("pkgmanager: list containers: %w", err)
	}
	data, err := json.Marshal(containers)
	if err != nil {
		return nil, fmt.Errorf("pkgmanager: marshal containers: %w", err)
	}
	return registry.TextResult(string(data)), nil
}

func (p *Plugin) listImages(ctx context.Context, args map[string]interface{}) (*registry.ToolResult, error) {
	images, err := p.docker.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("pkgmanager: list images: %w", err)
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("pkgmanager: marshal images: %w", err)
	}
	return registry.TextResult(string(data)), nil
}

func (p *Plugin) install(ctx context.Context, args map[string]interface{}) (*registry.ToolResult, error) {
	name, _ := args["name"].(string)
	result, err := p.executor.Execute(ctx, "apt-get", []string{"install", "-y", name}, execkit.Options{CaptureOutput: true})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return registry.ErrorResult(fmt.Sprintf("install failed: %s", result.Stderr)), nil
	}
	return registry.TextResult(result.Stdout), nil
}

func (p *Plugin) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*registry.ToolResult, error) {
	for _, t := range p.Tools() {
		if t.Name == name {
			return t.Handler(ctx, args)
		}
	}
	return nil, fmt.Errorf("pkgmanager: unknown tool %q", name)
}

func (p *Plugin) ReadResource(ctx context.Context, uri string) (*registry.ResourceResult, error) {
	return nil, fmt.Errorf("pkgmanager: no resources registered, got %q", uri)
}
