// Package sysinfo is a demo Plugin exposing host metrics as an MCP
// resource, standing in for the concrete plugin bodies spec.md §1
// scopes out of the core. Grounded on the teacher's cmd/pulse-agent
// host-info collection (gopsutil host/cpu/mem), adapted from an
// agent-reporting loop into a single on-demand resource read.
package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/hearthd/hearthd/internal/registry"
)

const resourceURI = "sysinfo://host"

// Plugin reports live host CPU/memory/uptime metrics.
type Plugin struct{}

// New returns an unstarted sysinfo plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "sysinfo" }

func (p *Plugin) Init(ctx context.Context) error    { return nil }
func (p *Plugin) Cleanup(ctx context.Context) error { return nil }

func (p *Plugin) Tools() []registry.ToolDescriptor { return nil }

func (p *Plugin) Resources() []registry.ResourceDescriptor {
	return []registry.ResourceDescriptor{
		{
			URI:         resourceURI,
			Name:        "Host system info",
			Description: "Live CPU load, memory usage, and uptime for this host",
			MimeType:    "application/json",
			Handler:     p.readHostInfo,
		},
	}
}

func (p *Plugin) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (*registry.ToolResult, error) {
	return nil, fmt.Errorf("sysinfo: no tools registered, got %q", name)
}

func (p *Plugin) ReadResource(ctx context.Context, uri string) (*registry.ResourceResult, error) {
	if uri != resourceURI {
		return nil, fmt.Errorf("sysinfo: unknown resource %q", uri)
	}
	return p.readHostInfo(ctx)
}

type hostReport struct {
	Hostname    string  `json:"hostname"`
	UptimeSecs  uint64  `json:"uptimeSeconds"`
	CPUPercent  float64 `json:"cpuPercent"`
	MemUsedPct  float64 `json:"memUsedPercent"`
	MemTotalMB  uint64  `json:"memTotalMB"`
	MemUsedMB   uint64  `json:"memUsedMB"`
}

func (p *Plugin) readHostInfo(ctx context.Context) (*registry.ResourceResult, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: host info: %w", err)
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: cpu percent: %w", err)
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: virtual memory: %w", err)
	}

	report := hostReport{
		Hostname:   info.Hostname,
		UptimeSecs: info.Uptime,
		CPUPercent: cpuPct,
		MemUsedPct: vm.UsedPercent,
		MemTotalMB: vm.Total / (1024 * 1024),
		MemUsedMB:  vm.Used / (1024 * 1024),
	}

	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("sysinfo: marshal report: %w", err)
	}

	return &registry.ResourceResult{
		Content: registry.Content{Type: registry.ContentText, Text: string(data), MimeType: "application/json"},
	}, nil
}
