package resolver

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// Capabilities describes what the resolver supports on this host. It mirrors
// the shape the application's bridge layer consumes.
type Capabilities struct {
	Available            bool   `json:"available"`
	Platform             string `json:"platform"`
	PlatformVersion      string `json:"platformVersion,omitempty"`
	KernelVersion        string `json:"kernelVersion,omitempty"`
	SupportsCustomServer bool   `json:"supportsCustomServer"`
	SupportsAsyncQuery   bool   `json:"supportsAsyncQuery"`
}

// Capabilities reports resolver availability and host platform details.
// The legacy client is compiled in, so the engine is always available.
func (r *Resolver) Capabilities(ctx context.Context) Capabilities {
	caps := Capabilities{
		Available:            true,
		Platform:             runtime.GOOS,
		SupportsCustomServer: true,
		SupportsAsyncQuery:   true,
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		if info.Platform != "" {
			caps.Platform = info.Platform
		}
		caps.PlatformVersion = info.PlatformVersion
		caps.KernelVersion = info.KernelVersion
	}
	return caps
}
