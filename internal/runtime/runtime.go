// Package runtime defines the container runtime boundary used by the
// provisioning orchestrator and the sweeper. Implementations manage the
// isolated application containers that back deployment units; the rest of
// the control plane only ever talks to this interface so the underlying
// engine can be swapped or faked in tests.
package runtime

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by Runtime implementations.
var (
	// ErrNotFound indicates no container exists for the subdomain.
	ErrNotFound = errors.New("container not found")
	// ErrBuild indicates the image build step failed. The previously
	// running container, if any, is left untouched.
	ErrBuild = errors.New("image build failed")
	// ErrStart indicates the container failed to start after a
	// successful build.
	ErrStart = errors.New("container start failed")
)

// Container describes a customer container known to the engine.
type Container struct {
	ID     string
	Name   string
	Image  string
	State  string // e.g. "running", "exited"
	Status string // human-readable, e.g. "Up 3 days"
	Labels map[string]string
}

// Running reports whether the container is currently running.
func (c *Container) Running() bool {
	return c.State == "running"
}

// PruneResult summarizes an engine-wide cleanup of unused resources.
type PruneResult struct {
	ImagesRemoved  int    `json:"images_removed"`
	VolumesRemoved int    `json:"volumes_removed"`
	SpaceReclaimed uint64 `json:"space_reclaimed"`
}

// Labels applied to every container the platform creates. The sweeper uses
// them to enumerate managed containers and map each one back to its
// customer record.
const (
	ManagedLabel   = "io.minipass.managed"
	SubdomainLabel = "io.minipass.subdomain"
)

const namePrefix = "minipass-"

// ContainerName returns the canonical container name for a subdomain.
func ContainerName(subdomain string) string {
	return namePrefix + subdomain
}

// ImageTag returns the canonical image tag for a subdomain.
func ImageTag(subdomain string) string {
	return namePrefix + subdomain + ":latest"
}

// SubdomainFromName extracts the subdomain from a canonical container
// name. Reports false for names the platform did not assign.
func SubdomainFromName(name string) (string, bool) {
	sub, ok := strings.CutPrefix(name, namePrefix)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}

// Runtime manages the lifecycle of customer containers.
//
// All operations accept a context and are bounded: implementations must
// enforce their configured build and stop timeouts so a wedged engine or a
// runaway build cannot stall the orchestrator indefinitely.
type Runtime interface {
	// BuildAndStart builds the image for the deployment unit at unitPath
	// and (re)starts its container. The build runs to completion before
	// the running container is replaced, so a failed build never takes
	// down a working deployment. Returns ErrBuild or ErrStart.
	BuildAndStart(ctx context.Context, unitPath string) error

	// Stop gracefully stops the container for subdomain, escalating to a
	// kill after the grace period. Returns ErrNotFound if no container
	// exists.
	Stop(ctx context.Context, subdomain string, grace time.Duration) error

	// Remove deletes the container for subdomain, and its volumes when
	// purgeVolumes is set. Returns ErrNotFound if no container exists.
	Remove(ctx context.Context, subdomain string, purgeVolumes bool) error

	// FindBySubdomain locates the container for subdomain, matching by
	// canonical name first and falling back to an image tag containing
	// the subdomain for deployments created before naming was uniform.
	FindBySubdomain(ctx context.Context, subdomain string) (*Container, error)

	// ListManaged returns every container carrying the platform's
	// managed label, running or not.
	ListManaged(ctx context.Context) ([]Container, error)

	// PruneUnused removes dangling images and unreferenced volumes.
	PruneUnused(ctx context.Context) (PruneResult, error)
}
