// Package compose implements the container runtime on a single Docker
// host. Images are built and containers (re)created through the docker
// compose CLI against each unit's docker-compose.yml, which is the only
// reliable way to get compose's own create/replace semantics; everything
// else (lookup, stop, remove, prune) talks to the Engine API directly.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/windseeker5/minipass-env-sub001/internal/runtime"
)

// EngineAPI is the slice of the Docker Engine API the runtime uses.
// *client.Client satisfies it; tests substitute a fake.
type EngineAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	ImagesPrune(ctx context.Context, pruneFilters filters.Args) (image.PruneReport, error)
	VolumesPrune(ctx context.Context, pruneFilter filters.Args) (volume.PruneReport, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// CommandRunner executes a docker compose subcommand inside a deployment
// unit and returns its combined output.
type CommandRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Config carries the engine's fixed parameters.
type Config struct {
	// BuildTimeout bounds a full build-and-start cycle.
	BuildTimeout time.Duration
	// Compose overrides the compose CLI invocation; nil uses the real
	// docker compose binary.
	Compose CommandRunner
}

// Engine implements runtime.Runtime against a Docker host.
type Engine struct {
	api     EngineAPI
	compose CommandRunner
	cfg     Config
}

var _ runtime.Runtime = (*Engine)(nil)

// Connect creates an Engine against the Docker host named by the standard
// DOCKER_HOST environment, negotiating the API version with the daemon.
func Connect(cfg Config) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return New(cli, cfg), nil
}

// New creates an Engine on an existing API client.
func New(api EngineAPI, cfg Config) *Engine {
	e := &Engine{api: api, compose: cfg.Compose, cfg: cfg}
	if e.compose == nil {
		e.compose = runCompose
	}
	return e
}

func runCompose(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"compose"}, args...)...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// BuildAndStart builds the unit's image and then replaces its container.
// The two phases are separate compose invocations so a failed build leaves
// the running container exactly as it was.
func (e *Engine) BuildAndStart(ctx context.Context, unitPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BuildTimeout)
	defer cancel()

	if out, err := e.compose(ctx, unitPath, "build"); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: timed out after %s: %w", runtime.ErrBuild, e.cfg.BuildTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %s", runtime.ErrBuild, tailLines(out, 5))
	}

	if out, err := e.compose(ctx, unitPath, "up", "-d"); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: timed out after %s: %w", runtime.ErrStart, e.cfg.BuildTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %s", runtime.ErrStart, tailLines(out, 5))
	}
	return nil
}

func (e *Engine) Stop(ctx context.Context, subdomain string, grace time.Duration) error {
	ct, err := e.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return err
	}
	secs := int(grace / time.Second)
	if err := e.api.ContainerStop(ctx, ct.ID, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("stopping container %s: %w", ct.Name, err)
	}
	return nil
}

func (e *Engine) Remove(ctx context.Context, subdomain string, purgeVolumes bool) error {
	ct, err := e.FindBySubdomain(ctx, subdomain)
	if err != nil {
		return err
	}
	opts := container.RemoveOptions{Force: true, RemoveVolumes: purgeVolumes}
	if err := e.api.ContainerRemove(ctx, ct.ID, opts); err != nil {
		return fmt.Errorf("removing container %s: %w", ct.Name, err)
	}

	if purgeVolumes {
		e.removeProjectVolumes(ctx, subdomain)
	}
	return nil
}

// removeProjectVolumes deletes named volumes compose created for the
// unit's project. Best effort: a leftover volume only costs disk and the
// sweeper prunes unreferenced ones eventually.
func (e *Engine) removeProjectVolumes(ctx context.Context, subdomain string) {
	f := filters.NewArgs(filters.Arg("label", "com.docker.compose.project="+subdomain))
	vols, err := e.api.VolumeList(ctx, volume.ListOptions{Filters: f})
	if err != nil {
		slog.Warn("runtime: failed to list project volumes", "subdomain", subdomain, "error", err)
		return
	}
	for _, v := range vols.Volumes {
		if err := e.api.VolumeRemove(ctx, v.Name, true); err != nil {
			slog.Warn("runtime: failed to remove volume", "volume", v.Name, "error", err)
		}
	}
}

// FindBySubdomain matches by canonical container name first. Deployments
// created before naming was uniform are found by an image tag containing
// the subdomain.
func (e *Engine) FindBySubdomain(ctx context.Context, subdomain string) (*runtime.Container, error) {
	containers, err := e.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	want := runtime.ContainerName(subdomain)
	for _, ct := range containers {
		for _, name := range ct.Names {
			if strings.TrimPrefix(name, "/") == want {
				found := toContainer(ct)
				return &found, nil
			}
		}
	}
	for _, ct := range containers {
		if strings.Contains(ct.Image, subdomain) {
			found := toContainer(ct)
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", runtime.ErrNotFound, subdomain)
}

func (e *Engine) ListManaged(ctx context.Context) ([]runtime.Container, error) {
	f := filters.NewArgs(filters.Arg("label", runtime.ManagedLabel+"=true"))
	containers, err := e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %w", err)
	}

	out := make([]runtime.Container, 0, len(containers))
	for _, ct := range containers {
		out = append(out, toContainer(ct))
	}
	return out, nil
}

func (e *Engine) PruneUnused(ctx context.Context) (runtime.PruneResult, error) {
	var result runtime.PruneResult

	imgReport, err := e.api.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return result, fmt.Errorf("pruning images: %w", err)
	}
	result.ImagesRemoved = len(imgReport.ImagesDeleted)
	result.SpaceReclaimed += imgReport.SpaceReclaimed

	volReport, err := e.api.VolumesPrune(ctx, filters.NewArgs())
	if err != nil {
		return result, fmt.Errorf("pruning volumes: %w", err)
	}
	result.VolumesRemoved = len(volReport.VolumesDeleted)
	result.SpaceReclaimed += volReport.SpaceReclaimed

	return result, nil
}

// ConnectivityStatus reports whether the Docker host is reachable.
type ConnectivityStatus struct {
	Connected  bool   `json:"connected"`
	APIVersion string `json:"api_version,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckConnectivity pings the Docker host. Used by the health endpoint.
func (e *Engine) CheckConnectivity(ctx context.Context) ConnectivityStatus {
	ping, err := e.api.Ping(ctx)
	if err != nil {
		return ConnectivityStatus{Connected: false, Error: err.Error()}
	}
	return ConnectivityStatus{Connected: true, APIVersion: ping.APIVersion}
}

func toContainer(ct types.Container) runtime.Container {
	name := ""
	if len(ct.Names) > 0 {
		name = strings.TrimPrefix(ct.Names[0], "/")
	}
	return runtime.Container{
		ID:     ct.ID,
		Name:   name,
		Image:  ct.Image,
		State:  ct.State,
		Status: ct.Status,
		Labels: ct.Labels,
	}
}

func tailLines(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
