// Package sweeper reconciles the Docker host with the customer registry.
// It removes orphaned containers whose registry record or deployment unit
// is gone, warns about deployed customers whose container is missing or
// stopped, and prunes unused images and volumes. A single host accretes
// build leftovers fast; without the sweep it eventually fills its disk.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime"
)

// Sweeper polls the container runtime and reconciles it with the registry
// and the deployed units on disk.
type Sweeper struct {
	repo         registry.Repository
	rt           runtime.Runtime
	deployedRoot string
	interval     time.Duration
	stopGrace    time.Duration
}

func New(repo registry.Repository, rt runtime.Runtime, deployedRoot string, interval, stopGrace time.Duration) *Sweeper {
	return &Sweeper{
		repo:         repo,
		rt:           rt,
		deployedRoot: deployedRoot,
		interval:     interval,
		stopGrace:    stopGrace,
	}
}

// Report summarizes one sweep.
type Report struct {
	ContainersSeen int                 `json:"containers_seen"`
	OrphansRemoved int                 `json:"orphans_removed"`
	DriftWarnings  int                 `json:"drift_warnings"`
	Prune          runtime.PruneResult `json:"prune"`
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			if report, err := s.SweepOnce(ctx); err != nil {
				slog.Error("sweeper: sweep failed", "error", err)
			} else if report.OrphansRemoved > 0 || report.DriftWarnings > 0 {
				slog.Info("sweeper: sweep complete",
					"containers", report.ContainersSeen,
					"orphans_removed", report.OrphansRemoved,
					"drift_warnings", report.DriftWarnings,
					"images_pruned", report.Prune.ImagesRemoved)
			}
		}
	}
}

// SweepOnce runs a single reconciliation pass and returns its report.
// Also invoked on demand by the operator prune surface.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report

	containers, err := s.rt.ListManaged(ctx)
	if err != nil {
		return report, fmt.Errorf("listing managed containers: %w", err)
	}
	report.ContainersSeen = len(containers)

	for _, ct := range containers {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		sub := s.subdomainOf(ct)
		if sub == "" {
			slog.Warn("sweeper: managed container without a subdomain, leaving it alone",
				"container", ct.Name)
			continue
		}
		orphaned, reason := s.isOrphan(ctx, sub)
		if !orphaned {
			continue
		}
		if s.removeOrphan(ctx, sub, reason) {
			report.OrphansRemoved++
		}
	}

	report.DriftWarnings = s.checkDrift(ctx)

	prune, err := s.rt.PruneUnused(ctx)
	if err != nil {
		slog.Warn("sweeper: prune failed", "error", err)
	} else {
		report.Prune = prune
	}

	return report, nil
}

func (s *Sweeper) subdomainOf(ct runtime.Container) string {
	if sub := ct.Labels[runtime.SubdomainLabel]; sub != "" {
		return sub
	}
	if sub, ok := runtime.SubdomainFromName(ct.Name); ok {
		return sub
	}
	return ""
}

// isOrphan reports whether a container's backing state is gone. A registry
// read error is not an orphan; removal only happens on positive evidence.
func (s *Sweeper) isOrphan(ctx context.Context, subdomain string) (bool, string) {
	_, err := s.repo.Get(ctx, subdomain)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return true, "no registry record"
	case err != nil:
		slog.Warn("sweeper: registry lookup failed, skipping container",
			"subdomain", subdomain, "error", err)
		return false, ""
	}

	if _, err := os.Stat(filepath.Join(s.deployedRoot, subdomain)); os.IsNotExist(err) {
		return true, "no deployment unit"
	}
	return false, ""
}

func (s *Sweeper) removeOrphan(ctx context.Context, subdomain, reason string) bool {
	if err := s.rt.Stop(ctx, subdomain, s.stopGrace); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		slog.Warn("sweeper: failed to stop orphan container",
			"subdomain", subdomain, "error", err)
	}
	if err := s.rt.Remove(ctx, subdomain, true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		slog.Error("sweeper: failed to remove orphan container",
			"subdomain", subdomain, "error", err)
		return false
	}
	slog.Warn("sweeper: removed orphan container", "subdomain", subdomain, "reason", reason)
	return true
}

// checkDrift warns about deployed customers whose container is missing or
// not running. The sweeper never auto-restarts; the operator decides.
func (s *Sweeper) checkDrift(ctx context.Context) int {
	deployed := true
	customers, err := s.repo.List(ctx, registry.ListFilter{Deployed: &deployed})
	if err != nil {
		slog.Error("sweeper: failed to list deployed customers", "error", err)
		return 0
	}

	warnings := 0
	for _, c := range customers {
		if ctx.Err() != nil {
			return warnings
		}
		ct, err := s.rt.FindBySubdomain(ctx, c.Subdomain)
		switch {
		case errors.Is(err, runtime.ErrNotFound):
			slog.Warn("sweeper: deployed customer has no container",
				"subdomain", c.Subdomain)
			warnings++
		case err != nil:
			slog.Warn("sweeper: container lookup failed",
				"subdomain", c.Subdomain, "error", err)
		case !ct.Running():
			slog.Warn("sweeper: deployed customer's container is not running",
				"subdomain", c.Subdomain, "state", ct.State, "status", ct.Status)
			warnings++
		}
	}
	return warnings
}
