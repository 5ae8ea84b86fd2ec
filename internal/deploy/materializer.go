// Package deploy materializes customer records into deployment units on
// disk: a git checkout of the template application plus the rendered
// docker-compose.yml and .env that make it a runnable, isolated instance.
// Materialization is idempotent; running it again converges the unit to
// the current template revision and record state without touching
// per-customer data.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// Layout of a deployment unit under the deployed root:
//
//	<root>/<subdomain>/
//	    docker-compose.yml
//	    backups/<timestamp>/
//	    app/            git checkout of the template
//	    app/.env        rendered configuration
//	    app/instance/   customer database (preserved)
//	    app/static/uploads/  customer uploads (preserved)
const (
	appDirName      = "app"
	composeFileName = "docker-compose.yml"
	envFileName     = ".env"
	backupsDirName  = "backups"
	instanceDirName = "instance"
	uploadsDirName  = "static/uploads"
)

// preservedPaths are never discarded when syncing an existing checkout.
var preservedPaths = []string{instanceDirName, uploadsDirName}

var (
	// ErrSourceCheckout indicates the template checkout could not be
	// created or updated.
	ErrSourceCheckout = errors.New("source checkout failed")
	// ErrTemplateRender indicates the compose or env file could not be
	// rendered or written.
	ErrTemplateRender = errors.New("template render failed")
	// ErrPathConflict indicates the unit path exists but is not a prior
	// deployment unit, so proceeding would clobber unrelated files.
	ErrPathConflict = errors.New("deployment path conflict")
	// ErrUnitMissing indicates an operation that requires a materialized
	// unit found none on disk.
	ErrUnitMissing = errors.New("deployment unit missing")
)

// Manager is the slice of deployment-unit operations the orchestrator
// drives. *Materializer implements it.
type Manager interface {
	Materialize(ctx context.Context, c *registry.Customer) (string, error)
	RefreshEnv(c *registry.Customer) error
	UnitPath(subdomain string) string
	Backup(unitPath string) (string, error)
	Restore(unitPath, backupDir string) error
	MigrateData(ctx context.Context, unitPath string) error
	RemoveUnit(unitPath string) error
}

// Config carries the materializer's fixed parameters.
type Config struct {
	// DeployedRoot is the directory under which every unit lives.
	DeployedRoot string
	// BaseDomain is the apex domain customer subdomains hang off.
	BaseDomain string
	// SharedAPIKey is injected into every unit's env file.
	SharedAPIKey string
	// HookTimeout bounds template-provided hook scripts.
	HookTimeout time.Duration
}

// Materializer renders customer records into deployment units.
type Materializer struct {
	cfg Config
	src Source
}

func NewMaterializer(cfg Config, src Source) *Materializer {
	return &Materializer{cfg: cfg, src: src}
}

// UnitPath returns the deployment unit directory for a subdomain.
func (m *Materializer) UnitPath(subdomain string) string {
	return filepath.Join(m.cfg.DeployedRoot, subdomain)
}

// Materialize converges the deployment unit for c and returns its path.
//
// A fresh unit gets a new template checkout; an existing one is synced to
// the latest template revision with the customer's data paths preserved.
// The env file and compose file are rewritten unconditionally so the unit
// always reflects the current record.
func (m *Materializer) Materialize(ctx context.Context, c *registry.Customer) (string, error) {
	unit := m.UnitPath(c.Subdomain)
	appDir := filepath.Join(unit, appDirName)

	fresh, err := m.prepareUnit(unit, appDir)
	if err != nil {
		return "", err
	}

	if fresh {
		if err := m.src.Clone(ctx, appDir); err != nil {
			return "", fmt.Errorf("%w: %w", ErrSourceCheckout, err)
		}
	} else {
		if err := m.src.Sync(ctx, appDir, preservedPaths); err != nil {
			return "", fmt.Errorf("%w: %w", ErrSourceCheckout, err)
		}
	}

	// Data paths must exist before the container bind-mounts them,
	// otherwise the engine creates them root-owned.
	for _, rel := range preservedPaths {
		if err := os.MkdirAll(filepath.Join(appDir, rel), 0o755); err != nil {
			return "", fmt.Errorf("creating data dir %s: %w", rel, err)
		}
	}

	if err := m.writeEnvFile(appDir, c); err != nil {
		return "", err
	}

	compose, err := renderCompose(c, m.cfg.BaseDomain)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateRender, err)
	}
	if err := os.WriteFile(filepath.Join(unit, composeFileName), compose, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", ErrTemplateRender, composeFileName, err)
	}

	return unit, nil
}

// RefreshEnv rewrites the unit's env file from the current record without
// touching the checkout. Used after credential changes.
func (m *Materializer) RefreshEnv(c *registry.Customer) error {
	appDir := filepath.Join(m.UnitPath(c.Subdomain), appDirName)
	if _, err := os.Stat(appDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnitMissing, appDir)
		}
		return err
	}
	return m.writeEnvFile(appDir, c)
}

// RemoveUnit deletes the unit directory and everything beneath it,
// backups included.
func (m *Materializer) RemoveUnit(unitPath string) error {
	if err := os.RemoveAll(unitPath); err != nil {
		return fmt.Errorf("removing deployment unit: %w", err)
	}
	return nil
}

func (m *Materializer) writeEnvFile(appDir string, c *registry.Customer) error {
	env, err := renderEnvFile(c, m.cfg.BaseDomain, m.cfg.SharedAPIKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTemplateRender, err)
	}
	// Contains credentials; keep it out of group/world reach.
	if err := os.WriteFile(filepath.Join(appDir, envFileName), env, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrTemplateRender, envFileName, err)
	}
	return nil
}

// prepareUnit validates the unit path and reports whether a fresh checkout
// is needed. A directory containing an app/ without a .git marker belongs
// to something else; refusing to touch it is what keeps a mistyped
// DEPLOYED_ROOT from destroying unrelated data.
func (m *Materializer) prepareUnit(unit, appDir string) (fresh bool, err error) {
	info, err := os.Stat(unit)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(unit, 0o755); err != nil {
			return false, fmt.Errorf("creating deployment unit: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspecting deployment unit: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s exists and is not a directory", ErrPathConflict, unit)
	}

	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		// Unit dir exists but was never (fully) checked out, e.g. a
		// crash between mkdir and clone. Safe to start over.
		return true, nil
	}
	if _, err := os.Stat(filepath.Join(appDir, ".git")); err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s exists without a git checkout", ErrPathConflict, appDir)
		}
		return false, fmt.Errorf("inspecting checkout: %w", err)
	}
	return false, nil
}
