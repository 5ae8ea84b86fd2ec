package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// Upgrade re-materializes a deployed customer against the current template
// revision and rebuilds its container.
//
// Data safety is bracketed: the customer's data is backed up before the
// checkout is touched and restored before the rebuild. Any failure between
// backup and rebuild aborts the upgrade with the previous container still
// serving on the old image.
func (o *Orchestrator) Upgrade(ctx context.Context, subdomain string) error {
	unlock := o.locks.lock(subdomain)
	defer unlock()

	c, err := o.repo.Get(ctx, subdomain)
	if err != nil {
		return o.fail(opUpgrade, StageLookup, subdomain, err)
	}
	if !c.Deployed {
		return o.fail(opUpgrade, StageLookup, subdomain, ErrNotDeployed)
	}

	unit := o.deployer.UnitPath(subdomain)

	backupDir, err := o.deployer.Backup(unit)
	if err != nil {
		return o.fail(opUpgrade, StageBackup, subdomain, fmt.Errorf("%w: %w", ErrBackupFailed, err))
	}
	slog.Info("orchestrator: data backed up", "subdomain", subdomain, "backup", backupDir)

	if _, err := o.deployer.Materialize(ctx, c); err != nil {
		return o.fail(opUpgrade, StageMaterialize, subdomain, err)
	}

	if err := o.deployer.Restore(unit, backupDir); err != nil {
		// Hard stop: rebuilding onto possibly inconsistent data is the
		// one thing an upgrade must never do.
		return o.fail(opUpgrade, StageRestore, subdomain, fmt.Errorf("%w: %w", ErrRestoreFailed, err))
	}

	if err := o.deployer.MigrateData(ctx, unit); err != nil {
		return o.fail(opUpgrade, StageMigrate, subdomain, fmt.Errorf("%w: %w", ErrMigrationFailed, err))
	}

	if err := o.rt.BuildAndStart(ctx, unit); err != nil {
		stageErr := o.fail(opUpgrade, StageBuild, subdomain, err)
		o.reportFailure(ctx, subdomain, stageErr)
		return stageErr
	}

	slog.Info("orchestrator: upgrade complete", "subdomain", subdomain)
	return nil
}

// UpgradeOutcome is the per-customer result of a batch upgrade.
type UpgradeOutcome struct {
	Subdomain string
	Err       error
	// Planned lists the operations a dry run would have executed.
	Planned []string
}

// UpgradeAll upgrades the given subdomains sequentially, or every deployed
// customer when none are given. One customer's failure does not stop the
// batch. With dryRun set, nothing is executed and each outcome carries the
// exact operations an upgrade would run.
func (o *Orchestrator) UpgradeAll(ctx context.Context, subdomains []string, dryRun bool) ([]UpgradeOutcome, error) {
	if len(subdomains) == 0 {
		deployed := true
		customers, err := o.repo.List(ctx, registry.ListFilter{Deployed: &deployed})
		if err != nil {
			return nil, fmt.Errorf("listing deployed customers: %w", err)
		}
		for _, c := range customers {
			subdomains = append(subdomains, c.Subdomain)
		}
	}

	outcomes := make([]UpgradeOutcome, 0, len(subdomains))
	for _, sub := range subdomains {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out := UpgradeOutcome{Subdomain: sub}
		if dryRun {
			out.Planned = o.upgradePlan(sub)
		} else {
			out.Err = o.Upgrade(ctx, sub)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// upgradePlan describes the upgrade steps for one customer with the real
// paths involved, for dry-run output.
func (o *Orchestrator) upgradePlan(subdomain string) []string {
	unit := o.deployer.UnitPath(subdomain)
	return []string{
		fmt.Sprintf("back up %s/app/instance and %s/app/static/uploads to %s/backups/<timestamp>", unit, unit, unit),
		fmt.Sprintf("sync template checkout in %s/app, preserving data dirs", unit),
		fmt.Sprintf("render %s/app/.env and %s/docker-compose.yml from the registry record", unit, unit),
		"restore data dirs from the fresh backup",
		fmt.Sprintf("run %s/app/scripts/migrate.sh if the template ships it", unit),
		fmt.Sprintf("docker compose build && docker compose up -d in %s", unit),
	}
}
