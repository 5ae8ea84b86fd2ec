package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime"
)

// Teardown removes every trace of a customer: container and volumes,
// deployment unit, mailbox, and finally the registry row. The row goes
// last so an interrupted teardown remains discoverable and retryable; a
// missing container or unit along the way is treated as already done.
//
// Callers own the confirmation step. This function does not ask twice.
func (o *Orchestrator) Teardown(ctx context.Context, subdomain string) error {
	unlock := o.locks.lock(subdomain)
	defer unlock()

	c, err := o.repo.Get(ctx, subdomain)
	if err != nil {
		return o.fail(opTeardown, StageLookup, subdomain, err)
	}

	// Mailbox first and best effort: mail admin APIs flake, and a
	// leftover mailbox is an operator chore, not a leak of compute.
	if c.MailboxAddress != nil && o.mail.Enabled() {
		if err := o.mail.Deprovision(ctx, *c.MailboxAddress); err != nil {
			slog.Warn("orchestrator: mailbox deprovision failed, continuing teardown",
				"subdomain", subdomain, "address", *c.MailboxAddress, "error", err)
		}
	}

	if err := o.rt.Stop(ctx, subdomain, o.stopTimeout); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return o.fail(opTeardown, StageStop, subdomain, err)
	}
	if err := o.rt.Remove(ctx, subdomain, true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return o.fail(opTeardown, StageRemove, subdomain, err)
	}

	if err := o.deployer.RemoveUnit(o.deployer.UnitPath(subdomain)); err != nil {
		return o.fail(opTeardown, StageRemoveUnit, subdomain, err)
	}

	if err := o.repo.Delete(ctx, subdomain); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return o.fail(opTeardown, StageRemoveRecord, subdomain, err)
	}

	slog.Info("orchestrator: teardown complete", "subdomain", subdomain)
	return nil
}

// ResetAdminPassword rotates a customer's admin password: new hash in the
// registry, env file rewritten, and the container recreated so the
// application picks it up. The build step is a cache hit since the
// checkout is untouched.
func (o *Orchestrator) ResetAdminPassword(ctx context.Context, subdomain, newPassword string) error {
	unlock := o.locks.lock(subdomain)
	defer unlock()

	c, err := o.repo.Get(ctx, subdomain)
	if err != nil {
		return o.fail(opPasswordReset, StageLookup, subdomain, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), o.bcryptCost)
	if err != nil {
		return o.fail(opPasswordReset, StageRegister, subdomain, err)
	}
	if err := o.repo.UpdatePasswordHash(ctx, subdomain, string(hash)); err != nil {
		return o.fail(opPasswordReset, StageRegister, subdomain, err)
	}
	c.AdminPasswordHash = string(hash)

	if !c.Deployed {
		return nil
	}
	if err := o.deployer.RefreshEnv(c); err != nil {
		return o.fail(opPasswordReset, StageRefreshEnv, subdomain, err)
	}
	if err := o.rt.BuildAndStart(ctx, o.deployer.UnitPath(subdomain)); err != nil {
		return o.fail(opPasswordReset, StageBuild, subdomain, err)
	}

	slog.Info("orchestrator: admin password reset", "subdomain", subdomain)
	return nil
}
