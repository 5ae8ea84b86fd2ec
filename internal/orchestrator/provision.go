package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/windseeker5/minipass-env-sub001/internal/allocator"
	"github.com/windseeker5/minipass-env-sub001/internal/notify"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// Intent is a request to provision a customer, normally built from a
// completed checkout. AdminPassword is the only place the plaintext
// password exists; the registry and the deployment unit both store the
// bcrypt hash.
type Intent struct {
	AppName          string
	AdminEmail       string
	AdminPassword    string
	OrganizationName string
	Plan             string
	BillingFrequency string
	PriceRef         string
	RenewsAt         *time.Time
	PaymentAmount    int64
	Currency         string
}

// Provision creates a fully deployed customer from an intent.
//
// The operation is safe to retry: a crashed run leaves a pending registry
// row, and a retry with the same admin email resumes from materialization.
// A retry after success returns the existing customer without touching the
// deployment. A different owner asking for the same subdomain is refused.
func (o *Orchestrator) Provision(ctx context.Context, in Intent) (*registry.Customer, error) {
	sub, err := allocator.Normalize(in.AppName)
	if err != nil {
		return nil, o.fail(opProvision, StageAllocate, in.AppName, err)
	}

	unlock := o.locks.lock(sub)
	defer unlock()

	c, resumed, err := o.ensureRecord(ctx, sub, in)
	if err != nil {
		return nil, err
	}
	if c.Deployed {
		slog.Info("orchestrator: subdomain already deployed for this owner, nothing to do",
			"subdomain", sub)
		return c, nil
	}
	if resumed {
		slog.Info("orchestrator: resuming pending provisioning", "subdomain", sub, "port", c.Port)
	} else {
		slog.Info("orchestrator: customer registered", "subdomain", sub, "port", c.Port, "plan", c.Plan)
	}

	unit, err := o.deployer.Materialize(ctx, c)
	if err != nil {
		stageErr := o.fail(opProvision, StageMaterialize, sub, err)
		o.reportFailure(ctx, in.AppName, stageErr)
		return nil, stageErr
	}

	if err := o.rt.BuildAndStart(ctx, unit); err != nil {
		// Registry row and unit stay behind for the postmortem; a retry
		// resumes from here.
		stageErr := o.fail(opProvision, StageBuild, sub, err)
		o.reportFailure(ctx, in.AppName, stageErr)
		return nil, stageErr
	}

	if err := o.repo.MarkDeployed(ctx, sub); err != nil {
		stageErr := o.fail(opProvision, StageFinalize, sub, err)
		o.reportFailure(ctx, in.AppName, stageErr)
		return nil, stageErr
	}
	c.Deployed = true
	slog.Info("orchestrator: customer deployed", "subdomain", sub, "url", o.CustomerURL(sub))

	// Side effects. Neither may fail the provisioning; the deployment is
	// already serving.
	address := o.provisionMailbox(ctx, c)
	o.sendWelcome(ctx, c, in.AdminPassword, address)

	return c, nil
}

// ensureRecord resolves the registry row for this intent: reuse an
// existing row owned by the same admin email, or atomically allocate a
// port and create a pending row.
func (o *Orchestrator) ensureRecord(ctx context.Context, sub string, in Intent) (*registry.Customer, bool, error) {
	existing, err := o.repo.Get(ctx, sub)
	switch {
	case err == nil:
		if !strings.EqualFold(existing.Email, in.AdminEmail) {
			return nil, false, o.fail(opProvision, StageAllocate, sub, allocator.ErrSubdomainTaken)
		}
		return existing, !existing.Deployed, nil
	case errors.Is(err, registry.ErrNotFound):
		// fresh provisioning
	default:
		return nil, false, o.fail(opProvision, StageLookup, sub, err)
	}

	if _, err := o.alloc.Allocate(ctx, in.AppName); err != nil {
		return nil, false, o.fail(opProvision, StageAllocate, sub, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.AdminPassword), o.bcryptCost)
	if err != nil {
		return nil, false, o.fail(opProvision, StageRegister, sub, err)
	}

	forward := in.AdminEmail
	c := &registry.Customer{
		Subdomain:         sub,
		Email:             in.AdminEmail,
		OrganizationName:  in.OrganizationName,
		Plan:              in.Plan,
		AdminPasswordHash: string(hash),
		BillingFrequency:  in.BillingFrequency,
		PriceRef:          in.PriceRef,
		RenewsAt:          in.RenewsAt,
		PaymentAmount:     in.PaymentAmount,
		Currency:          in.Currency,
		MailboxForwardTo:  &forward,
	}
	if err := o.repo.CreatePending(ctx, c, o.alloc.BasePort()); err != nil {
		if errors.Is(err, registry.ErrSubdomainExists) {
			// Lost a race for the name between the check and the insert.
			return nil, false, o.fail(opProvision, StageAllocate, sub, allocator.ErrSubdomainTaken)
		}
		return nil, false, o.fail(opProvision, StageRegister, sub, err)
	}
	return c, false, nil
}

// provisionMailbox creates the customer's platform mailbox and records the
// outcome. Returns the address, or "" when none was created.
func (o *Orchestrator) provisionMailbox(ctx context.Context, c *registry.Customer) string {
	if !o.mail.Enabled() {
		slog.Debug("orchestrator: mailbox provisioning disabled, leaving status pending",
			"subdomain", c.Subdomain)
		return ""
	}

	forward := ""
	if c.MailboxForwardTo != nil {
		forward = *c.MailboxForwardTo
	}
	mb, err := o.mail.Provision(ctx, c.Subdomain, c.Subdomain, forward)
	if err != nil {
		slog.Warn("orchestrator: mailbox provisioning failed",
			"subdomain", c.Subdomain, "error", err)
		if uerr := o.repo.MarkMailboxStatus(ctx, c.Subdomain, "", registry.MailboxFailed); uerr != nil {
			slog.Warn("orchestrator: failed to record mailbox failure",
				"subdomain", c.Subdomain, "error", uerr)
		}
		return ""
	}

	if err := o.repo.MarkMailboxStatus(ctx, c.Subdomain, mb.Address, registry.MailboxSuccess); err != nil {
		slog.Warn("orchestrator: failed to record mailbox address",
			"subdomain", c.Subdomain, "error", err)
	}
	slog.Info("orchestrator: mailbox provisioned", "subdomain", c.Subdomain, "address", mb.Address)
	return mb.Address
}

func (o *Orchestrator) sendWelcome(ctx context.Context, c *registry.Customer, password, mailboxAddress string) {
	d := notify.Deployment{
		To:             c.Email,
		AppName:        c.Subdomain,
		URL:            o.CustomerURL(c.Subdomain),
		AdminEmail:     c.Email,
		AdminPassword:  password,
		MailboxAddress: mailboxAddress,
	}
	if err := o.notifier.DeploymentReady(ctx, d); err != nil {
		slog.Warn("orchestrator: failed to send deployment-ready message",
			"subdomain", c.Subdomain, "error", err)
	}
}
