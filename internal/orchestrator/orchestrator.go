// Package orchestrator sequences customer provisioning and lifecycle
// operations across the registry, the deployment materializer, the
// container runtime, and the side-effect services (mailbox, notify).
//
// Operations are ordered so that failures leave the system explainable:
// registry rows are created before any disk or container work and deleted
// only after everything else is gone, so a crashed operation always leaves
// either a pending record to resume or a complete deployment to tear down.
// All work on one subdomain is serialized through a per-subdomain lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/windseeker5/minipass-env-sub001/internal/allocator"
	"github.com/windseeker5/minipass-env-sub001/internal/deploy"
	"github.com/windseeker5/minipass-env-sub001/internal/mailbox"
	"github.com/windseeker5/minipass-env-sub001/internal/notify"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime"
)

// Stage identifies the step of an operation that failed.
type Stage string

const (
	StageAllocate     Stage = "allocate"
	StageRegister     Stage = "register"
	StageLookup       Stage = "lookup"
	StageMaterialize  Stage = "materialize"
	StageBuild        Stage = "build"
	StageFinalize     Stage = "finalize"
	StageBackup       Stage = "backup"
	StageRestore      Stage = "restore"
	StageMigrate      Stage = "migrate"
	StageStop         Stage = "stop"
	StageRemove       Stage = "remove"
	StageRemoveUnit   Stage = "remove_unit"
	StageRemoveRecord Stage = "remove_record"
	StageRefreshEnv   Stage = "refresh_env"
)

// Operation names used in errors and logs.
const (
	opProvision     = "provision"
	opUpgrade       = "upgrade"
	opTeardown      = "teardown"
	opPasswordReset = "password reset"
)

var (
	// ErrNotDeployed is returned for operations that require a customer
	// whose container has actually been started.
	ErrNotDeployed = errors.New("customer is not deployed")
	// ErrBackupFailed indicates the pre-upgrade backup could not be
	// taken; the upgrade is aborted before anything is modified.
	ErrBackupFailed = errors.New("data backup failed")
	// ErrRestoreFailed indicates data could not be restored after
	// re-materializing; the rebuild is aborted so the previous container
	// keeps serving.
	ErrRestoreFailed = errors.New("data restore failed")
	// ErrMigrationFailed indicates the template's data migration hook
	// failed; the rebuild is aborted.
	ErrMigrationFailed = errors.New("data migration failed")
	// ErrTimeout marks a stage failure caused by the stage's bounding
	// timeout expiring. The stage's own error stays in the chain.
	ErrTimeout = errors.New("operation timed out")
)

// StageError wraps a failure with the operation and stage it occurred in.
type StageError struct {
	Op        string
	Stage     Stage
	Subdomain string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Subdomain, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Deps wires the orchestrator's collaborators and settings.
type Deps struct {
	Repo      registry.Repository
	Allocator *allocator.Allocator
	Deployer  deploy.Manager
	Runtime   runtime.Runtime
	Mailbox   mailbox.Provisioner
	Notifier  notify.Notifier

	// BaseDomain is the apex domain for customer URLs.
	BaseDomain string
	// OpsEmail receives failure reports; empty disables them.
	OpsEmail string
	// StopTimeout is the grace period for container stops.
	StopTimeout time.Duration
	// BcryptCost is the work factor for admin password hashes.
	BcryptCost int
}

// Orchestrator runs provisioning and lifecycle operations.
type Orchestrator struct {
	repo     registry.Repository
	alloc    *allocator.Allocator
	deployer deploy.Manager
	rt       runtime.Runtime
	mail     mailbox.Provisioner
	notifier notify.Notifier

	baseDomain  string
	opsEmail    string
	stopTimeout time.Duration
	bcryptCost  int

	locks *subdomainLocks
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		repo:        deps.Repo,
		alloc:       deps.Allocator,
		deployer:    deps.Deployer,
		rt:          deps.Runtime,
		mail:        deps.Mailbox,
		notifier:    deps.Notifier,
		baseDomain:  deps.BaseDomain,
		opsEmail:    deps.OpsEmail,
		stopTimeout: deps.StopTimeout,
		bcryptCost:  deps.BcryptCost,
		locks:       newSubdomainLocks(),
	}
}

// CustomerURL returns the public URL for a subdomain.
func (o *Orchestrator) CustomerURL(subdomain string) string {
	return fmt.Sprintf("https://%s.%s", subdomain, o.baseDomain)
}

func (o *Orchestrator) fail(op string, stage Stage, subdomain string, err error) *StageError {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	e := &StageError{Op: op, Stage: stage, Subdomain: subdomain, Err: err}
	slog.Error("orchestrator: "+op+" failed",
		"subdomain", subdomain,
		"stage", string(stage),
		"error", err)
	return e
}

// reportFailure emails the operators about an infrastructure failure.
// Best effort; a dead relay must not mask the original error.
func (o *Orchestrator) reportFailure(ctx context.Context, appName string, failure error) {
	if o.opsEmail == "" {
		return
	}
	if err := o.notifier.Failure(ctx, o.opsEmail, appName, failure.Error()); err != nil {
		slog.Warn("orchestrator: failed to send failure report", "app", appName, "error", err)
	}
}

// subdomainLocks serializes operations per subdomain. Entries are never
// removed; the map is bounded by the number of customers ever touched.
type subdomainLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newSubdomainLocks() *subdomainLocks {
	return &subdomainLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the subdomain's lock and returns its release func.
func (l *subdomainLocks) lock(subdomain string) func() {
	l.mu.Lock()
	mu, ok := l.m[subdomain]
	if !ok {
		mu = &sync.Mutex{}
		l.m[subdomain] = mu
	}
	l.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}
