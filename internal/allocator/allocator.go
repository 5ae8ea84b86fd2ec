package allocator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// ErrInvalidSubdomain is returned when the requested name cannot be shaped
// into a DNS label.
var ErrInvalidSubdomain = errors.New("invalid subdomain")

// ErrReservedName is returned when the requested subdomain is on the
// reserved-name list.
var ErrReservedName = errors.New("subdomain is reserved")

// ErrSubdomainTaken is returned when another customer already holds the
// requested subdomain.
var ErrSubdomainTaken = errors.New("subdomain already taken")

var subdomainRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{1,61}[a-z0-9]$`)

// reservedNames are host prefixes the platform keeps for itself. Provisioning
// one of these would shadow infrastructure.
var reservedNames = map[string]struct{}{
	"www": {}, "mail": {}, "smtp": {}, "imap": {}, "pop": {}, "webmail": {},
	"admin": {}, "api": {}, "app": {}, "ftp": {}, "mx": {}, "ns1": {}, "ns2": {},
	"autoconfig": {}, "autodiscover": {}, "dashboard": {}, "billing": {},
	"status": {}, "dev": {}, "staging": {}, "test": {}, "demo": {},
	"support": {}, "help": {}, "blog": {}, "docs": {}, "cdn": {}, "static": {},
	"proxy": {}, "vpn": {}, "git": {}, "minipass": {},
}

// Allocation is a validated subdomain plus the port the registry would assign
// for it. The port is a probe; the authoritative assignment happens inside
// registry.CreatePending's transaction.
type Allocation struct {
	Subdomain string
	Port      int
}

// Allocator validates and reserves subdomains against the reserved-name set
// and existing registry records.
type Allocator struct {
	repo     registry.Repository
	basePort int
}

// New creates an Allocator backed by the given registry.
func New(repo registry.Repository, basePort int) *Allocator {
	return &Allocator{repo: repo, basePort: basePort}
}

// Normalize shapes an app name into a subdomain: lowercased, spaces and
// underscores collapsed to hyphens. Returns ErrInvalidSubdomain when the
// result is not a usable DNS label.
func Normalize(appName string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(appName))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	if !subdomainRegex.MatchString(s) || strings.Contains(s, "--") {
		return "", fmt.Errorf("%q: %w", appName, ErrInvalidSubdomain)
	}
	return s, nil
}

// Allocate validates the requested subdomain and probes the next free port.
// Validation order: reserved-name set first, then existing records, then the
// port probe. Port allocation itself cannot fail; the port space grows
// monotonically and is never reclaimed.
func (a *Allocator) Allocate(ctx context.Context, requested string) (Allocation, error) {
	sub, err := Normalize(requested)
	if err != nil {
		return Allocation{}, err
	}

	if _, ok := reservedNames[sub]; ok {
		return Allocation{}, fmt.Errorf("%q: %w", sub, ErrReservedName)
	}

	taken, err := a.repo.SubdomainTaken(ctx, sub)
	if err != nil {
		return Allocation{}, fmt.Errorf("checking subdomain %q: %w", sub, err)
	}
	if taken {
		return Allocation{}, fmt.Errorf("%q: %w", sub, ErrSubdomainTaken)
	}

	port, err := a.repo.NextPort(ctx, a.basePort)
	if err != nil {
		return Allocation{}, fmt.Errorf("probing next port: %w", err)
	}

	return Allocation{Subdomain: sub, Port: port}, nil
}

// BasePort exposes the configured base port for callers that report it.
func (a *Allocator) BasePort() int {
	return a.basePort
}
