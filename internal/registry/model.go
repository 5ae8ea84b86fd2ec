package registry

import "time"

// Subscription statuses driven by billing events.
const (
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// Mailbox provisioning statuses.
const (
	MailboxPending = "pending"
	MailboxSuccess = "success"
	MailboxFailed  = "failed"
)

// Plan tiers offered to customers.
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPro      = "pro"
)

// ValidPlan reports whether p is one of the offered plan tiers.
func ValidPlan(p string) bool {
	switch p {
	case PlanBasic, PlanStandard, PlanPro:
		return true
	}
	return false
}

// Customer represents a row in the customers table. Subdomain and Port are
// immutable once assigned; Subdomain keys the deployment unit on disk and the
// reverse-proxy virtual host, Port is the container's published host port.
type Customer struct {
	ID                int64
	Subdomain         string
	Email             string
	OrganizationName  string
	Plan              string
	Port              int
	AdminPasswordHash string

	// Deployed flips to true only once the container is confirmed running.
	Deployed bool

	SubscriptionStatus string
	BillingFrequency   string
	PriceRef           string
	RenewsAt           *time.Time
	PaymentAmount      int64
	Currency           string

	MailboxAddress   *string
	MailboxStatus    string
	MailboxForwardTo *string
	MailboxCreatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilter holds optional filters for listing customers.
type ListFilter struct {
	Deployed           *bool
	SubscriptionStatus *string
}

// SubscriptionUpdate holds billing fields mutated by subscription events.
// Nil fields are not updated.
type SubscriptionUpdate struct {
	Status           *string
	BillingFrequency *string
	PriceRef         *string
	RenewsAt         *time.Time
	PaymentAmount    *int64
	Currency         *string
}

// ProcessedEvent is a write-once idempotency marker for an external event.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}
