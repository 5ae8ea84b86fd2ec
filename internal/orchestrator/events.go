package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// Billing event types the platform acts on.
const (
	EventCheckoutCompleted     = "checkout.completed"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// Event is a billing provider event after decoding. Exactly one payload
// field is set depending on Type.
type Event struct {
	ID        string
	Type      string
	Subdomain string                       // subscription.* events
	Intent    *Intent                      // checkout.completed
	Update    *registry.SubscriptionUpdate // subscription.updated
}

// HandleEvent processes one billing event exactly once.
//
// Delivery is at-least-once: the provider retries until acknowledged, and
// retries can arrive concurrently with the original. The processed-event
// ledger makes redelivery a no-op. An event is only recorded as processed
// after its operation succeeds, so a transiently failing operation is
// retried on the next delivery; provisioning's own idempotency makes that
// safe.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return errors.New("event is missing an id")
	}

	done, err := o.repo.IsEventProcessed(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("checking event ledger: %w", err)
	}
	if done {
		slog.Info("orchestrator: event already processed, skipping",
			"event_id", ev.ID, "type", ev.Type)
		return nil
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Intent == nil {
			return fmt.Errorf("event %s has no checkout payload", ev.ID)
		}
		_, err = o.Provision(ctx, *ev.Intent)

	case EventSubscriptionUpdated:
		err = o.applySubscription(ctx, ev.Subdomain, ev.Update)

	case EventSubscriptionCancelled:
		err = o.markSubscription(ctx, ev.Subdomain, registry.SubscriptionCancelled)

	case EventSubscriptionExpired:
		err = o.markSubscription(ctx, ev.Subdomain, registry.SubscriptionExpired)

	default:
		// Unknown types are acknowledged so the provider stops
		// redelivering them.
		slog.Warn("orchestrator: ignoring unknown event type",
			"event_id", ev.ID, "type", ev.Type)
	}
	if err != nil {
		return err
	}

	if err := o.repo.MarkEventProcessed(ctx, ev.ID, ev.Type); err != nil {
		return fmt.Errorf("recording event %s: %w", ev.ID, err)
	}
	return nil
}

func (o *Orchestrator) applySubscription(ctx context.Context, subdomain string, up *registry.SubscriptionUpdate) error {
	if subdomain == "" {
		return errors.New("subscription event has no subdomain")
	}
	if up == nil {
		up = &registry.SubscriptionUpdate{}
	}
	if err := o.repo.UpdateSubscription(ctx, subdomain, *up); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Routine after a teardown: billing keeps sending events
			// for a customer that no longer exists.
			slog.Warn("orchestrator: subscription event for unknown customer",
				"subdomain", subdomain)
			return nil
		}
		return fmt.Errorf("updating subscription for %s: %w", subdomain, err)
	}
	slog.Info("orchestrator: subscription updated", "subdomain", subdomain)
	return nil
}

func (o *Orchestrator) markSubscription(ctx context.Context, subdomain, status string) error {
	return o.applySubscription(ctx, subdomain, &registry.SubscriptionUpdate{Status: &status})
}
