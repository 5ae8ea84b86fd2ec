package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/windseeker5/minipass-env-sub001/internal/api/middleware"
	"github.com/windseeker5/minipass-env-sub001/internal/api/response"
	"github.com/windseeker5/minipass-env-sub001/internal/orchestrator"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// EventSink processes decoded billing events. Satisfied by
// *orchestrator.Orchestrator.
type EventSink interface {
	HandleEvent(ctx context.Context, ev orchestrator.Event) error
}

// WebhookHandler receives billing provider webhooks. Delivery is
// at-least-once, so the handler only decodes and enqueues; idempotency
// lives in the event ledger downstream.
type WebhookHandler struct {
	events EventSink
	queue  JobQueue
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(events EventSink, queue JobQueue) *WebhookHandler {
	return &WebhookHandler{events: events, queue: queue}
}

// billingEnvelope is the outer shape of a billing provider event.
type billingEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// checkoutPayload is the data of a checkout.completed event.
type checkoutPayload struct {
	AppName          string     `json:"appName"`
	AdminEmail       string     `json:"adminEmail"`
	AdminPassword    string     `json:"adminPassword"`
	OrganizationName string     `json:"organizationName"`
	Plan             string     `json:"plan"`
	BillingFrequency string     `json:"billingFrequency"`
	PriceRef         string     `json:"priceRef"`
	RenewsAt         *time.Time `json:"renewsAt"`
	PaymentAmount    int64      `json:"paymentAmount"`
	Currency         string     `json:"currency"`
}

// subscriptionPayload is the data of a subscription.* event. Pointer fields
// distinguish absent from zero; absent fields are left untouched.
type subscriptionPayload struct {
	Subdomain        string     `json:"subdomain"`
	Status           *string    `json:"status"`
	BillingFrequency *string    `json:"billingFrequency"`
	PriceRef         *string    `json:"priceRef"`
	RenewsAt         *time.Time `json:"renewsAt"`
	PaymentAmount    *int64     `json:"paymentAmount"`
	Currency         *string    `json:"currency"`
}

// Receive handles POST /webhooks/billing. The endpoint acknowledges with
// 202 as soon as the event is decoded and queued; the provider retries
// anything else.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var env billingEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}
	if env.ID == "" {
		response.Err(w, http.StatusBadRequest, "INVALID_EVENT", "Event is missing an id", requestID)
		return
	}
	if env.Type == "" {
		response.Err(w, http.StatusBadRequest, "INVALID_EVENT", "Event is missing a type", requestID)
		return
	}

	ev, err := decodeEvent(env)
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_EVENT", err.Error(), requestID)
		return
	}

	err = h.queue.Submit("billing event "+env.ID, func(ctx context.Context) error {
		return h.events.HandleEvent(ctx, ev)
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			// The provider treats 5xx as retry-later, which is exactly right.
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Work queue is full", requestID)
			return
		}
		slog.Error("api: failed to enqueue billing event", "error", err, "eventId", env.ID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to accept event", requestID)
		return
	}

	response.Accepted(w, map[string]string{"eventId": env.ID, "status": "accepted"}, requestID)
}

// decodeEvent maps a wire event onto the orchestrator's event shape.
// Unknown types pass through undecoded; the sink acknowledges them so the
// provider stops redelivering.
func decodeEvent(env billingEnvelope) (orchestrator.Event, error) {
	ev := orchestrator.Event{ID: env.ID, Type: env.Type}

	switch env.Type {
	case orchestrator.EventCheckoutCompleted:
		var p checkoutPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ev, errors.New("checkout payload is malformed")
		}
		if p.AppName == "" || p.AdminEmail == "" || p.AdminPassword == "" {
			return ev, errors.New("checkout payload is missing appName, adminEmail or adminPassword")
		}
		ev.Intent = &orchestrator.Intent{
			AppName:          p.AppName,
			AdminEmail:       p.AdminEmail,
			AdminPassword:    p.AdminPassword,
			OrganizationName: p.OrganizationName,
			Plan:             p.Plan,
			BillingFrequency: p.BillingFrequency,
			PriceRef:         p.PriceRef,
			RenewsAt:         p.RenewsAt,
			PaymentAmount:    p.PaymentAmount,
			Currency:         p.Currency,
		}

	case orchestrator.EventSubscriptionUpdated,
		orchestrator.EventSubscriptionCancelled,
		orchestrator.EventSubscriptionExpired:
		var p subscriptionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return ev, errors.New("subscription payload is malformed")
		}
		if p.Subdomain == "" {
			return ev, errors.New("subscription payload is missing subdomain")
		}
		ev.Subdomain = p.Subdomain
		if env.Type == orchestrator.EventSubscriptionUpdated {
			ev.Update = &registry.SubscriptionUpdate{
				Status:           p.Status,
				BillingFrequency: p.BillingFrequency,
				PriceRef:         p.PriceRef,
				RenewsAt:         p.RenewsAt,
				PaymentAmount:    p.PaymentAmount,
				Currency:         p.Currency,
			}
		}
	}

	return ev, nil
}
