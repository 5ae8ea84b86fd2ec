package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/windseeker5/minipass-env-sub001/internal/allocator"
	"github.com/windseeker5/minipass-env-sub001/internal/api/middleware"
	"github.com/windseeker5/minipass-env-sub001/internal/api/response"
	"github.com/windseeker5/minipass-env-sub001/internal/api/validation"
	"github.com/windseeker5/minipass-env-sub001/internal/orchestrator"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// Provisioner runs the customer lifecycle operations. Satisfied by
// *orchestrator.Orchestrator.
type Provisioner interface {
	Provision(ctx context.Context, in orchestrator.Intent) (*registry.Customer, error)
	Upgrade(ctx context.Context, subdomain string) error
	UpgradeAll(ctx context.Context, subdomains []string, dryRun bool) ([]orchestrator.UpgradeOutcome, error)
	Teardown(ctx context.Context, subdomain string) error
	ResetAdminPassword(ctx context.Context, subdomain, newPassword string) error
	CustomerURL(subdomain string) string
}

// JobQueue accepts lifecycle work to run off the request thread. Satisfied
// by *orchestrator.Worker.
type JobQueue interface {
	Submit(name string, fn func(ctx context.Context) error) error
}

// createCustomerRequest is the request body for POST /customers.
type createCustomerRequest struct {
	AppName          string `json:"appName"`
	AdminEmail       string `json:"adminEmail"`
	AdminPassword    string `json:"adminPassword"`
	OrganizationName string `json:"organizationName"`
	Plan             string `json:"plan"`
	BillingFrequency string `json:"billingFrequency"`
}

// resetPasswordRequest is the request body for POST /customers/{subdomain}/password.
type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// upgradeBatchRequest is the request body for POST /upgrades.
type upgradeBatchRequest struct {
	Subdomains []string `json:"subdomains"`
	All        bool     `json:"all"`
	DryRun     bool     `json:"dryRun"`
}

// mailboxInfo is the mailbox portion of a customer response.
type mailboxInfo struct {
	Address *string `json:"address"`
	Status  string  `json:"status"`
}

// customerResponse is the API representation of a customer record.
type customerResponse struct {
	Subdomain          string      `json:"subdomain"`
	URL                string      `json:"url"`
	Email              string      `json:"email"`
	OrganizationName   string      `json:"organizationName,omitempty"`
	Plan               string      `json:"plan"`
	Port               int         `json:"port"`
	Deployed           bool        `json:"deployed"`
	SubscriptionStatus string      `json:"subscriptionStatus"`
	BillingFrequency   string      `json:"billingFrequency"`
	RenewsAt           *string     `json:"renewsAt,omitempty"`
	PaymentAmount      int64       `json:"paymentAmount"`
	Currency           string      `json:"currency"`
	Mailbox            mailboxInfo `json:"mailbox"`
	CreatedAt          string      `json:"createdAt"`
	UpdatedAt          string      `json:"updatedAt"`
}

const timeFormat = "2006-01-02T15:04:05Z"

// toCustomerResponse converts a customer record to its API representation.
func toCustomerResponse(c *registry.Customer, url string) customerResponse {
	resp := customerResponse{
		Subdomain:          c.Subdomain,
		URL:                url,
		Email:              c.Email,
		OrganizationName:   c.OrganizationName,
		Plan:               c.Plan,
		Port:               c.Port,
		Deployed:           c.Deployed,
		SubscriptionStatus: c.SubscriptionStatus,
		BillingFrequency:   c.BillingFrequency,
		PaymentAmount:      c.PaymentAmount,
		Currency:           c.Currency,
		Mailbox: mailboxInfo{
			Address: c.MailboxAddress,
			Status:  c.MailboxStatus,
		},
		CreatedAt: c.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: c.UpdatedAt.UTC().Format(timeFormat),
	}
	if c.RenewsAt != nil {
		s := c.RenewsAt.UTC().Format(timeFormat)
		resp.RenewsAt = &s
	}
	return resp
}

// CustomerHandler handles customer lifecycle endpoints.
type CustomerHandler struct {
	repo  registry.Repository
	alloc *allocator.Allocator
	orc   Provisioner
	queue JobQueue
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(repo registry.Repository, alloc *allocator.Allocator, orc Provisioner, queue JobQueue) *CustomerHandler {
	return &CustomerHandler{
		repo:  repo,
		alloc: alloc,
		orc:   orc,
		queue: queue,
	}
}

// Create handles POST /customers. The subdomain is validated and reserved
// synchronously so the caller gets immediate feedback on name conflicts;
// materialization and the container build run on the work queue.
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	req.AppName = strings.TrimSpace(req.AppName)
	req.AdminEmail = strings.TrimSpace(req.AdminEmail)
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)

	fieldErrors := validation.ValidateProvisionRequest(validation.ProvisionRequest{
		AppName:          req.AppName,
		AdminEmail:       req.AdminEmail,
		AdminPassword:    req.AdminPassword,
		OrganizationName: req.OrganizationName,
		Plan:             req.Plan,
		BillingFrequency: req.BillingFrequency,
	})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	alloc, err := h.alloc.Allocate(r.Context(), req.AppName)
	if err != nil {
		switch {
		case errors.Is(err, allocator.ErrInvalidSubdomain):
			response.Err(w, http.StatusBadRequest, "INVALID_SUBDOMAIN", fmt.Sprintf("%q cannot be shaped into a subdomain", req.AppName), requestID)
		case errors.Is(err, allocator.ErrReservedName):
			response.Err(w, http.StatusBadRequest, "RESERVED_SUBDOMAIN", "This name is reserved for the platform", requestID)
		case errors.Is(err, allocator.ErrSubdomainTaken):
			h.createTaken(w, r, req, requestID)
		default:
			slog.Error("api: subdomain allocation probe failed", "error", err)
			response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create customer", requestID)
		}
		return
	}

	h.enqueueProvision(w, req, alloc.Subdomain, requestID)
}

// createTaken handles a create request for a subdomain that already has a
// record. A pending record owned by the same email is a crashed or failed
// provisioning run; re-enqueueing resumes it. Anything else is a conflict.
func (h *CustomerHandler) createTaken(w http.ResponseWriter, r *http.Request, req createCustomerRequest, requestID string) {
	sub, err := allocator.Normalize(req.AppName)
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_SUBDOMAIN", fmt.Sprintf("%q cannot be shaped into a subdomain", req.AppName), requestID)
		return
	}

	existing, err := h.repo.Get(r.Context(), sub)
	if err != nil {
		slog.Error("api: failed to look up existing customer", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create customer", requestID)
		return
	}

	if existing.Deployed || !strings.EqualFold(existing.Email, req.AdminEmail) {
		response.Err(w, http.StatusConflict, "SUBDOMAIN_TAKEN", fmt.Sprintf("Subdomain %q is already in use", sub), requestID)
		return
	}

	h.enqueueProvision(w, req, sub, requestID)
}

func (h *CustomerHandler) enqueueProvision(w http.ResponseWriter, req createCustomerRequest, subdomain, requestID string) {
	intent := orchestrator.Intent{
		AppName:          req.AppName,
		AdminEmail:       req.AdminEmail,
		AdminPassword:    req.AdminPassword,
		OrganizationName: req.OrganizationName,
		Plan:             req.Plan,
		BillingFrequency: req.BillingFrequency,
	}

	err := h.queue.Submit("provision "+subdomain, func(ctx context.Context) error {
		_, err := h.orc.Provision(ctx, intent)
		return err
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Provisioning queue is full, retry later", requestID)
			return
		}
		slog.Error("api: failed to enqueue provisioning", "error", err, "subdomain", subdomain)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create customer", requestID)
		return
	}

	response.Accepted(w, map[string]string{
		"subdomain": subdomain,
		"url":       h.orc.CustomerURL(subdomain),
		"status":    "provisioning",
	}, requestID)
}

// List handles GET /customers. Supports ?deployed=true|false and
// ?status=<subscription status> filters.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var filter registry.ListFilter
	switch r.URL.Query().Get("deployed") {
	case "true":
		v := true
		filter.Deployed = &v
	case "false":
		v := false
		filter.Deployed = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.SubscriptionStatus = &v
	}

	customers, err := h.repo.List(r.Context(), filter)
	if err != nil {
		slog.Error("api: failed to list customers", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list customers", requestID)
		return
	}

	items := make([]customerResponse, 0, len(customers))
	for i := range customers {
		c := &customers[i]
		items = append(items, toCustomerResponse(c, h.orc.CustomerURL(c.Subdomain)))
	}

	response.Success(w, http.StatusOK, map[string]any{
		"customers": items,
		"total":     len(items),
	}, requestID)
}

// Get handles GET /customers/{subdomain}.
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sub := chi.URLParam(r, "subdomain")

	c, err := h.repo.Get(r.Context(), sub)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Customer not found", requestID)
			return
		}
		slog.Error("api: failed to get customer", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get customer", requestID)
		return
	}

	response.Success(w, http.StatusOK, toCustomerResponse(c, h.orc.CustomerURL(c.Subdomain)), requestID)
}

// Delete handles DELETE /customers/{subdomain}. Teardown destroys data, so
// the caller must repeat the subdomain in the confirm query parameter.
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sub := chi.URLParam(r, "subdomain")

	if r.URL.Query().Get("confirm") != sub {
		response.Err(w, http.StatusConflict, "CONFIRMATION_REQUIRED",
			fmt.Sprintf("Teardown is destructive; repeat the request with confirm=%s", sub), requestID)
		return
	}

	if _, err := h.repo.Get(r.Context(), sub); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Customer not found", requestID)
			return
		}
		slog.Error("api: failed to get customer", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove customer", requestID)
		return
	}

	err := h.queue.Submit("teardown "+sub, func(ctx context.Context) error {
		return h.orc.Teardown(ctx, sub)
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Work queue is full, retry later", requestID)
			return
		}
		slog.Error("api: failed to enqueue teardown", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove customer", requestID)
		return
	}

	response.Accepted(w, map[string]string{
		"subdomain": sub,
		"status":    "removing",
	}, requestID)
}

// Upgrade handles POST /customers/{subdomain}/upgrade.
func (h *CustomerHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sub := chi.URLParam(r, "subdomain")

	c, err := h.repo.Get(r.Context(), sub)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Customer not found", requestID)
			return
		}
		slog.Error("api: failed to get customer", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to upgrade customer", requestID)
		return
	}
	if !c.Deployed {
		response.Err(w, http.StatusConflict, "NOT_DEPLOYED", "Customer has no running deployment to upgrade", requestID)
		return
	}

	err = h.queue.Submit("upgrade "+sub, func(ctx context.Context) error {
		return h.orc.Upgrade(ctx, sub)
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Work queue is full, retry later", requestID)
			return
		}
		slog.Error("api: failed to enqueue upgrade", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to upgrade customer", requestID)
		return
	}

	response.Accepted(w, map[string]string{
		"subdomain": sub,
		"status":    "upgrading",
	}, requestID)
}

// upgradeOutcomeResponse is the API representation of one batch upgrade result.
type upgradeOutcomeResponse struct {
	Subdomain string   `json:"subdomain"`
	Planned   []string `json:"planned,omitempty"`
	Error     *string  `json:"error,omitempty"`
}

// UpgradeBatch handles POST /upgrades. A dry run reports the plan
// synchronously; a real batch runs on the work queue.
func (h *CustomerHandler) UpgradeBatch(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req upgradeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	if !req.All && len(req.Subdomains) == 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed",
			[]validation.FieldError{{Field: "subdomains", Message: "subdomains is required unless all is set"}}, requestID)
		return
	}

	targets := req.Subdomains
	if req.All {
		targets = nil
	}

	if req.DryRun {
		outcomes, err := h.orc.UpgradeAll(r.Context(), targets, true)
		if err != nil {
			slog.Error("api: upgrade dry run failed", "error", err)
			response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to plan upgrades", requestID)
			return
		}
		response.Success(w, http.StatusOK, map[string]any{
			"dryRun":   true,
			"upgrades": toOutcomeResponses(outcomes),
		}, requestID)
		return
	}

	err := h.queue.Submit("upgrade batch", func(ctx context.Context) error {
		_, err := h.orc.UpgradeAll(ctx, targets, false)
		return err
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Work queue is full, retry later", requestID)
			return
		}
		slog.Error("api: failed to enqueue upgrade batch", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start upgrades", requestID)
		return
	}

	response.Accepted(w, map[string]string{"status": "upgrading"}, requestID)
}

func toOutcomeResponses(outcomes []orchestrator.UpgradeOutcome) []upgradeOutcomeResponse {
	items := make([]upgradeOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		item := upgradeOutcomeResponse{Subdomain: o.Subdomain, Planned: o.Planned}
		if o.Err != nil {
			msg := o.Err.Error()
			item.Error = &msg
		}
		items = append(items, item)
	}
	return items
}

// ResetPassword handles POST /customers/{subdomain}/password. The rebuild
// that re-renders the deployment unit runs on the work queue.
func (h *CustomerHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sub := chi.URLParam(r, "subdomain")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	fieldErrors := validation.ValidateResetPasswordRequest(validation.ResetPasswordRequest{
		NewPassword: req.NewPassword,
	})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	if _, err := h.repo.Get(r.Context(), sub); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Customer not found", requestID)
			return
		}
		slog.Error("api: failed to get customer", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reset password", requestID)
		return
	}

	newPassword := req.NewPassword
	err := h.queue.Submit("reset password "+sub, func(ctx context.Context) error {
		return h.orc.ResetAdminPassword(ctx, sub, newPassword)
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			response.Err(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Work queue is full, retry later", requestID)
			return
		}
		slog.Error("api: failed to enqueue password reset", "error", err, "subdomain", sub)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reset password", requestID)
		return
	}

	response.Accepted(w, map[string]string{
		"subdomain": sub,
		"status":    "resetting",
	}, requestID)
}
