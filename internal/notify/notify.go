// Package notify sends operational email through the platform's message
// relay: a deployment-ready message to the new customer and failure
// reports to the operators. Delivery is best effort; the orchestrator
// never fails an operation because a message could not be sent.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Deployment carries everything the deployment-ready message needs.
type Deployment struct {
	To             string
	AppName        string
	URL            string
	AdminEmail     string
	AdminPassword  string
	MailboxAddress string // empty when no mailbox was provisioned
}

// Notifier sends platform email.
type Notifier interface {
	DeploymentReady(ctx context.Context, d Deployment) error
	Failure(ctx context.Context, to, appName, detail string) error
}

// Client talks to the message relay's send API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: c}
}

type sendRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

func (c *Client) DeploymentReady(ctx context.Context, d Deployment) error {
	data := map[string]string{
		"app_name":       d.AppName,
		"url":            d.URL,
		"admin_email":    d.AdminEmail,
		"admin_password": d.AdminPassword,
	}
	if d.MailboxAddress != "" {
		data["mailbox_address"] = d.MailboxAddress
	}
	return c.send(ctx, sendRequest{To: d.To, Template: "deployment-ready", Data: data})
}

func (c *Client) Failure(ctx context.Context, to, appName, detail string) error {
	return c.send(ctx, sendRequest{
		To:       to,
		Template: "provisioning-failed",
		Data: map[string]string{
			"app_name": appName,
			"detail":   truncate(detail, 2000),
		},
	})
}

func (c *Client) send(ctx context.Context, req sendRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("notify relay: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify relay returned %s: %s", resp.Status(), truncate(resp.String(), 200))
	}
	return nil
}

// Noop drops all messages. Used when no relay is configured and in tests.
type Noop struct{}

func (Noop) DeploymentReady(_ context.Context, d Deployment) error {
	slog.Debug("notify: relay disabled, dropping deployment-ready", "to", d.To, "app", d.AppName)
	return nil
}

func (Noop) Failure(_ context.Context, to, appName, _ string) error {
	slog.Debug("notify: relay disabled, dropping failure report", "to", to, "app", appName)
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + " [truncated " + strconv.Itoa(len(s)-n) + " bytes]"
	}
	return s
}
