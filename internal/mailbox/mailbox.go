// Package mailbox provisions customer mailboxes on the platform's mail
// domain through the mail server's admin API. Mailbox provisioning is a
// side effect of deployment: failures are recorded on the customer record
// and reported, but never fail a provisioning run.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned by the disabled provisioner; callers should
// check Enabled before provisioning.
var ErrDisabled = errors.New("mailbox provisioning disabled")

// Mailbox describes a provisioned mailbox.
type Mailbox struct {
	Address   string
	ForwardTo string
}

// Provisioner creates and removes customer mailboxes.
type Provisioner interface {
	// Provision creates <username>@<mail domain>, forwarding to the
	// customer's own address when forwardTo is set.
	Provision(ctx context.Context, subdomain, username, forwardTo string) (Mailbox, error)
	// Deprovision removes a mailbox. Removing a mailbox that is already
	// gone is not an error.
	Deprovision(ctx context.Context, address string) error
	// Enabled reports whether mailbox provisioning is configured.
	Enabled() bool
}

// Client talks to the mail server's admin API.
type Client struct {
	http   *resty.Client
	domain string
}

func NewClient(baseURL, apiKey, domain string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: c, domain: domain}
}

func (c *Client) Enabled() bool { return true }

type createMailboxRequest struct {
	LocalPart string `json:"local_part"`
	Domain    string `json:"domain"`
	ForwardTo string `json:"forward_to,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

type createMailboxResponse struct {
	Address string `json:"address"`
}

func (c *Client) Provision(ctx context.Context, subdomain, username, forwardTo string) (Mailbox, error) {
	req := createMailboxRequest{
		LocalPart: username,
		Domain:    c.domain,
		ForwardTo: forwardTo,
		Comment:   "minipass:" + subdomain,
	}

	var out createMailboxResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/mailboxes")
	if err != nil {
		return Mailbox{}, fmt.Errorf("mailbox API: %w", err)
	}
	if resp.IsError() {
		return Mailbox{}, fmt.Errorf("mailbox API returned %s: %s", resp.Status(), snippet(resp.String()))
	}

	address := out.Address
	if address == "" {
		address = username + "@" + c.domain
	}
	return Mailbox{Address: address, ForwardTo: forwardTo}, nil
}

func (c *Client) Deprovision(ctx context.Context, address string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("address", address).
		Delete("/mailboxes/{address}")
	if err != nil {
		return fmt.Errorf("mailbox API: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("mailbox API returned %s: %s", resp.Status(), snippet(resp.String()))
	}
	return nil
}

// Disabled is the no-op provisioner used when no mailbox API is
// configured. Customers keep their mailbox status as pending.
type Disabled struct{}

func (Disabled) Provision(context.Context, string, string, string) (Mailbox, error) {
	return Mailbox{}, ErrDisabled
}

func (Disabled) Deprovision(context.Context, string) error { return nil }

func (Disabled) Enabled() bool { return false }

func snippet(body string) string {
	if len(body) > 200 {
		return body[:200]
	}
	return body
}
