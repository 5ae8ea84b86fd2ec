package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// envelope mirrors the server's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// apiClient is a thin resty wrapper over the control plane's admin API.
type apiClient struct {
	rc *resty.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(2 * time.Minute).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &apiClient{rc: rc}
}

// call sends one request and decodes the envelope's data into out. API
// errors surface as "<code>: <message>" with any field details appended.
func (c *apiClient) call(method, path string, body, out any) error {
	req := c.rc.R().SetResult(&envelope{}).SetError(&envelope{})
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		if env, ok := resp.Error().(*envelope); ok && env.Error != nil {
			msg := fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)
			for _, d := range env.Error.Details {
				msg += fmt.Sprintf("\n  - %s: %s", d.Field, d.Message)
			}
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}

	if out != nil {
		env, ok := resp.Result().(*envelope)
		if !ok || len(env.Data) == 0 {
			return fmt.Errorf("%s %s: empty response", method, path)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

func (c *apiClient) get(path string, out any) error {
	return c.call("GET", path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.call("POST", path, body, out)
}

func (c *apiClient) delete(path string, out any) error {
	return c.call("DELETE", path, nil, out)
}

// --- API payloads the CLI cares about ---

type acceptedData struct {
	Subdomain string `json:"subdomain"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}

type mailboxData struct {
	Address *string `json:"address"`
	Status  string  `json:"status"`
}

type customerData struct {
	Subdomain          string      `json:"subdomain"`
	URL                string      `json:"url"`
	Email              string      `json:"email"`
	OrganizationName   string      `json:"organizationName"`
	Plan               string      `json:"plan"`
	Port               int         `json:"port"`
	Deployed           bool        `json:"deployed"`
	SubscriptionStatus string      `json:"subscriptionStatus"`
	BillingFrequency   string      `json:"billingFrequency"`
	RenewsAt           *string     `json:"renewsAt"`
	Mailbox            mailboxData `json:"mailbox"`
	CreatedAt          string      `json:"createdAt"`
}

type customerListData struct {
	Customers []customerData `json:"customers"`
	Total     int            `json:"total"`
}

type upgradeOutcomeData struct {
	Subdomain string   `json:"subdomain"`
	Planned   []string `json:"planned"`
	Error     *string  `json:"error"`
}

type upgradeBatchData struct {
	DryRun   bool                 `json:"dryRun"`
	Upgrades []upgradeOutcomeData `json:"upgrades"`
}

type pruneData struct {
	ImagesRemoved  int    `json:"images_removed"`
	VolumesRemoved int    `json:"volumes_removed"`
	SpaceReclaimed uint64 `json:"space_reclaimed"`
}

type sweepData struct {
	ContainersSeen int       `json:"containers_seen"`
	OrphansRemoved int       `json:"orphans_removed"`
	DriftWarnings  int       `json:"drift_warnings"`
	Prune          pruneData `json:"prune"`
}

type dockerHealthData struct {
	Connected  bool    `json:"connected"`
	APIVersion *string `json:"apiVersion"`
}

type databaseHealthData struct {
	Connected bool `json:"connected"`
}

type queueHealthData struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type healthData struct {
	Status   string             `json:"status"`
	Version  string             `json:"version"`
	Docker   dockerHealthData   `json:"docker"`
	Database databaseHealthData `json:"database"`
	Queue    *queueHealthData   `json:"queue"`
}
