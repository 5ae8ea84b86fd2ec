package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windseeker5/minipass-env-sub001/internal/notify"
)

func TestDeploymentReady_SendsTemplate(t *testing.T) {
	// Arrange
	var got struct {
		To       string            `json:"to"`
		Template string            `json:"template"`
		Data     map[string]string `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "Bearer relay-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := notify.NewClient(srv.URL, "relay-key", 5*time.Second)

	// Act
	err := client.DeploymentReady(context.Background(), notify.Deployment{
		To:             "owner@acme.test",
		AppName:        "acme",
		URL:            "https://acme.minipass.me",
		AdminEmail:     "owner@acme.test",
		AdminPassword:  "initial-secret",
		MailboxAddress: "acme@minipass.me",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "owner@acme.test", got.To)
	assert.Equal(t, "deployment-ready", got.Template)
	assert.Equal(t, "https://acme.minipass.me", got.Data["url"])
	assert.Equal(t, "acme@minipass.me", got.Data["mailbox_address"])
}

func TestFailure_TruncatesLongDetail(t *testing.T) {
	// Arrange
	var got struct {
		Template string            `json:"template"`
		Data     map[string]string `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := notify.NewClient(srv.URL, "relay-key", 5*time.Second)

	// Act: a build log far larger than any mail body should be
	err := client.Failure(context.Background(), "ops@minipass.me", "acme", strings.Repeat("x", 10000))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "provisioning-failed", got.Template)
	assert.Less(t, len(got.Data["detail"]), 2100)
	assert.Contains(t, got.Data["detail"], "truncated")
}

func TestSend_RelayError(t *testing.T) {
	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown template", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := notify.NewClient(srv.URL, "relay-key", 5*time.Second)

	// Act
	err := client.Failure(context.Background(), "ops@minipass.me", "acme", "boom")

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNoop(t *testing.T) {
	var n notify.Notifier = notify.Noop{}

	assert.NoError(t, n.DeploymentReady(context.Background(), notify.Deployment{To: "x@y.z"}))
	assert.NoError(t, n.Failure(context.Background(), "x@y.z", "acme", "detail"))
}
