package mailbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windseeker5/minipass-env-sub001/internal/mailbox"
)

func TestProvision_CreatesMailbox(t *testing.T) {
	// Arrange
	var got struct {
		LocalPart string `json:"local_part"`
		Domain    string `json:"domain"`
		ForwardTo string `json:"forward_to"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/mailboxes", r.URL.Path)
		require.Equal(t, "Bearer mail-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"address": "acme@minipass.me"})
	}))
	defer srv.Close()

	client := mailbox.NewClient(srv.URL, "mail-key", "minipass.me", 5*time.Second)

	// Act
	mb, err := client.Provision(context.Background(), "acme", "acme", "owner@acme.test")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "acme@minipass.me", mb.Address)
	assert.Equal(t, "owner@acme.test", mb.ForwardTo)
	assert.Equal(t, "acme", got.LocalPart)
	assert.Equal(t, "minipass.me", got.Domain)
	assert.Equal(t, "owner@acme.test", got.ForwardTo)
}

func TestProvision_ServerError(t *testing.T) {
	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "local part already exists", http.StatusConflict)
	}))
	defer srv.Close()

	client := mailbox.NewClient(srv.URL, "mail-key", "minipass.me", 5*time.Second)

	// Act
	_, err := client.Provision(context.Background(), "acme", "acme", "")

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "local part already exists")
}

func TestDeprovision_ToleratesMissingMailbox(t *testing.T) {
	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := mailbox.NewClient(srv.URL, "mail-key", "minipass.me", 5*time.Second)

	// Act
	err := client.Deprovision(context.Background(), "gone@minipass.me")

	// Assert
	assert.NoError(t, err)
}

func TestDisabled(t *testing.T) {
	var p mailbox.Provisioner = mailbox.Disabled{}

	assert.False(t, p.Enabled())

	_, err := p.Provision(context.Background(), "acme", "acme", "")
	assert.ErrorIs(t, err, mailbox.ErrDisabled)

	assert.NoError(t, p.Deprovision(context.Background(), "any@minipass.me"))
}
