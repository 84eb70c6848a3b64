// Package identitysync projects membership status to the external identity
// provider's user profile. The projection is best-effort: the membership
// store stays the source of truth and a missed update is only logged.
package identitysync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/marketkit/membergate/internal/domain"
)

// Config holds identity provider API settings.
type Config struct {
	// BaseURL is the management API root, e.g. https://tenant.identity.example.
	BaseURL string
	// APIToken authorizes profile updates.
	APIToken string
	// Timeout bounds each sync request.
	Timeout time.Duration
}

const defaultTimeout = 10 * time.Second

// Client updates identity-provider user profiles over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new identity sync client.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

type profileUpdate struct {
	AppMetadata struct {
		MembershipStatus domain.MembershipStatus `json:"membership_status"`
	} `json:"app_metadata"`
}

// SyncStatus writes the membership status into the user's app metadata.
func (c *Client) SyncStatus(ctx context.Context, identityID string, status domain.MembershipStatus) error {
	var update profileUpdate
	update.AppMetadata.MembershipStatus = status

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal profile update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/users/%s", c.config.BaseURL, url.PathEscape(identityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync status for %s: %w", identityID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync status for %s: unexpected status %d", identityID, resp.StatusCode)
	}

	c.logger.Debug("identity status synced", "identity_id", identityID, "status", status)
	return nil
}
