// Package planservice is the client for the tenant/plan service that owns
// subscription tiers. Domain-mapping limits and feature gating come from
// here; when the service is unreachable or unconfigured the static tier
// table from config applies.
package planservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type Client struct {
	baseURL    string
	authToken  string
	tierLimits map[string]int
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cachedLimit
}

type cachedLimit struct {
	limit     int
	fetchedAt time.Time
}

const cacheTTL = 5 * time.Minute

func NewClient(baseURL, authToken string, tierLimits map[string]int) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		tierLimits: tierLimits,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]cachedLimit),
	}
}

// MappingLimit returns how many custom domains the tenant's plan allows.
func (c *Client) MappingLimit(ctx context.Context, tenantID, planLevel string) (int, error) {
	if c.baseURL == "" {
		return c.staticLimit(planLevel), nil
	}

	c.mu.RLock()
	if entry, ok := c.cache[tenantID]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		c.mu.RUnlock()
		return entry.limit, nil
	}
	c.mu.RUnlock()

	limit, err := c.fetchLimit(ctx, tenantID)
	if err != nil {
		// The plan service being down must not block domain onboarding;
		// fall back to the static table.
		return c.staticLimit(planLevel), nil
	}

	c.mu.Lock()
	c.cache[tenantID] = cachedLimit{limit: limit, fetchedAt: time.Now()}
	c.mu.Unlock()

	return limit, nil
}

func (c *Client) fetchLimit(ctx context.Context, tenantID string) (int, error) {
	url := fmt.Sprintf("%s/api/v1/tenants/%s/limits", c.baseURL, tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch plan limits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("plan service returned status %d", resp.StatusCode)
	}

	var body struct {
		CustomDomains int `json:"custom_domains"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode plan limits: %w", err)
	}

	return body.CustomDomains, nil
}

func (c *Client) staticLimit(planLevel string) int {
	if limit, ok := c.tierLimits[planLevel]; ok {
		return limit
	}
	if limit, ok := c.tierLimits["free"]; ok {
		return limit
	}
	return 1
}
