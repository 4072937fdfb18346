package codex

import (
	"context"
	"encoding/json"
	"net/http"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
)

// UsageWindow is one rolling rate-limit window from the usage endpoint.
type UsageWindow struct {
	UsedPercent  float64 `json:"used_percent"`
	ResetsInSecs int64   `json:"resets_in_seconds"`
}

// UsageInfo reports the account's plan and rate-limit standing.
type UsageInfo struct {
	PlanType  string       `json:"plan_type"`
	Primary   *UsageWindow `json:"primary,omitempty"`
	Secondary *UsageWindow `json:"secondary,omitempty"`
}

type usageResponse struct {
	PlanType   string `json:"plan_type"`
	RateLimits struct {
		Primary   *UsageWindow `json:"primary"`
		Secondary *UsageWindow `json:"secondary"`
	} `json:"rate_limits"`
}

// Usage fetches the account's current usage standing.
func (b *Backend) Usage(ctx context.Context) (*UsageInfo, error) {
	httpReq, err := b.newHTTPRequest(ctx, http.MethodGet, "/wham/usage", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, core.NewBackendError(b.Name(), http.StatusBadGateway, "request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, core.NewBackendError(b.Name(), http.StatusBadGateway, "reading response: "+err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, b.mapError(resp.StatusCode, respBody)
	}

	var parsed usageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.NewBackendProtocolError(b.Name(), "unmarshaling usage: "+err.Error())
	}
	return &UsageInfo{
		PlanType:  parsed.PlanType,
		Primary:   parsed.RateLimits.Primary,
		Secondary: parsed.RateLimits.Secondary,
	}, nil
}
