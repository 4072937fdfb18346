package openrouter

import (
	"context"
	"encoding/json"
	"net/http"

	"llmgate/internal/catalog"
	"llmgate/internal/core"
	"llmgate/internal/httpclient"
)

type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// ListModels fetches the hosted model catalog with pricing and context
// metadata.
func (b *Backend) ListModels(ctx context.Context) ([]catalog.ModelInfo, error) {
	httpReq, err := b.newHTTPRequest(ctx, http.MethodGet, "/models", nil)
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
		return nil, core.ParseBackendError(b.Name(), resp.StatusCode, respBody)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.NewBackendProtocolError(b.Name(), "unmarshaling models: "+err.Error())
	}

	models := make([]catalog.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, catalog.ModelInfo{
			ID:              m.ID,
			Name:            m.Name,
			Description:     m.Description,
			ContextLength:   m.ContextLength,
			PromptPrice:     m.Pricing.Prompt,
			CompletionPrice: m.Pricing.Completion,
		})
	}
	return models, nil
}
