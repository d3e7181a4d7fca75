package jury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketescrow/internal/model"
)

const systemPrompt = `You are an impartial jury for a services marketplace escrow dispute.
Weigh the contract context, every evidence item in order, and the precedents.
Reply with a single JSON object: {"recommendation":"release_to_provider"|"refund_client"|"split","confidence_score":0-100,"reasoning":string,"consensus":"unanimous"|"majority"|"split_decision"|"appealed"}.`

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// OpenAIProvider asks a chat completions model for a verdict.
type OpenAIProvider struct {
	cfg OpenAIConfig
}

// NewOpenAIProvider builds an OpenAI-compatible jury.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) Judge(ctx context.Context, req JudgeRequest) (model.Verdict, error) {
	apiKey := strings.TrimSpace(p.cfg.APIKey)
	if apiKey == "" {
		return model.Verdict{}, fmt.Errorf("jury api key is required")
	}
	if strings.TrimSpace(p.cfg.Model) == "" {
		return model.Verdict{}, fmt.Errorf("jury model is required")
	}
	caseFile, err := json.Marshal(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("marshal case: %w", err)
	}
	requestBody, err := json.Marshal(map[string]any{
		"model":           p.cfg.Model,
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(caseFile)},
		},
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("marshal judge request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(requestBody))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := p.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("judge request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return model.Verdict{}, fmt.Errorf("judge request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return model.Verdict{}, fmt.Errorf("decode judge response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return model.Verdict{}, fmt.Errorf("judge response has no choices")
	}

	var v model.Verdict
	if err := json.Unmarshal([]byte(payload.Choices[0].Message.Content), &v); err != nil {
		return model.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	if err := Validate(v); err != nil {
		return model.Verdict{}, err
	}
	return v, nil
}
