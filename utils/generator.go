package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TargetContext is what the generation service knows about the recipient
// when drafting a message.
type TargetContext struct {
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	Title           string  `json:"title"`
	AccountName     string  `json:"account_name"`
	Industry        string  `json:"industry"`
	CurrentSupplier string  `json:"current_supplier"`
	AnnualUsageKWh  float64 `json:"annual_usage_kwh"`
	ContractEndDate string  `json:"contract_end_date"`
	SequenceName    string  `json:"sequence_name"`
	StepIndex       int     `json:"step_index"`
}

// StepTemplate is the content skeleton of a step, handed to the generator
// alongside the target context.
type StepTemplate struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Instructions string `json:"instructions"`
}

type GenerationRequest struct {
	TargetContext TargetContext `json:"target_context"`
	StepTemplate  StepTemplate  `json:"step_template"`
}

type GenerationResult struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ContentGenerator is the external generation collaborator. Failures are
// retryable: the caller reverts the claim and a later tick tries again.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// HTTPGenerator calls the generation service over HTTP JSON.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGenerator(baseURL, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, string(body))
	}

	var result GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if result.Subject == "" || result.Body == "" {
		return nil, fmt.Errorf("generation service returned empty content")
	}

	return &result, nil
}
