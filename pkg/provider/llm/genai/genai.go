// Package genai provides an LLM provider backed by the Gemini API through
// google.golang.org/genai. Schemas are passed as native structured output
// (application/json with a response JSON schema).
package genai

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/MrWong99/simi/pkg/provider/llm"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = "gemini-3-flash-preview"

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider with the Gemini generateContent API.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a Gemini Provider.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "gemini" }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("genai: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("genai: %w", llm.ErrEmptyResponse)
	}

	out := &llm.Response{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func buildConfig(req llm.Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseJsonSchema = req.Schema
	}
	if req.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	return gc
}
