// Package llmcaller is the thin HTTP client behind enrich.Caller (spec
// §6's "consumed collaborator... provided by out-of-scope layers":
// generate(image_bytes, prompt) -> Result<string, ProviderError>). It
// carries no novel design — a single POST with a base64 image and a
// status-code-to-perr.Kind mapping — matching spec §1's framing of the
// LLM provider as an external boundary, not core logic.
package llmcaller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hejijunhao/photon/internal/perr"
)

// Config names the provider endpoint and request shape.
type Config struct {
	Provider string // informational; only one wire shape is implemented below
	Model    string
	APIKey   string
	Endpoint string // full chat-completions-style URL
	Prompt   string // instruction sent alongside the image
	Timeout  time.Duration
}

// Caller implements enrich.Caller against an OpenAI-compatible chat
// completions endpoint that accepts a base64 data URL image part.
type Caller struct {
	cfg    Config
	client *http.Client
}

// New builds a Caller. cfg.Timeout bounds each HTTP round trip.
func New(cfg Config) *Caller {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Caller{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Caption implements enrich.Caller: sends imageBytes as a base64 data URL
// alongside the configured prompt and returns the model's text response.
func (c *Caller) Caption(ctx context.Context, imageBytes []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageBytes)
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: c.cfg.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", perr.New(perr.KindLlmParse, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", perr.New(perr.KindLlmTransport, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", perr.New(perr.KindLlmTransport, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", perr.New(perr.KindLlmTransport, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", perr.NewHTTP(resp.StatusCode, fmt.Sprintf("provider returned %d", resp.StatusCode), fmt.Errorf("%s", string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", perr.New(perr.KindLlmParse, "failed to parse provider response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", perr.New(perr.KindLlmParse, "provider response had no choices", fmt.Errorf("empty choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}
