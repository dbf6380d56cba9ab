package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
)

var (
	ErrLLMService       = errors.New("LLM service error")
	ErrSchemaValidation = errors.New("invalid LLM response structure")

	// errMalformedResponse marks a 2xx response whose body could not be
	// used. Callers absorb it into a fallback record; it never reaches
	// the HTTP surface.
	errMalformedResponse = errors.New("malformed LLM response")
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-3-pro-preview"
	maxRetries           = 3
	initialBackoff       = time.Second
)

// LLMClient is the collaborator contract: one synchronous request/response
// exchange per call. jsonOutput asks the model to return a JSON object.
type LLMClient interface {
	Generate(ctx context.Context, systemInstruction, prompt string, jsonOutput bool) (string, error)
}

// GeminiClient calls the Gemini generation API directly via HTTP.
type GeminiClient struct {
	geminiClient *genai.Client
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
}

// GeminiOption is a functional option for GeminiClient
type GeminiOption func(*GeminiClient)

// GeminiWithClient sets the initialized genai client
func GeminiWithClient(client *genai.Client) GeminiOption {
	return func(c *GeminiClient) {
		c.geminiClient = client
	}
}

// GeminiWithBaseURL overrides the API base URL (used by tests)
func GeminiWithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// GeminiWithModel sets the generation model
func GeminiWithModel(model string) GeminiOption {
	return func(c *GeminiClient) {
		c.model = model
	}
}

// NewGeminiClient creates a new Gemini HTTP client
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		model:      defaultGeminiModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends {system instruction + prompt} to the generation endpoint
// and returns the response text. Service-level failures (transport,
// non-2xx status, API error body, blocked prompt) come back wrapped in
// ErrLLMService; a received-but-unusable body comes back as
// errMalformedResponse so callers can substitute a fallback.
func (c *GeminiClient) Generate(ctx context.Context, systemInstruction, prompt string, jsonOutput bool) (string, error) {
	if c.geminiClient == nil {
		return "", fmt.Errorf("%w: gemini client not set", ErrLLMService)
	}

	fullPrompt := systemInstruction + "\n\n" + prompt

	generationConfig := map[string]interface{}{
		"temperature": 0.7,
	}
	if jsonOutput {
		generationConfig["response_mime_type"] = "application/json"
	}
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": fullPrompt},
				},
			},
		},
		"generationConfig": generationConfig,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrLLMService, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, retryable, err := c.doGenerate(ctx, url, jsonData)
		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrLLMService, maxRetries, lastErr)
}

// doGenerate performs one request. retryable reports whether the failure
// is worth another attempt (transport errors and 5xx statuses).
func (c *GeminiClient) doGenerate(ctx context.Context, url string, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrLLMService, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("Gemini API error: Status %d, Body: %s", resp.StatusCode, truncateForLog(string(bodyBytes)))
		return "", resp.StatusCode >= 500,
			fmt.Errorf("%w: API status %d", ErrLLMService, resp.StatusCode)
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason,omitempty"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason,omitempty"`
		} `json:"promptFeedback,omitempty"`
		Error struct {
			Code    int    `json:"code,omitempty"`
			Message string `json:"message,omitempty"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		log.Printf("Failed to decode Gemini response: %v", err)
		return "", false, fmt.Errorf("%w: decode response: %v", errMalformedResponse, err)
	}

	if apiResp.Error.Message != "" {
		return "", false, fmt.Errorf("%w: %s (code: %d)", ErrLLMService, apiResp.Error.Message, apiResp.Error.Code)
	}
	if apiResp.PromptFeedback.BlockReason != "" {
		return "", false, fmt.Errorf("%w: prompt blocked: %s", errMalformedResponse, apiResp.PromptFeedback.BlockReason)
	}
	if len(apiResp.Candidates) == 0 {
		log.Printf("Gemini returned no candidates")
		return "", false, fmt.Errorf("%w: no candidates", errMalformedResponse)
	}

	var responseText strings.Builder
	for i, candidate := range apiResp.Candidates {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			log.Printf("Warning: candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			responseText.WriteString(part.Text)
		}
	}

	result := strings.TrimSpace(responseText.String())
	if result == "" {
		return "", false, fmt.Errorf("%w: empty content", errMalformedResponse)
	}
	return result, false, nil
}
