package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const classifyPrompt = `Classify the customer message into exactly one intent from this list:
product_inquiry, support_request, complaint, greeting, appointment, payment, other.

Respond with JSON only, no prose:
{"intent": "...", "confidence": 0.0, "parameters": {"mentioned_product": "", "urgency_level": "", "emotion": ""}}

Customer message: `

// LLMClient classifies free text through an OpenAI-compatible chat
// completions endpoint.
type LLMClient struct {
	httpClient *resty.Client
	model      string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type classification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters"`
}

// NewLLMClient creates an LLM classifier client.
func NewLLMClient(apiKey, apiBase, model string) (*LLMClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("LLM apiKey cannot be empty")
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(apiBase, "/")).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	log.Info().Str("apiBase", apiBase).Str("model", model).Msg("LLM classifier configured")

	return &LLMClient{httpClient: client, model: model}, nil
}

// Classify asks the model for one intent out of the fixed vocabulary.
func (c *LLMClient) Classify(ctx context.Context, text string) (*Result, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: classifyPrompt + text},
		},
		MaxTokens:   200,
		Temperature: 0,
	}

	var out chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("LLM API error: status %s, body: %s", resp.Status(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("LLM response has no choices")
	}

	var parsed classification
	content := stripCodeFence(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("LLM response is not valid JSON: %w", err)
	}
	if !validIntent(parsed.Intent) {
		return nil, fmt.Errorf("LLM returned unknown intent %q", parsed.Intent)
	}

	return &Result{
		Intent:     parsed.Intent,
		Confidence: parsed.Confidence,
		Parameters: parsed.Parameters,
	}, nil
}

func validIntent(intent string) bool {
	switch intent {
	case IntentProductInquiry, IntentSupportRequest, IntentComplaint,
		IntentGreeting, IntentAppointment, IntentPayment, IntentOther:
		return true
	}
	return false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
