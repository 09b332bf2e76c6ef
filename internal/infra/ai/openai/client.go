package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/policylens/policylens/internal/domain/ai"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
	"github.com/policylens/policylens/internal/infra/ai/prompt"
)

const (
	maxTokens   = 2048
	maxAttempts = 3
)

// Client is the reasoning gateway. Works against the OpenAI API or any
// compatible endpoint (OpenRouter) via BaseURL.
type Client struct {
	client *openai.Client
	Model  string
}

func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), Model: model}
}

// EvaluateTransaction asks the model for a structured verdict. Transient
// failures are retried with exponential backoff; a final failure wraps
// ai.ErrUnavailable so callers can fall back deterministically.
func (c *Client) EvaluateTransaction(ctx context.Context, tx compliance.Transaction, chunks []policy.ChunkMatch, cases []compliance.SimilarCase) (*ai.Evaluation, error) {
	content, err := c.complete(ctx,
		prompt.GetEvaluationSystemPrompt(),
		prompt.BuildEvaluationPrompt(tx, chunks, cases))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
	}
	return c.parseEvaluation(tx, content), nil
}

// AnswerQuery asks the model to answer a compliance question from the
// provided policy context.
func (c *Client) AnswerQuery(ctx context.Context, query string, chunks []policy.ChunkMatch) (*ai.Answer, error) {
	content, err := c.complete(ctx,
		prompt.GetQuerySystemPrompt(),
		prompt.BuildQueryPrompt(query, chunks))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
	}

	var parsed struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Answer == "" {
		// Malformed JSON still carries a usable answer more often than not.
		return &ai.Answer{Answer: content, Confidence: 0.3, Raw: content}, nil
	}
	return &ai.Answer{
		Answer:     parsed.Answer,
		Confidence: compliance.ClampScore(parsed.Confidence),
		Raw:        content,
	}, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	model := c.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	var content string
	operation := func() error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	if err := retryWithBackoff(ctx, operation); err != nil {
		return "", fmt.Errorf("chat completion failed after %d attempts: %w", maxAttempts, err)
	}
	return content, nil
}

// retryWithBackoff is the gateway-wide retry policy: capped exponential
// backoff starting at one second and doubling, three attempts total.
// Both the reasoning and embedding endpoints go through it.
func retryWithBackoff(ctx context.Context, operation backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
}

// parseEvaluation validates the model output, coercing out-of-schema
// values to safe defaults. The raw content is preserved for audit.
func (c *Client) parseEvaluation(tx compliance.Transaction, content string) *ai.Evaluation {
	var parsed struct {
		Verdict    string  `json:"verdict"`
		RiskLevel  string  `json:"risk_level"`
		RiskScore  float64 `json:"risk_score"`
		Reasoning  string  `json:"reasoning"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return &ai.Evaluation{
			Verdict:    compliance.VerdictNeedsReview,
			RiskLevel:  compliance.RiskMedium,
			RiskScore:  0.5,
			Reasoning:  fmt.Sprintf("Model output for transaction %s was not valid JSON; manual review required.", tx.TransactionID),
			Confidence: 0.3,
			Model:      c.Model,
			Raw:        content,
		}
	}
	confidence := compliance.ClampScore(parsed.Confidence)
	if confidence == 0 {
		confidence = 0.7
	}
	return &ai.Evaluation{
		Verdict:    compliance.ParseVerdict(parsed.Verdict),
		RiskLevel:  compliance.ParseRiskLevel(parsed.RiskLevel),
		RiskScore:  compliance.ClampScore(parsed.RiskScore),
		Reasoning:  parsed.Reasoning,
		Confidence: confidence,
		Model:      c.Model,
		Raw:        content,
	}
}
