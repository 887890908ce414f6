// Package oracle provides text-grading oracles for letter submissions.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/tidwall/gjson"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/pkg/metrics"
)

const (
	backendAzure          = "azure"
	defaultRequestTimeout = 60 * time.Second
)

// ChatCompleter sends one prompt and returns the completion text.
type ChatCompleter interface {
	GetChatCompletion(ctx context.Context, prompt string) (string, error)
}

// AzureChatClient is a ChatCompleter backed by an Azure OpenAI deployment.
type AzureChatClient struct {
	client       *azopenai.Client
	deploymentID string
}

// NewAzureChatClient creates a client for the given endpoint and deployment.
func NewAzureChatClient(endpoint, apiKey, deploymentID string) (*AzureChatClient, error) {
	if endpoint == "" || deploymentID == "" {
		return nil, ErrNotConfigured
	}
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("create azure openai client: %w", err)
	}
	return &AzureChatClient{client: client, deploymentID: deploymentID}, nil
}

// GetChatCompletion implements ChatCompleter.
func (c *AzureChatClient) GetChatCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(c.deploymentID),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(prompt),
				},
			},
		},
		nil,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", ErrEmptyReply
}

// AzureOption applies a configuration option to the AzureOracle.
type AzureOption func(*AzureOracle)

// WithRequestTimeout bounds each oracle call.
func WithRequestTimeout(d time.Duration) AzureOption {
	return func(o *AzureOracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// AzureOracle grades letters through a chat completion model that replies
// with a JSON object {"score": 0-10, "feedback": "..."}.
type AzureOracle struct {
	client  ChatCompleter
	timeout time.Duration
}

// NewAzureOracle wraps a chat client.
func NewAzureOracle(client ChatCompleter, opts ...AzureOption) *AzureOracle {
	o := &AzureOracle{client: client, timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Evaluate implements grading.Oracle.
func (o *AzureOracle) Evaluate(ctx context.Context, text string) (grading.Evaluation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.client.GetChatCompletion(ctx, prompt(text))
	if err != nil {
		metrics.RecordOracleCall(backendAzure, "error", float64(time.Since(start).Milliseconds()))
		return grading.Evaluation{}, fmt.Errorf("chat completion: %w", err)
	}
	eval, err := ParseEvaluation(reply)
	if err != nil {
		metrics.RecordOracleCall(backendAzure, "malformed", float64(time.Since(start).Milliseconds()))
		return grading.Evaluation{}, err
	}
	metrics.RecordOracleCall(backendAzure, "ok", float64(time.Since(start).Milliseconds()))
	return eval, nil
}

func prompt(text string) string {
	var b strings.Builder
	b.WriteString("Grade the following cover letter from 0 to 10. ")
	b.WriteString(`Reply only with JSON: {"score": <number>, "feedback": "<one sentence>"}.`)
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String()
}

// ParseEvaluation extracts the score and feedback from a model reply. The
// JSON object may be wrapped in prose or a code fence.
func ParseEvaluation(reply string) (grading.Evaluation, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return grading.Evaluation{}, fmt.Errorf("%w: %q", ErrMalformedReply, truncate(reply))
	}
	body := reply[start : end+1]
	if !gjson.Valid(body) {
		return grading.Evaluation{}, fmt.Errorf("%w: invalid json", ErrMalformedReply)
	}
	score := gjson.Get(body, "score")
	if !score.Exists() || (score.Type != gjson.Number && score.Type != gjson.String) {
		return grading.Evaluation{}, fmt.Errorf("%w: missing score", ErrMalformedReply)
	}
	return grading.Evaluation{
		Score:    score.Float(),
		Feedback: gjson.Get(body, "feedback").String(),
	}, nil
}

func truncate(s string) string {
	const limit = 80
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
