package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"ragvault/src/core/knowledgebase"
)

const (
	DefaultEmbeddingModel  = string(openai.SmallEmbedding3)
	DefaultGenerationModel = openai.GPT4oMini
)

type Config struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	GenerationModel string
}

// Client adapts go-openai to the embedding and generation providers.
type Client struct {
	client          *openai.Client
	embeddingModel  string
	generationModel string
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = DefaultGenerationModel
	}

	return &Client{
		client:          openai.NewClientWithConfig(oc),
		embeddingModel:  cfg.EmbeddingModel,
		generationModel: cfg.GenerationModel,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, translate(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("no embedding data returned from API")
	}

	v32 := resp.Data[0].Embedding
	v := make([]float64, len(v32))
	for i := range v32 {
		v[i] = float64(v32[i])
	}
	return v, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.generationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", translate(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from API")
	}
	return resp.Choices[0].Message.Content, nil
}

// translate maps rate-limit responses onto the quota signal.
func translate(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai: %w: %s", knowledgebase.ErrQuotaExceeded, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai: %w: %v", knowledgebase.ErrQuotaExceeded, reqErr.Err)
	}
	return fmt.Errorf("openai API error: %w", err)
}
