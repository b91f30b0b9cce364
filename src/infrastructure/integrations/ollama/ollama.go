package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/log"
)

const (
	DefaultURL             = "http://localhost:11434/api"
	DefaultEmbeddingModel  = "nomic-embed-text"
	DefaultGenerationModel = "llama3"
)

// EmbeddingRequest represents the request structure for embeddings
type EmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// EmbeddingResponse represents the response structure from embeddings
type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// GenerateRequest represents the request structure for model generation
type GenerateRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system,omitempty"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse represents one streamed line of a generation
type GenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ErrTruncated is returned when the model cut its answer short
var ErrTruncated = errors.New("response was truncated by the model")

// Client talks to a local Ollama server. It serves both as the embedding and
// the generation provider.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	embeddingModel  string
	generationModel string
}

// NewClient creates a new Ollama API client
func NewClient(baseURL, embeddingModel, generationModel string, c *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if generationModel == "" {
		generationModel = DefaultGenerationModel
	}
	if c == nil {
		c = http.DefaultClient
	}

	return &Client{
		httpClient:      c,
		baseURL:         strings.TrimRight(baseURL, "/"),
		embeddingModel:  embeddingModel,
		generationModel: generationModel,
	}
}

// Embed generates an embedding vector for text with the configured model
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.post(ctx, "/embeddings", EmbeddingRequest{
		Model:  c.embeddingModel,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", c.embeddingModel)
	}

	return result.Embedding, nil
}

// Generate streams a completion for prompt and returns the concatenated answer
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, "/generate", GenerateRequest{
		Model:  c.generationModel,
		Prompt: prompt,
		Stream: true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var fullResponse strings.Builder

	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var response GenerateResponse
			if err := json.Unmarshal(line, &response); err != nil {
				log.Error(err, "failed to unmarshal response line", "line", string(line))
				return "", fmt.Errorf("error unmarshaling response: %w", err)
			}

			fullResponse.WriteString(response.Response)

			if response.Truncated {
				return "", ErrTruncated
			}
			if response.Done {
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error reading response: %w", err)
		}
	}

	if fullResponse.Len() == 0 {
		return "", fmt.Errorf("no response received from Ollama")
	}
	return fullResponse.String(), nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error(err, "failed to make request to ollama", "path", path)
		return nil, fmt.Errorf("error making request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("ollama %s: %w: %s", path, knowledgebase.ErrQuotaExceeded, strings.TrimSpace(string(msg)))
		}
		return nil, fmt.Errorf("ollama %s returned %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
