package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"featherine-chat/internal/domain"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama3-8b-8192"
	DefaultTemperature = 0.7
)

// Completer envia un transcript ordenado y devuelve la respuesta generada.
type Completer interface {
	Complete(ctx context.Context, transcript []domain.TranscriptEntry) (string, error)
}

// HTTPClient implementa Completer usando una API OpenAI-compatible.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	logger      *zap.Logger
	// urlErr queda fijado si baseURL no es valida; Complete lo devuelve sin salir a la red.
	urlErr error
}

// Option ajusta un HTTPClient.
type Option func(*HTTPClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

func WithTemperature(t float64) Option {
	return func(h *HTTPClient) { h.temperature = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTPClient construye un cliente HTTP apuntando a la API de chat completions.
// El cliente no impone timeout propio: el contexto del llamador manda.
func NewHTTPClient(baseURL, apiKey, model string, opts ...Option) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      strings.TrimSpace(apiKey),
		model:       model,
		temperature: DefaultTemperature,
		client:      &http.Client{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.urlErr = validateBaseURL(c.baseURL)
	return c
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return nil
}

func (c *HTTPClient) Complete(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
	if c.apiKey == "" {
		return "", &ConfigurationError{Err: ErrMissingAPIKey}
	}
	if c.urlErr != nil {
		return "", &ConfigurationError{Err: c.urlErr}
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(transcript)),
		Temperature: c.temperature,
	}
	for _, e := range transcript {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(e.Role), Content: e.Content})
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		// solo falla con parametros no representables, p. ej. temperatura NaN
		return "", &ConfigurationError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &ConfigurationError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("llm error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return "", &TransportError{StatusCode: resp.StatusCode, Body: errorDetail(respBody)}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if cr.Error != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Body: cr.Error.Message}
	}
	if len(cr.Choices) == 0 {
		return "", &TransportError{StatusCode: resp.StatusCode, Err: ErrEmptyResponse}
	}

	return cr.Choices[0].Message.Content, nil
}

// errorDetail extrae el campo "error" del cuerpo si existe, si no devuelve el cuerpo completo.
func errorDetail(body []byte) string {
	var wrapper struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Error) > 0 {
		return string(wrapper.Error)
	}
	return string(body)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
