// Package whatsapp is a thin client for the WhatsApp Cloud API send and
// template endpoints. It only reports success or failure of provider
// calls; recording sent messages is the caller's concern.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkhera/wafunnel/internal/config"
)

const maxErrorBodySize = 2048

// Template describes a provider-side pre-approved message template.
type Template struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// Client talks to the WhatsApp Cloud API on behalf of one phone number.
type Client struct {
	httpClient        *http.Client
	logger            *slog.Logger
	baseURL           string
	accessToken       string
	phoneNumberID     string
	businessAccountID string
	language          string
}

// NewClient creates a Cloud API client from the WhatsApp configuration.
func NewClient(cfg config.WhatsAppConfig, logger *slog.Logger) (*Client, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("invalid WhatsApp configuration: access token and phone number id are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient:        &http.Client{Timeout: timeout},
		logger:            logger.With("component", "whatsapp"),
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		accessToken:       cfg.AccessToken,
		phoneNumberID:     cfg.PhoneNumberID,
		businessAccountID: cfg.BusinessAccountID,
		language:          cfg.TemplateLanguage,
	}, nil
}

type textBody struct {
	Body string `json:"body"`
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name     string           `json:"name"`
	Language templateLanguage `json:"language"`
}

type templatePayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

// SendText sends a plain text message to the given number.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	if err := c.postMessage(ctx, payload); err != nil {
		return fmt.Errorf("failed to send text message to %s: %w", to, err)
	}

	c.logger.InfoContext(ctx, "Text message sent", "to", to)
	return nil
}

// SendTemplate sends a pre-approved template message to the given number.
// The provider renders the template; only its name and language travel here.
func (c *Client) SendTemplate(ctx context.Context, to, name string) error {
	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateBody{
			Name:     name,
			Language: templateLanguage{Code: c.language},
		},
	}
	if err := c.postMessage(ctx, payload); err != nil {
		return fmt.Errorf("failed to send template %q to %s: %w", name, to, err)
	}

	c.logger.InfoContext(ctx, "Template message sent", "to", to, "template", name)
	return nil
}

// ListTemplates fetches the approved message templates of the configured
// business account.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	if c.businessAccountID == "" {
		return nil, fmt.Errorf("business account id is not configured")
	}

	url := fmt.Sprintf("%s/%s/message_templates", c.baseURL, c.businessAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create template list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch templates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.responseError(resp)
	}

	var response struct {
		Data []Template `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode template list: %w", err)
	}

	return response.Data, nil
}

// postMessage sends a JSON payload to the messages endpoint of the
// configured phone number.
func (c *Client) postMessage(ctx context.Context, payload any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.responseError(resp)
	}

	return nil
}

func (c *Client) responseError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(respBody))
}
