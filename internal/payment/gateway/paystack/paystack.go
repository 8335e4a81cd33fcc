package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/classsphere/classsphere/internal/payment/gateway"
)

// Config configures the Paystack client.
type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Client talks to the Paystack REST API. All amounts cross this boundary
// in kobo (integer minor units).
type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

var _ gateway.Client = (*Client)(nil)
var _ gateway.WebhookVerifier = (*Client)(nil)

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey: strings.TrimSpace(cfg.SecretKey),
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AccessCode       string `json:"access_code"`
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID            int64  `json:"id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Channel       string `json:"channel"`
	PaidAt        string `json:"paid_at"`
	Authorization struct {
		CardType string `json:"card_type"`
		Last4    string `json:"last4"`
		Bank     string `json:"bank"`
	} `json:"authorization"`
}

type refundData struct {
	ID          int64 `json:"id"`
	Transaction struct {
		Reference string `json:"reference"`
	} `json:"transaction"`
	TransactionReference string `json:"transaction_reference"`
}

func (c *Client) InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}
	if len(req.Channels) > 0 {
		body["channels"] = req.Channels
	}

	data, err := c.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var decoded initializeData
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, gateway.NewFatalError("invalid_response", "malformed initialize response")
	}
	return &gateway.InitializeResult{
		AccessCode:       decoded.AccessCode,
		AuthorizationURL: decoded.AuthorizationURL,
	}, nil
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	data, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var decoded verifyData
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, gateway.NewFatalError("invalid_response", "malformed verify response")
	}

	result := &gateway.VerifyResult{
		TransactionID: fmt.Sprintf("%d", decoded.ID),
		Channel:       decoded.Channel,
		CardType:      decoded.Authorization.CardType,
		CardLast4:     decoded.Authorization.Last4,
		Bank:          decoded.Authorization.Bank,
		Amount:        decoded.Amount,
	}
	if decoded.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, decoded.PaidAt); err == nil {
			result.PaidAt = paidAt.UTC()
		}
	}

	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case "success":
		result.Status = gateway.VerifySuccess
	case "abandoned":
		result.Status = gateway.VerifyAbandoned
	default:
		result.Status = gateway.VerifyFailed
	}
	return result, nil
}

func (c *Client) Refund(ctx context.Context, reference string, amount int64, reason string) (*gateway.RefundResult, error) {
	body := map[string]any{
		"transaction": reference,
	}
	if amount > 0 {
		body["amount"] = amount
	}
	if reason != "" {
		body["merchant_note"] = reason
	}

	data, err := c.do(ctx, http.MethodPost, "/refund", body)
	if err != nil {
		return nil, err
	}

	var decoded refundData
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, gateway.NewFatalError("invalid_response", "malformed refund response")
	}

	refundReference := decoded.Transaction.Reference
	if refundReference == "" {
		refundReference = decoded.TransactionReference
	}
	if refundReference == "" {
		refundReference = fmt.Sprintf("RF_%d", decoded.ID)
	}
	return &gateway.RefundResult{RefundReference: refundReference}, nil
}

// VerifyWebhook checks the x-paystack-signature header: HMAC-SHA512 of
// the raw payload keyed with the secret key.
func (c *Client) VerifyWebhook(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return gateway.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return gateway.ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// ParseWebhook decodes a webhook notification. Only charge events feed
// the verify flow; everything else is ignored.
func (c *Client) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	var decoded webhookPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, gateway.NewFatalError("invalid_payload", "malformed webhook payload")
	}

	event := strings.TrimSpace(decoded.Event)
	switch event {
	case "charge.success":
	default:
		return nil, gateway.ErrEventIgnored
	}

	reference := strings.TrimSpace(decoded.Data.Reference)
	if reference == "" {
		return nil, gateway.NewFatalError("invalid_payload", "webhook missing reference")
	}
	return &gateway.WebhookEvent{Event: event, Reference: reference}, nil
}

// do performs one API round-trip and classifies every failure mode:
// transport errors and 5xx/429 are retryable, everything else is fatal.
func (c *Client) do(ctx context.Context, method, path string, body map[string]any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, gateway.NewFatalError("invalid_request", err.Error())
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, gateway.NewFatalError("invalid_request", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, gateway.NewRetryableError("transport", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gateway.NewRetryableError("transport", err.Error())
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, gateway.NewRetryableError(fmt.Sprintf("http_%d", resp.StatusCode), gatewayMessage(raw))
	}
	if resp.StatusCode >= 400 {
		return nil, gateway.NewFatalError(fmt.Sprintf("http_%d", resp.StatusCode), gatewayMessage(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, gateway.NewFatalError("invalid_response", "malformed gateway response")
	}
	if !env.Status {
		return nil, gateway.NewFatalError("rejected", env.Message)
	}
	return env.Data, nil
}

func gatewayMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return "gateway request failed"
}
