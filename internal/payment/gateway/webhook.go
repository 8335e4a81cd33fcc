package gateway

import "errors"

// WebhookEvent is the canonical webhook notification parsed at the
// gateway boundary. Only the reference matters downstream: settlement
// always goes through the idempotent verify flow, never through trusting
// the webhook payload.
type WebhookEvent struct {
	Event     string
	Reference string
}

// ErrEventIgnored marks webhook events the platform does not consume.
var ErrEventIgnored = errors.New("event_ignored")

// ErrInvalidSignature marks a webhook whose signature check failed.
var ErrInvalidSignature = errors.New("invalid_signature")

// WebhookVerifier authenticates and decodes gateway webhooks.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}
