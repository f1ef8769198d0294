package payment

import (
	"context"
)

// Processor is the external payment API the order lifecycle depends on.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

type IntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type RefundRequest struct {
	PaymentIntentId string
	Amount          int64
	IdempotencyKey  string
}

type Refund struct {
	ID              string `json:"id"`
	PaymentIntentId string `json:"payment_intent"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
}
