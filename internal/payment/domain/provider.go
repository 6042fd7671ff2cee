// Package domain defines the payment provider boundary. The billing core
// never talks to a gateway directly; payment outcomes are reported back via
// the subscription and invoice services, and charges initiated here go
// through the Provider interface.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ChargeRequest struct {
	OrgID       snowflake.ID
	InvoiceID   snowflake.ID
	AmountCents int64
	Currency    string
	Reference   string
}

type ChargeResult struct {
	ProviderRef string
	Succeeded   bool
	FailureCode string
}

type RefundRequest struct {
	OrgID       snowflake.ID
	InvoiceID   snowflake.ID
	AmountCents int64
	Currency    string
	ProviderRef string
}

// Provider is the outbound payment gateway boundary.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (ChargeResult, error)
}

var ErrProviderUnavailable = errors.New("payment_provider_unavailable")
