// Package provider holds the built-in payment provider implementations.
package provider

import (
	"context"
	"fmt"

	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Noop accepts every charge and refund. It stands in for a real gateway in
// development and in deployments where payment capture happens out of band
// and only the outcome is reported back.
type Noop struct {
	log *zap.Logger
}

func NewNoop(log *zap.Logger) paymentdomain.Provider {
	return &Noop{log: log.Named("payment.noop")}
}

func (p *Noop) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	p.log.Info("charge accepted",
		zap.Int64("org_id", int64(req.OrgID)),
		zap.Int64("invoice_id", int64(req.InvoiceID)),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("currency", req.Currency),
	)
	return paymentdomain.ChargeResult{
		ProviderRef: fmt.Sprintf("noop-%d", req.InvoiceID),
		Succeeded:   true,
	}, nil
}

func (p *Noop) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.ChargeResult, error) {
	p.log.Info("refund accepted",
		zap.Int64("org_id", int64(req.OrgID)),
		zap.Int64("invoice_id", int64(req.InvoiceID)),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return paymentdomain.ChargeResult{
		ProviderRef: req.ProviderRef,
		Succeeded:   true,
	}, nil
}

// Module wires the default payment provider.
var Module = fx.Module("payment",
	fx.Provide(NewNoop),
)
