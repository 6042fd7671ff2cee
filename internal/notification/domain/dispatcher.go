// Package domain defines the outbound notification boundary used for renewal
// reminders, past-due notices and invoice delivery.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventRenewalReminder     EventType = "renewal_reminder"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionPastDue EventType = "subscription_past_due"
	EventInvoiceIssued       EventType = "invoice_issued"
	EventInvoiceSent         EventType = "invoice_sent"
	EventInvoiceOverdue      EventType = "invoice_overdue"
)

// Event is a single outbound notification.
type Event struct {
	Type      EventType
	OrgID     snowflake.ID
	Recipient string
	Subject   string
	Data      map[string]any
}

// Dispatcher delivers notification events. Delivery failures must not abort
// the billing mutation that produced the event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}
