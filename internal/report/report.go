// Package report renders the tenant billing report as a PDF.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	marotocfg "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/faktur/internal/clock"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	"github.com/smallbiznis/faktur/internal/rating"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"github.com/smallbiznis/faktur/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log   *zap.Logger
	clock clock.Clock

	orgsvc     orgdomain.Service
	invoicesvc invoicedomain.Service
	usagesvc   usagedomain.Service
	revenuesvc *rating.RevenueService
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock

	Orgsvc     orgdomain.Service
	Invoicesvc invoicedomain.Service
	Usagesvc   usagedomain.Service
	Revenuesvc *rating.RevenueService
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:   p.Log.Named("report.service"),
		clock: p.Clock,

		orgsvc:     p.Orgsvc,
		invoicesvc: p.Invoicesvc,
		usagesvc:   p.Usagesvc,
		revenuesvc: p.Revenuesvc,
	}
}

// GenerateBillingReport renders the tenant's invoices, usage and revenue
// aggregates for a window into a PDF.
func (s *Service) GenerateBillingReport(ctx context.Context, periodStart, periodEnd time.Time) (io.Reader, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, orgdomain.ErrInvalidOrganization
	}

	org, err := s.orgsvc.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	invoices, err := s.invoicesvc.List(ctx, invoicedomain.ListRequest{PageSize: 250})
	if err != nil {
		return nil, err
	}

	usage, err := s.usagesvc.Summary(ctx, usagedomain.SummaryRequest{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	if err != nil {
		return nil, err
	}

	revenue, err := s.revenuesvc.Metrics(ctx)
	if err != nil {
		return nil, err
	}

	cfg := marotocfg.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Billing report", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New(org.Name, props.Text{Style: fontstyle.Bold}),
			text.New(org.BillingEmail, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Period: "+periodStart.Format("2006-01-02")+" to "+periodEnd.Format("2006-01-02"), props.Text{}),
			text.New("Generated: "+s.clock.Now().UTC().Format("2006-01-02"), props.Text{Top: 5}),
		),
	)

	m.AddRow(10,
		text.NewCol(12, "Revenue", props.Text{Size: 12, Style: fontstyle.Bold}),
	)
	m.AddRow(16,
		col.New(12).Add(
			text.New("MRR: "+money.Format(revenue.MRRCents, org.Currency), props.Text{Size: 9}),
			text.New("ARR: "+money.Format(revenue.ARRCents, org.Currency), props.Text{Size: 9, Top: 4}),
			text.New(fmt.Sprintf("Active subscriptions: %d, past due: %d", revenue.ActiveCount, revenue.PastDueCount), props.Text{Size: 9, Top: 8}),
		),
	)

	m.AddRow(10,
		text.NewCol(12, "Invoices", props.Text{Size: 12, Style: fontstyle.Bold}),
	)
	m.AddRow(8,
		text.NewCol(3, "Number", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Status", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount due", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, inv := range invoices.Invoices {
		m.AddRow(8,
			text.NewCol(3, inv.Number, props.Text{Size: 9}),
			text.NewCol(3, string(inv.Status), props.Text{Size: 9}),
			text.NewCol(3, money.Format(inv.TotalCents, inv.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, money.Format(inv.AmountDueCents, inv.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		text.NewCol(12, "Usage", props.Text{Size: 12, Style: fontstyle.Bold}),
	)
	m.AddRow(8,
		text.NewCol(4, "Meter", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Quantity", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(4, "Cost", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, meter := range usage.Meters {
		m.AddRow(8,
			text.NewCol(4, meter.MeterCode, props.Text{Size: 9}),
			text.NewCol(4, fmt.Sprintf("%.2f %s", meter.TotalQuantity, meter.Unit), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(4, money.Format(meter.TotalCostCents, org.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

// Module wires the billing report generator.
var Module = fx.Module("report",
	fx.Provide(NewService),
)
