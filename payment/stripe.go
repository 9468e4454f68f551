package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/invoice"
)

// StripeGateway charges rides as Stripe invoices against the customer's saved
// payment method. The invoice ID is the external reference.
type StripeGateway struct {
	// VATPercentage is the inclusive VAT rate reported on the invoice line.
	VATPercentage float64
}

func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{VATPercentage: 13.5}
}

// CreateCharge opens a draft invoice for the payment. Nothing is collected
// until CollectCharge runs, so the reference can be stored first.
func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.CustomerRef == "" {
		return "", fmt.Errorf("%w: customer has no stripe ID", ErrExternalService)
	}

	inParams := &stripe.InvoiceParams{
		Customer:    stripe.String(req.CustomerRef),
		Currency:    stripe.String(req.Currency),
		AutoAdvance: stripe.Bool(false),
	}
	inParams.Context = ctx
	inParams.SetIdempotencyKey("invoice-" + req.PaymentID.String())
	inParams.AddMetadata("payment_id", req.PaymentID.String())
	in, err := invoice.New(inParams)
	if err != nil {
		return "", fmt.Errorf("%w: create invoice: %v", ErrExternalService, err)
	}
	return in.ID, nil
}

// CollectCharge adds the ride line, finalizes and pays the invoice. Each step
// is skipped once the invoice has moved past it, so a failed call can simply
// be repeated.
func (g *StripeGateway) CollectCharge(ctx context.Context, externalRef string, req ChargeRequest) error {
	in, err := invoice.Get(externalRef, g.invoiceParams(ctx))
	if err != nil {
		return fmt.Errorf("%w: get invoice: %v", ErrExternalService, err)
	}

	if in.Status == stripe.InvoiceStatusDraft {
		if in.Total == 0 {
			if err := g.addLines(ctx, in.ID, req); err != nil {
				return err
			}
		}
		if in, err = g.finalize(ctx, in.ID); err != nil {
			return err
		}
	}
	if in.Status != stripe.InvoiceStatusOpen {
		return nil
	}

	// A declined card leaves the invoice open; the outcome is read back
	// through ChargeStatus.
	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	_, _ = invoice.Pay(in.ID, payParams)
	return nil
}

func (g *StripeGateway) addLines(ctx context.Context, invoiceID string, req ChargeRequest) error {
	tax := g.inclusiveTax(req.AmountCents)
	ilParams := &stripe.InvoiceAddLinesParams{
		Lines: []*stripe.InvoiceAddLinesLineParams{
			{
				Amount:      stripe.Int64(req.AmountCents),
				Description: stripe.String(req.Description),
				TaxAmounts: []*stripe.InvoiceAddLinesLineTaxAmountParams{
					{
						Amount:        stripe.Int64(tax),
						TaxableAmount: stripe.Int64(req.AmountCents - tax),
						TaxRateData: &stripe.InvoiceAddLinesLineTaxAmountTaxRateDataParams{
							Percentage:  stripe.Float64(g.VATPercentage),
							Description: stripe.String("VAT - Reduced Rate"),
							DisplayName: stripe.String(fmt.Sprintf("VAT - Reduced Rate (%.1f%%)", g.VATPercentage)),
							Inclusive:   stripe.Bool(true),
						},
					},
				},
			},
		},
	}
	ilParams.Context = ctx
	ilParams.SetIdempotencyKey("invoice-lines-" + req.PaymentID.String())
	if _, err := invoice.AddLines(invoiceID, ilParams); err != nil {
		return fmt.Errorf("%w: add invoice lines: %v", ErrExternalService, err)
	}
	return nil
}

func (g *StripeGateway) finalize(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	finParams := &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(false)}
	finParams.Context = ctx
	finParams.SetIdempotencyKey("invoice-finalize-" + invoiceID)
	in, err := invoice.FinalizeInvoice(invoiceID, finParams)
	if err != nil {
		return nil, fmt.Errorf("%w: finalize invoice: %v", ErrExternalService, err)
	}
	return in, nil
}

func (g *StripeGateway) ChargeStatus(ctx context.Context, externalRef string) (ChargeStatus, error) {
	in, err := invoice.Get(externalRef, g.invoiceParams(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: get invoice: %v", ErrExternalService, err)
	}
	return invoiceChargeStatus(in.Status), nil
}

// CancelCharge voids the invoice unless it has been paid already. A draft is
// finalized first since only open invoices can be voided.
func (g *StripeGateway) CancelCharge(ctx context.Context, externalRef string) error {
	in, err := invoice.Get(externalRef, g.invoiceParams(ctx))
	if err != nil {
		return fmt.Errorf("%w: get invoice: %v", ErrExternalService, err)
	}
	if in.Status == stripe.InvoiceStatusDraft {
		if in, err = g.finalize(ctx, in.ID); err != nil {
			return err
		}
	}
	if in.Status != stripe.InvoiceStatusOpen {
		return nil
	}

	voidParams := &stripe.InvoiceVoidInvoiceParams{}
	voidParams.Context = ctx
	if _, err := invoice.VoidInvoice(in.ID, voidParams); err != nil {
		return fmt.Errorf("%w: void invoice: %v", ErrExternalService, err)
	}
	return nil
}

func (g *StripeGateway) invoiceParams(ctx context.Context) *stripe.InvoiceParams {
	return &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}}
}

func invoiceChargeStatus(status stripe.InvoiceStatus) ChargeStatus {
	switch status {
	case stripe.InvoiceStatusPaid:
		return ChargeSucceeded
	case stripe.InvoiceStatusVoid, stripe.InvoiceStatusUncollectible:
		return ChargeFailed
	}
	return ChargePending
}

// inclusiveTax is the VAT contained in a gross amount.
func (g *StripeGateway) inclusiveTax(gross int64) int64 {
	net := float64(gross) / (1 + g.VATPercentage/100)
	return gross - int64(net+0.5)
}
