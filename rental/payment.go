package rental

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/customer"
	"github.com/semanticallynull/bikeshare-backend/events"
	"github.com/semanticallynull/bikeshare-backend/loyalty"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/reservation"
)

// StartPayment opens a pending payment for a completed ride. amountCents must
// equal the frozen ride cost. Starting again with the same method returns the
// payment already in progress.
func (s *Service) StartPayment(ctx context.Context, userID string, reservationID uuid.UUID, method payment.Method, amountCents int64) (_ payment.Payment, err error) {
	ctx, span := s.startSpan(ctx, "StartPayment",
		attribute.String("reservation_id", reservationID.String()),
		attribute.String("method", string(method)))
	defer func() { endSpan(span, err) }()

	if err := s.checkRail(method); err != nil {
		return payment.Payment{}, err
	}

	res, err := s.GetReservation(ctx, userID, reservationID)
	if err != nil {
		return payment.Payment{}, err
	}
	if res.Status != reservation.StatusCompleted || !res.CostCents.Valid {
		return payment.Payment{}, fmt.Errorf("%w: payment on %s reservation", reservation.ErrIllegalTransition, res.Status)
	}
	if err := payment.CheckAmount(amountCents, res.CostCents.Int64); err != nil {
		s.logger.ErrorContext(ctx, "payment amount mismatch",
			"reservation_id", res.ID, "amount_cents", amountCents, "cost_cents", res.CostCents.Int64)
		return payment.Payment{}, err
	}

	existing, err := s.payments.GetOpenForReservation(ctx, res.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	if existing != nil {
		switch {
		case existing.Status == payment.StatusCompleted:
			return *existing, payment.ErrAlreadySettled
		case existing.Method != method:
			return *existing, payment.ErrPaymentInProgress
		}
		return s.ensureCharge(ctx, *existing)
	}

	p := payment.Payment{
		ID:            uuid.New(),
		ReservationID: res.ID,
		UserID:        userID,
		Method:        method,
		AmountCents:   amountCents,
		Currency:      s.cfg.Currency,
	}
	if err := s.payments.Create(ctx, &p); err != nil {
		return payment.Payment{}, err
	}

	s.logger.InfoContext(ctx, "payment started",
		"payment_id", p.ID, "reservation_id", res.ID, "method", method, "amount_cents", amountCents)
	pid := p.ID
	s.publish(ctx, events.Event{Type: events.PaymentStarted, ReservationID: res.ID, PaymentID: &pid, Status: string(p.Status)})

	return s.ensureCharge(ctx, p)
}

func (s *Service) checkRail(method payment.Method) error {
	switch {
	case !method.Valid(),
		method == payment.MethodCard && s.gateway == nil,
		method == payment.MethodCrypto && s.chain == nil:
		return payment.ErrUnsupportedMethod
	}
	return nil
}

// ensureCharge drives the gateway charge of a pending card payment. The
// charge reference is stored before anything is collected, so a failure at
// any step leaves a payment that starting again resumes from where it
// stopped.
func (s *Service) ensureCharge(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.Method != payment.MethodCard || p.Status != payment.StatusPending {
		return p, nil
	}

	var customerRef string
	cust, err := s.customers.GetCustomerByAuth0ID(ctx, p.UserID)
	switch {
	case err == nil && cust.StripeID.Valid:
		customerRef = cust.StripeID.String
	case err != nil && !errors.Is(err, customer.ErrNotFound):
		return p, err
	}
	req := payment.ChargeRequest{
		PaymentID:   p.ID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		CustomerRef: customerRef,
		Description: "Bike ride " + p.ReservationID.String(),
	}

	if !p.ExternalRef.Valid {
		ref, err := s.gateway.CreateCharge(ctx, req)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to create charge", "payment_id", p.ID, "error", err)
			return p, fmt.Errorf("%w: %v", payment.ErrExternalService, err)
		}
		attached, err := s.payments.AttachReference(ctx, p.ID, ref)
		if err != nil {
			return p, err
		}
		p = attached
		if p.Status != payment.StatusPending {
			return p, nil
		}
	}

	if err := s.gateway.CollectCharge(ctx, p.ExternalRef.String, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to collect charge", "payment_id", p.ID, "ref", p.ExternalRef.String, "error", err)
		return p, fmt.Errorf("%w: %v", payment.ErrExternalService, err)
	}
	return p, nil
}

// ConfirmPayment settles a pending payment owned by userID. success reports
// the caller's view of the outcome. Card and crypto payments only settle on
// the gateway's or the chain's answer: a successful outcome waits for it and
// a failure first cancels the card charge, so either way the payment may stay
// pending with ErrConfirmationPending. A payment with no external reference
// has nothing on the rail and can be abandoned. QR payments are marked paid
// by an operator through ConfirmQRPayment. Repeating a settled outcome is a
// no-op; contradicting it is ErrAlreadySettled.
func (s *Service) ConfirmPayment(ctx context.Context, userID string, paymentID uuid.UUID, success bool, externalRef string) (_ payment.Payment, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmPayment", attribute.String("payment_id", paymentID.String()))
	defer func() { endSpan(span, err) }()

	p, err := s.GetPayment(ctx, userID, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	span.SetAttributes(attribute.String("method", string(p.Method)))

	if externalRef != "" && p.ExternalRef.Valid && p.ExternalRef.String != externalRef {
		return p, payment.ErrReferenceMismatch
	}
	if p.Status.Terminal() {
		return p, s.resolveSettled(ctx, p, payment.Outcome(success))
	}

	switch p.Method {
	case payment.MethodCard:
		return s.confirmCard(ctx, p, success)
	case payment.MethodCrypto:
		if !success && externalRef == "" && !p.ExternalRef.Valid {
			return s.settle(ctx, p.ID, payment.StatusFailed, nil)
		}
		return s.confirmCrypto(ctx, p, externalRef)
	case payment.MethodQR:
		if success {
			return p, payment.ErrOperatorOnly
		}
		return s.settle(ctx, p.ID, payment.StatusFailed, nil)
	}
	return p, payment.ErrUnsupportedMethod
}

// ConfirmQRPayment records an operator's check of a QR payment. It is not
// scoped to a user.
func (s *Service) ConfirmQRPayment(ctx context.Context, paymentID uuid.UUID, success bool) (_ payment.Payment, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmQRPayment", attribute.String("payment_id", paymentID.String()))
	defer func() { endSpan(span, err) }()

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Method != payment.MethodQR {
		return p, payment.ErrUnsupportedMethod
	}
	target := payment.Outcome(success)
	if p.Status.Terminal() {
		return p, s.resolveSettled(ctx, p, target)
	}
	s.logger.InfoContext(ctx, "qr payment checked by operator", "payment_id", p.ID, "success", success)
	return s.settle(ctx, p.ID, target, nil)
}

func (s *Service) resolveSettled(ctx context.Context, p payment.Payment, target payment.Status) error {
	_, err := payment.Resolve(p.Status, target)
	if err != nil {
		s.logger.ErrorContext(ctx, "conflicting payment confirmation",
			"payment_id", p.ID, "status", p.Status, "requested", target)
	}
	return err
}

// confirmCard settles on the gateway's view of the charge. When the caller
// reports a failure on a charge that is still open, the charge is cancelled
// first; if it was collected in the meantime the payment completes.
func (s *Service) confirmCard(ctx context.Context, p payment.Payment, success bool) (payment.Payment, error) {
	if s.gateway == nil {
		return p, payment.ErrUnsupportedMethod
	}
	if !p.ExternalRef.Valid {
		if !success {
			return s.settle(ctx, p.ID, payment.StatusFailed, nil)
		}
		return p, payment.ErrMissingReference
	}
	ref := p.ExternalRef.String

	status, err := s.gateway.ChargeStatus(ctx, ref)
	if err == nil && status == payment.ChargePending && !success {
		if cerr := s.gateway.CancelCharge(ctx, ref); cerr != nil {
			s.logger.WarnContext(ctx, "failed to cancel charge", "payment_id", p.ID, "ref", ref, "error", cerr)
		}
		status, err = s.gateway.ChargeStatus(ctx, ref)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "charge status lookup failed", "payment_id", p.ID, "error", err)
		return p, fmt.Errorf("%w: %v", payment.ErrExternalService, err)
	}

	switch status {
	case payment.ChargeSucceeded:
		return s.settle(ctx, p.ID, payment.StatusCompleted, nil)
	case payment.ChargeFailed:
		return s.settle(ctx, p.ID, payment.StatusFailed, nil)
	}
	return p, payment.ErrConfirmationPending
}

// confirmCrypto records the transaction hash and does one bounded receipt
// lookup. Only the receipt decides the outcome: confirmed completes the
// payment and reverted fails it. Without a definitive receipt the payment is
// handed to the watcher and the caller is told to come back later.
func (s *Service) confirmCrypto(ctx context.Context, p payment.Payment, txHash string) (payment.Payment, error) {
	if s.chain == nil {
		return p, payment.ErrUnsupportedMethod
	}
	if txHash == "" {
		txHash = p.ExternalRef.String
	}
	if txHash == "" {
		return p, payment.ErrMissingReference
	}

	attached, err := s.payments.AttachReference(ctx, p.ID, txHash)
	if errors.Is(err, payment.ErrReferenceInUse) {
		s.logger.WarnContext(ctx, "transaction hash reused", "payment_id", p.ID, "tx_hash", txHash)
	}
	if err != nil {
		return p, err
	}
	p = attached
	if p.Status.Terminal() {
		_, err := payment.Resolve(p.Status, payment.StatusCompleted)
		return p, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.ChainCheckTimeout)
	receipt, err := s.chain.TransactionReceipt(checkCtx, txHash)
	cancel()

	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "chain receipt lookup failed", "payment_id", p.ID, "error", err)
		s.watch(p.ID, txHash)
		return p, fmt.Errorf("%w: %v", payment.ErrExternalService, err)
	case receipt.Confirmed:
		return s.settle(ctx, p.ID, payment.StatusCompleted, &txHash)
	case receipt.Reverted:
		return s.settle(ctx, p.ID, payment.StatusFailed, &txHash)
	}

	s.watch(p.ID, txHash)
	return p, payment.ErrConfirmationPending
}

func (s *Service) watch(paymentID uuid.UUID, txHash string) {
	if s.watcher.Watch(paymentID, txHash) {
		s.logger.Info("watching crypto payment", "payment_id", paymentID, "tx_hash", txHash)
	}
}

func (s *Service) settleFromChain(ctx context.Context, paymentID uuid.UUID, txHash string, success bool) error {
	_, err := s.settle(ctx, paymentID, payment.Outcome(success), &txHash)
	return err
}

// ResumeWatches restarts background confirmation for crypto payments left
// pending with a transaction hash, e.g. after a restart.
func (s *Service) ResumeWatches(ctx context.Context) (int, error) {
	if s.watcher == nil {
		return 0, nil
	}
	pending, err := s.payments.ListPending(ctx, payment.MethodCrypto)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		if !p.ExternalRef.Valid {
			continue
		}
		if s.watcher.Watch(p.ID, p.ExternalRef.String) {
			n++
		}
	}
	return n, nil
}

// settle moves a payment out of pending with a compare-and-swap on its
// status. Only the call that wins the swap credits loyalty points, in the
// same transaction, so duplicate or concurrent confirmations credit at most
// once.
func (s *Service) settle(ctx context.Context, paymentID uuid.UUID, target payment.Status, ref *string) (payment.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return payment.Payment{}, err
	}
	defer tx.Rollback()

	now := s.now()
	p, won, err := payment.SettleTx(ctx, tx, paymentID, target, ref, now)
	if err != nil {
		return p, err
	}
	if !won {
		return p, nil
	}

	var points int64
	if p.Status == payment.StatusCompleted {
		res, err := reservation.LockTx(ctx, tx, p.ReservationID)
		if err != nil {
			return payment.Payment{}, err
		}
		points, _, err = loyalty.AccrueTx(ctx, tx, p.UserID, res.ID, res.DistanceKM, now)
		if err != nil {
			return payment.Payment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, err
	}

	s.metrics.paymentsSettled.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	s.metrics.loyaltyPoints.Add(float64(points))
	s.logger.InfoContext(ctx, "payment settled",
		"payment_id", p.ID, "reservation_id", p.ReservationID, "status", p.Status, "points", points)
	pid := p.ID
	s.publish(ctx, events.Event{Type: events.PaymentSettled, ReservationID: p.ReservationID, PaymentID: &pid, Status: string(p.Status)})
	return p, nil
}

// GetPayment returns a payment owned by userID.
func (s *Service) GetPayment(ctx context.Context, userID string, paymentID uuid.UUID) (payment.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.UserID != userID {
		return payment.Payment{}, reservation.ErrNotAuthorized
	}
	return p, nil
}
