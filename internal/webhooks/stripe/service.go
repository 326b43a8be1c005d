package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/internal/ledger"
	"github.com/lumenfund/giving-backend/internal/receipts"
	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	pkgerrors "github.com/lumenfund/giving-backend/pkg/errors"
	"github.com/lumenfund/giving-backend/pkg/logger"
)

type userDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type receiptNotifier interface {
	Send(ctx context.Context, receipt receipts.Receipt)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DonationRepo      donations.Repository
	Ledger            ledger.Service
	Users             userDirectory
	Payments          PaymentClient
	Receipts          receiptNotifier
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service applies Stripe billing events to donations. Deliveries are
// at-least-once and unordered, so every handler is written to converge:
// ledger writes dedupe on the payment intent, status writes are
// last-write-wins, and side effects never block persistence.
type Service struct {
	donationRepo donations.Repository
	ledger       ledger.Service
	users        userDirectory
	payments     PaymentClient
	receipts     receiptNotifier
	txRunner     txRunner
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DonationRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "donation repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user directory required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment client required")
	}
	if params.Receipts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt notifier required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		donationRepo: params.DonationRepo,
		ledger:       params.Ledger,
		users:        params.Users,
		payments:     params.Payments,
		receipts:     params.Receipts,
		txRunner:     params.TransactionRunner,
		logg:         params.Logger,
	}, nil
}

// HandleEvent routes one verified Stripe event. Unrecognized event types
// are acknowledged without work so the endpoint can subscribe broadly.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return s.handleInvoicePaid(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoiceFailed(ctx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
	}

	donationID, ok := donationRefFromMetadata(session.Metadata)
	if !ok {
		s.logg.Info(ctx, "checkout session carries no donation reference, skipping")
		return nil
	}
	ctx = s.logg.WithDonationID(ctx, donationID.String())

	donation, err := s.donationRepo.FindByID(ctx, donationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation")
	}
	if donation == nil {
		s.logg.Warn(ctx, "checkout session references unknown donation, skipping")
		return nil
	}

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return s.completeSubscriptionCheckout(ctx, donation, &session)
	case stripe.CheckoutSessionModePayment:
		return s.completeOneTimeCheckout(ctx, donation, &session)
	default:
		s.logg.Warn(s.logg.WithField(ctx, "mode", string(session.Mode)), "unsupported checkout mode, skipping")
		return nil
	}
}

// completeSubscriptionCheckout links the Stripe customer and subscription
// to the donation and activates it. A fixed end date is pushed to Stripe
// as a cancel_at schedule; that call is best effort and never blocks the
// activation.
func (s *Service) completeSubscriptionCheckout(ctx context.Context, donation *models.Donation, session *stripe.CheckoutSession) error {
	if session.Customer != nil && session.Customer.ID != "" {
		customerID := session.Customer.ID
		donation.StripeCustomerID = &customerID
	}
	if session.Subscription != nil && session.Subscription.ID != "" {
		subscriptionID := session.Subscription.ID
		donation.StripeSubscriptionID = &subscriptionID
	}
	donation.Status = enums.DonationStatusActive

	if donation.EndDate != nil && donation.StripeSubscriptionID != nil {
		params := &stripe.SubscriptionParams{CancelAt: stripe.Int64(donation.EndDate.Unix())}
		if _, err := s.payments.UpdateSubscription(ctx, *donation.StripeSubscriptionID, params); err != nil {
			s.logg.Error(ctx, "schedule subscription end date", err)
		}
	}

	if err := s.donationRepo.Save(ctx, donation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist donation")
	}
	return nil
}

// completeOneTimeCheckout settles a single gift: one ledger row keyed on
// the payment intent, the donation closed out as completed, and a receipt
// queued when the row was freshly booked.
func (s *Service) completeOneTimeCheckout(ctx context.Context, donation *models.Donation, session *stripe.CheckoutSession) error {
	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}
	if paymentIntentID == "" {
		s.logg.Warn(ctx, "checkout session carries no payment intent, skipping")
		return nil
	}

	brand, last4 := s.cardSummaryFromPaymentIntent(ctx, paymentIntentID)
	amount := session.AmountTotal
	if amount <= 0 {
		amount = donation.AmountCents
	}
	currency := string(session.Currency)
	if currency == "" {
		currency = donation.Currency
	}

	firstGift := donation.LastGiftDate == nil
	now := time.Now().UTC()

	recorded := false
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		_, ok, err := s.ledger.WithTx(tx).Record(ctx, ledger.RecordTransactionInput{
			DonationID:            donation.ID,
			UserID:                donation.UserID,
			AmountCents:           amount,
			Currency:              currency,
			Kind:                  donation.Kind,
			Status:                enums.TransactionStatusCompleted,
			StripePaymentIntentID: paymentIntentID,
			CardBrand:             optionalString(brand),
			CardLast4:             optionalString(last4),
			OccurredAt:            now,
		})
		if err != nil {
			return err
		}
		recorded = ok

		donation.Status = enums.DonationStatusCompleted
		donation.LastGiftDate = &now
		return s.donationRepo.WithTx(tx).Save(ctx, donation)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist one-time gift")
	}
	if !recorded {
		s.logg.Info(ctx, "payment intent already booked, skipping receipt")
		return nil
	}

	s.sendReceipt(ctx, donation, receiptDetails{
		amountCents:   amount,
		currency:      currency,
		cardBrand:     brand,
		cardLast4:     last4,
		firstGift:     firstGift,
		occurredAt:    now,
		fallbackEmail: checkoutEmail(session),
	})
	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		s.logg.Info(ctx, "invoice carries no subscription reference, skipping")
		return nil
	}

	donation, err := s.donationRepo.FindByStripeSubscriptionID(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation by subscription")
	}
	if donation == nil {
		s.logg.Info(ctx, "invoice subscription matches no donation, skipping")
		return nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())

	paymentIntentID := event.GetObjectValue("payment_intent")
	if paymentIntentID == "" {
		s.logg.Info(ctx, "invoice carries no payment intent, skipping")
		return nil
	}

	booked, err := s.ledger.Has(ctx, paymentIntentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ledger for payment intent")
	}
	if booked {
		s.logg.Info(ctx, "payment intent already booked, skipping replay")
		return nil
	}

	var fields invoiceFields
	if err := json.Unmarshal(event.Data.Raw, &fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}

	brand, last4 := "", ""
	if chargeID := event.GetObjectValue("charge"); chargeID != "" {
		brand, last4 = s.cardSummaryFromCharge(ctx, chargeID)
	}

	amount := fields.AmountPaid
	if amount <= 0 {
		amount = donation.AmountCents
	}
	currency := fields.Currency
	if currency == "" {
		currency = donation.Currency
	}

	firstGift := donation.LastGiftDate == nil
	now := time.Now().UTC()

	recorded := false
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		_, ok, err := s.ledger.WithTx(tx).Record(ctx, ledger.RecordTransactionInput{
			DonationID:            donation.ID,
			UserID:                donation.UserID,
			AmountCents:           amount,
			Currency:              currency,
			Kind:                  donation.Kind,
			Status:                enums.TransactionStatusCompleted,
			StripePaymentIntentID: paymentIntentID,
			CardBrand:             optionalString(brand),
			CardLast4:             optionalString(last4),
			OccurredAt:            now,
		})
		if err != nil {
			return err
		}
		recorded = ok

		donation.LastGiftDate = &now
		return s.donationRepo.WithTx(tx).Save(ctx, donation)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist recurring gift")
	}
	if !recorded {
		s.logg.Info(ctx, "payment intent already booked, skipping receipt")
		return nil
	}

	s.sendReceipt(ctx, donation, receiptDetails{
		amountCents: amount,
		currency:    currency,
		cardBrand:   brand,
		cardLast4:   last4,
		firstGift:   firstGift,
		occurredAt:  now,
	})
	return nil
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		s.logg.Info(ctx, "invoice carries no subscription reference, skipping")
		return nil
	}

	donation, err := s.donationRepo.FindByStripeSubscriptionID(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation by subscription")
	}
	if donation == nil {
		s.logg.Info(ctx, "invoice subscription matches no donation, skipping")
		return nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())

	var fields invoiceFields
	if err := json.Unmarshal(event.Data.Raw, &fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}

	donation.Status = enums.DonationStatusFailed
	paymentIntentID := event.GetObjectValue("payment_intent")
	now := time.Now().UTC()

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if paymentIntentID != "" {
			amount := fields.AmountDue
			if amount <= 0 {
				amount = donation.AmountCents
			}
			currency := fields.Currency
			if currency == "" {
				currency = donation.Currency
			}
			reason := failureReason(fields.LastPaymentError)
			if _, _, err := s.ledger.WithTx(tx).Record(ctx, ledger.RecordTransactionInput{
				DonationID:            donation.ID,
				UserID:                donation.UserID,
				AmountCents:           amount,
				Currency:              currency,
				Kind:                  donation.Kind,
				Status:                enums.TransactionStatusFailed,
				StripePaymentIntentID: paymentIntentID,
				FailureReason:         &reason,
				OccurredAt:            now,
			}); err != nil {
				return err
			}
		}
		return s.donationRepo.WithTx(tx).Save(ctx, donation)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist failed payment")
	}
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}

	donation, err := s.donationRepo.FindByStripeSubscriptionID(ctx, sub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation by subscription")
	}
	if donation == nil {
		s.logg.Info(ctx, "subscription matches no donation, skipping")
		return nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())

	if sub.PauseCollection != nil {
		donation.Status = enums.DonationStatusOnHold
	} else {
		donation.Status = enums.DonationStatusActive
	}
	if end := periodEnd(event.Data.Raw, &sub); end > 0 {
		next := time.Unix(end, 0).UTC()
		donation.NextPaymentDate = &next
	}

	if err := s.donationRepo.Save(ctx, donation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist donation")
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}

	donation, err := s.donationRepo.FindByStripeSubscriptionID(ctx, sub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation by subscription")
	}
	if donation == nil {
		s.logg.Info(ctx, "subscription matches no donation, skipping")
		return nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())

	donation.Status = enums.DonationStatusCancelled
	if err := s.donationRepo.Save(ctx, donation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist donation")
	}
	return nil
}

type receiptDetails struct {
	amountCents   int64
	currency      string
	cardBrand     string
	cardLast4     string
	firstGift     bool
	occurredAt    time.Time
	fallbackEmail string
}

func (s *Service) sendReceipt(ctx context.Context, donation *models.Donation, details receiptDetails) {
	email, name := s.resolveReceiptContact(ctx, donation, details.fallbackEmail)
	if email == "" {
		s.logg.Warn(ctx, "no donor email resolved, skipping receipt")
		return
	}
	s.receipts.Send(ctx, receipts.Receipt{
		DonationID:  donation.ID,
		UserID:      donation.UserID,
		Email:       email,
		DonorName:   name,
		AmountCents: details.amountCents,
		Amount:      receipts.FormatAmount(details.amountCents),
		Currency:    details.currency,
		Kind:        donation.Kind,
		Frequency:   donation.Frequency,
		CardBrand:   details.cardBrand,
		CardLast4:   details.cardLast4,
		FirstGift:   details.firstGift,
		OccurredAt:  details.occurredAt,
	})
}

// resolveReceiptContact prefers the donor record, then whatever email the
// event itself carried, then the Stripe customer. Lookup failures are
// logged and treated as a miss.
func (s *Service) resolveReceiptContact(ctx context.Context, donation *models.Donation, fallbackEmail string) (string, string) {
	user, err := s.users.FindByID(ctx, donation.UserID)
	if err != nil {
		s.logg.Error(ctx, "load donor for receipt", err)
	}
	if user != nil && user.Email != "" {
		return user.Email, user.FullName()
	}
	if fallbackEmail != "" {
		return fallbackEmail, ""
	}
	if donation.StripeCustomerID != nil {
		customer, err := s.payments.GetCustomer(ctx, *donation.StripeCustomerID)
		if err != nil {
			s.logg.Error(ctx, "fetch stripe customer for receipt", err)
		} else if customer != nil && customer.Email != "" {
			return customer.Email, customer.Name
		}
	}
	return "", ""
}

func (s *Service) cardSummaryFromPaymentIntent(ctx context.Context, paymentIntentID string) (string, string) {
	intent, err := s.payments.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		s.logg.Error(ctx, "fetch payment intent for card summary", err)
		return "", ""
	}
	if intent == nil {
		return "", ""
	}
	return cardFromCharge(intent.LatestCharge)
}

func (s *Service) cardSummaryFromCharge(ctx context.Context, chargeID string) (string, string) {
	charge, err := s.payments.GetCharge(ctx, chargeID)
	if err != nil {
		s.logg.Error(ctx, "fetch charge for card summary", err)
		return "", ""
	}
	return cardFromCharge(charge)
}

func cardFromCharge(charge *stripe.Charge) (string, string) {
	if charge == nil || charge.PaymentMethodDetails == nil || charge.PaymentMethodDetails.Card == nil {
		return "", ""
	}
	card := charge.PaymentMethodDetails.Card
	return string(card.Brand), card.Last4
}

// invoiceFields is the slice of the raw invoice payload the handlers
// read with typed decoding. References like subscription and
// payment_intent stay on GetObjectValue, which tolerates both string
// and null values across API versions.
type invoiceFields struct {
	AmountPaid       int64                `json:"amount_paid"`
	AmountDue        int64                `json:"amount_due"`
	Currency         string               `json:"currency"`
	LastPaymentError *invoicePaymentError `json:"last_payment_error"`
}

type invoicePaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func failureReason(lastError *invoicePaymentError) string {
	if lastError == nil || (lastError.Code == "" && lastError.Message == "") {
		return "Payment failed"
	}
	if lastError.Code == "" {
		return lastError.Message
	}
	if lastError.Message == "" {
		return lastError.Code
	}
	return lastError.Code + ": " + lastError.Message
}

// periodEnd pulls the renewal timestamp from the payload. Older API
// versions carry current_period_end on the subscription itself; newer
// ones moved it onto each item.
func periodEnd(raw json.RawMessage, sub *stripe.Subscription) int64 {
	var fields struct {
		CurrentPeriodEnd int64 `json:"current_period_end"`
	}
	if err := json.Unmarshal(raw, &fields); err == nil && fields.CurrentPeriodEnd > 0 {
		return fields.CurrentPeriodEnd
	}
	if sub != nil && sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		return sub.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

// donationRefFromMetadata reads the identifiers stamped onto the checkout
// session at creation. Sessions without both references belong to some
// other product surface and are ignored.
func donationRefFromMetadata(metadata map[string]string) (uuid.UUID, bool) {
	donationID, err := uuid.Parse(metadata["donationId"])
	if err != nil {
		return uuid.Nil, false
	}
	if _, err := uuid.Parse(metadata["userId"]); err != nil {
		return uuid.Nil, false
	}
	return donationID, true
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
