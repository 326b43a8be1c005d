package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/internal/ledger"
	"github.com/lumenfund/giving-backend/internal/receipts"
	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	"github.com/lumenfund/giving-backend/pkg/logger"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

type serviceFixture struct {
	repo     *stubDonationRepo
	ledger   *stubLedger
	users    *stubUserDirectory
	payments *stubPaymentClient
	receipts *stubReceiptNotifier
	service  *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:     &stubDonationRepo{byID: map[uuid.UUID]*models.Donation{}, bySub: map[string]*models.Donation{}},
		ledger:   &stubLedger{has: map[string]bool{}},
		users:    &stubUserDirectory{},
		payments: &stubPaymentClient{},
		receipts: &stubReceiptNotifier{},
	}
	service, err := NewService(ServiceParams{
		DonationRepo:      f.repo,
		Ledger:            f.ledger,
		Users:             f.users,
		Payments:          f.payments,
		Receipts:          f.receipts,
		TransactionRunner: &stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	f.service = service
	return f
}

func checkoutEvent(t *testing.T, session *stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_checkout",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func rawEvent(t *testing.T, eventType stripe.EventType, object map[string]interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_raw",
		Type: eventType,
		Data: &stripe.EventData{Raw: raw, Object: object},
	}
}

func visaCharge() *stripe.Charge {
	return &stripe.Charge{
		PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
			Card: &stripe.ChargePaymentMethodDetailsCard{Brand: "visa", Last4: "4242"},
		},
	}
}

func TestService_CheckoutCompletedOneTimeGift(t *testing.T) {
	f := newServiceFixture(t)
	donationID := uuid.New()
	userID := uuid.New()
	donation := &models.Donation{
		ID:          donationID,
		UserID:      userID,
		AmountCents: 2500,
		Currency:    "usd",
		Kind:        enums.DonationKindOneTime,
		Status:      enums.DonationStatusPending,
	}
	f.repo.byID[donationID] = donation
	f.users.user = &models.User{ID: userID, Email: "dana@example.org", FirstName: "Dana", LastName: "Reyes"}
	f.payments.intent = &stripe.PaymentIntent{LatestCharge: visaCharge()}

	event := checkoutEvent(t, &stripe.CheckoutSession{
		ID:            "cs_1",
		Mode:          stripe.CheckoutSessionModePayment,
		Metadata:      map[string]string{"donationId": donationID.String(), "userId": userID.String()},
		AmountTotal:   2500,
		Currency:      stripe.CurrencyUSD,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(f.ledger.recorded) != 1 {
		t.Fatalf("expected one ledger write, got %d", len(f.ledger.recorded))
	}
	txn := f.ledger.recorded[0]
	if txn.StripePaymentIntentID != "pi_1" || txn.AmountCents != 2500 || txn.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected ledger input: %+v", txn)
	}
	if txn.CardBrand == nil || *txn.CardBrand != "visa" || txn.CardLast4 == nil || *txn.CardLast4 != "4242" {
		t.Fatalf("expected card summary on ledger input: %+v", txn)
	}
	if donation.Status != enums.DonationStatusCompleted {
		t.Fatalf("expected donation completed, got %s", donation.Status)
	}
	if donation.LastGiftDate == nil {
		t.Fatal("expected last gift date to be set")
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted exactly once, got %d", len(f.repo.saved))
	}
	if len(f.receipts.sent) != 1 {
		t.Fatalf("expected one receipt, got %d", len(f.receipts.sent))
	}
	receipt := f.receipts.sent[0]
	if receipt.Email != "dana@example.org" || !receipt.FirstGift || receipt.Amount != "25.00" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestService_CheckoutCompletedSubscription(t *testing.T) {
	f := newServiceFixture(t)
	donationID := uuid.New()
	endDate := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	donation := &models.Donation{
		ID:          donationID,
		UserID:      uuid.New(),
		AmountCents: 1000,
		Currency:    "usd",
		Kind:        enums.DonationKindRecurring,
		Status:      enums.DonationStatusPending,
		EndDate:     &endDate,
	}
	f.repo.byID[donationID] = donation

	event := checkoutEvent(t, &stripe.CheckoutSession{
		ID:           "cs_2",
		Mode:         stripe.CheckoutSessionModeSubscription,
		Metadata:     map[string]string{"donationId": donationID.String(), "userId": donation.UserID.String()},
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if donation.StripeCustomerID == nil || *donation.StripeCustomerID != "cus_1" {
		t.Fatalf("expected customer linked, got %+v", donation.StripeCustomerID)
	}
	if donation.StripeSubscriptionID == nil || *donation.StripeSubscriptionID != "sub_1" {
		t.Fatalf("expected subscription linked, got %+v", donation.StripeSubscriptionID)
	}
	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("expected donation active, got %s", donation.Status)
	}
	if len(f.payments.updates) != 1 || f.payments.updates[0] != "sub_1" {
		t.Fatalf("expected cancel_at scheduled on sub_1, got %v", f.payments.updates)
	}
	if params := f.payments.updateParams[0]; params.CancelAt == nil || *params.CancelAt != endDate.Unix() {
		t.Fatalf("unexpected cancel_at params: %+v", params)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted exactly once, got %d", len(f.repo.saved))
	}
	if len(f.ledger.recorded) != 0 {
		t.Fatal("subscription checkout should not write the ledger")
	}
	if len(f.receipts.sent) != 0 {
		t.Fatal("subscription checkout should not send a receipt")
	}
}

func TestService_CheckoutCompletedSubscriptionOpenEnded(t *testing.T) {
	f := newServiceFixture(t)
	donationID := uuid.New()
	donation := &models.Donation{
		ID:          donationID,
		UserID:      uuid.New(),
		AmountCents: 1000,
		Currency:    "usd",
		Kind:        enums.DonationKindRecurring,
		Status:      enums.DonationStatusPending,
	}
	f.repo.byID[donationID] = donation

	event := checkoutEvent(t, &stripe.CheckoutSession{
		ID:           "cs_open",
		Mode:         stripe.CheckoutSessionModeSubscription,
		Metadata:     map[string]string{"donationId": donationID.String(), "userId": donation.UserID.String()},
		Customer:     &stripe.Customer{ID: "cus_open"},
		Subscription: &stripe.Subscription{ID: "sub_open"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("expected donation active, got %s", donation.Status)
	}
	// An open-ended subscription never gets a cancel_at schedule.
	if len(f.payments.updates) != 0 {
		t.Fatalf("expected no subscription updates, got %v", f.payments.updates)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted exactly once, got %d", len(f.repo.saved))
	}
}

func TestService_CheckoutCompletedScheduleFailureStillActivates(t *testing.T) {
	f := newServiceFixture(t)
	donationID := uuid.New()
	endDate := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	donation := &models.Donation{
		ID:      donationID,
		UserID:  uuid.New(),
		Kind:    enums.DonationKindRecurring,
		Status:  enums.DonationStatusPending,
		EndDate: &endDate,
	}
	f.repo.byID[donationID] = donation
	f.payments.updateErr = errors.New("stripe down")

	event := checkoutEvent(t, &stripe.CheckoutSession{
		Mode:         stripe.CheckoutSessionModeSubscription,
		Metadata:     map[string]string{"donationId": donationID.String(), "userId": donation.UserID.String()},
		Subscription: &stripe.Subscription{ID: "sub_sched"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("schedule failure must not fail the handler: %v", err)
	}
	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("expected donation active, got %s", donation.Status)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted, got %d saves", len(f.repo.saved))
	}
}

func TestService_CheckoutCompletedMissingMetadata(t *testing.T) {
	f := newServiceFixture(t)

	event := checkoutEvent(t, &stripe.CheckoutSession{
		Mode:          stripe.CheckoutSessionModePayment,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_foreign"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("foreign session should be acknowledged: %v", err)
	}
	if f.repo.finds != 0 {
		t.Fatal("missing metadata should short-circuit before any lookup")
	}
	if len(f.repo.saved) != 0 || len(f.ledger.recorded) != 0 {
		t.Fatal("foreign session should not touch storage")
	}
}

func TestService_CheckoutCompletedUnknownDonation(t *testing.T) {
	f := newServiceFixture(t)

	event := checkoutEvent(t, &stripe.CheckoutSession{
		Mode:     stripe.CheckoutSessionModePayment,
		Metadata: map[string]string{"donationId": uuid.New().String(), "userId": uuid.New().String()},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown donation should be acknowledged: %v", err)
	}
	if len(f.repo.saved) != 0 {
		t.Fatal("unknown donation should not be persisted")
	}
}

func TestService_CheckoutCompletedCardLookupFailure(t *testing.T) {
	f := newServiceFixture(t)
	donationID := uuid.New()
	donation := &models.Donation{
		ID:          donationID,
		UserID:      uuid.New(),
		AmountCents: 2000,
		Currency:    "usd",
		Kind:        enums.DonationKindOneTime,
		Status:      enums.DonationStatusPending,
	}
	f.repo.byID[donationID] = donation
	f.users.user = &models.User{ID: donation.UserID, Email: "sam@example.org"}
	f.payments.intentErr = errors.New("stripe timeout")

	event := checkoutEvent(t, &stripe.CheckoutSession{
		Mode:          stripe.CheckoutSessionModePayment,
		Metadata:      map[string]string{"donationId": donationID.String(), "userId": donation.UserID.String()},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_nocard"},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("card lookup failure must not fail the handler: %v", err)
	}
	if len(f.ledger.recorded) != 1 {
		t.Fatalf("expected ledger write despite card failure, got %d", len(f.ledger.recorded))
	}
	if f.ledger.recorded[0].CardBrand != nil {
		t.Fatal("expected empty card summary")
	}
	if donation.Status != enums.DonationStatusCompleted {
		t.Fatalf("expected donation completed, got %s", donation.Status)
	}
	if len(f.receipts.sent) != 1 {
		t.Fatalf("expected receipt without card summary, got %d", len(f.receipts.sent))
	}
}

func TestService_InvoicePaidRecordsRecurringGift(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	monthly := enums.DonationFrequencyMonthly
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		AmountCents:          1500,
		Currency:             "usd",
		Kind:                 enums.DonationKindRecurring,
		Frequency:            &monthly,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation
	f.users.user = &models.User{ID: donation.UserID, Email: "dana@example.org", FirstName: "Dana"}
	f.payments.charge = visaCharge()

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_9",
		"charge":         "ch_9",
		"amount_paid":    1500,
		"currency":       "usd",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(f.ledger.recorded) != 1 {
		t.Fatalf("expected one ledger write, got %d", len(f.ledger.recorded))
	}
	txn := f.ledger.recorded[0]
	if txn.StripePaymentIntentID != "pi_9" || txn.AmountCents != 1500 || txn.Status != enums.TransactionStatusCompleted {
		t.Fatalf("unexpected ledger input: %+v", txn)
	}
	if txn.CardBrand == nil || *txn.CardBrand != "visa" {
		t.Fatalf("expected card summary from charge, got %+v", txn.CardBrand)
	}
	if donation.LastGiftDate == nil {
		t.Fatal("expected last gift date to be set")
	}
	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("successful invoice must not change status, got %s", donation.Status)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted exactly once, got %d", len(f.repo.saved))
	}
	if len(f.receipts.sent) != 1 || !f.receipts.sent[0].FirstGift {
		t.Fatalf("expected first-gift receipt, got %+v", f.receipts.sent)
	}
}

func TestService_InvoicePaidReplaySkipped(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{ID: uuid.New(), UserID: uuid.New(), Kind: enums.DonationKindRecurring, StripeSubscriptionID: &subID}
	f.repo.bySub[subID] = donation
	f.ledger.has["pi_replayed"] = true

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_replayed",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("replay should be acknowledged: %v", err)
	}
	if len(f.ledger.recorded) != 0 || len(f.repo.saved) != 0 || len(f.receipts.sent) != 0 {
		t.Fatal("replayed payment intent should cause no writes")
	}
}

func TestService_InvoicePaidRepeatGift(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	prior := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		AmountCents:          1500,
		Currency:             "usd",
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
		LastGiftDate:         &prior,
	}
	f.repo.bySub[subID] = donation
	f.users.user = &models.User{ID: donation.UserID, Email: "dana@example.org"}

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_next",
		"amount_paid":    1500,
		"currency":       "usd",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(f.receipts.sent) != 1 || f.receipts.sent[0].FirstGift {
		t.Fatalf("expected repeat-gift receipt, got %+v", f.receipts.sent)
	}
	if donation.LastGiftDate == nil || !donation.LastGiftDate.After(prior) {
		t.Fatal("expected last gift date to advance")
	}
}

func TestService_InvoicePaidNoSubscriptionRef(t *testing.T) {
	f := newServiceFixture(t)

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"payment_intent": "pi_orphan",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("invoice without subscription should be acknowledged: %v", err)
	}
	if f.repo.subFinds != 0 || len(f.repo.saved) != 0 {
		t.Fatal("invoice without subscription should cause no lookups or writes")
	}
}

func TestService_InvoicePaidUnknownSubscription(t *testing.T) {
	f := newServiceFixture(t)

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   "sub_unknown",
		"payment_intent": "pi_x",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown subscription should be acknowledged: %v", err)
	}
	if len(f.repo.saved) != 0 || len(f.ledger.recorded) != 0 {
		t.Fatal("unknown subscription should cause no writes")
	}
}

func TestService_InvoicePaidEmailFallsBackToStripeCustomer(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	customerID := "cus_7"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		AmountCents:          1500,
		Currency:             "usd",
		Kind:                 enums.DonationKindRecurring,
		StripeSubscriptionID: &subID,
		StripeCustomerID:     &customerID,
	}
	f.repo.bySub[subID] = donation
	f.payments.customer = &stripe.Customer{ID: customerID, Email: "fallback@example.org", Name: "Pat Jones"}

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_fb",
		"amount_paid":    1500,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(f.receipts.sent) != 1 {
		t.Fatalf("expected receipt via customer fallback, got %d", len(f.receipts.sent))
	}
	if f.receipts.sent[0].Email != "fallback@example.org" || f.receipts.sent[0].DonorName != "Pat Jones" {
		t.Fatalf("unexpected receipt contact: %+v", f.receipts.sent[0])
	}
}

func TestService_InvoicePaidNoEmailSkipsReceipt(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		AmountCents:          1500,
		Currency:             "usd",
		Kind:                 enums.DonationKindRecurring,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeInvoicePaymentSucceeded, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_noemail",
		"amount_paid":    1500,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(f.ledger.recorded) != 1 || len(f.repo.saved) != 1 {
		t.Fatal("gift must be booked even when no receipt email resolves")
	}
	if len(f.receipts.sent) != 0 {
		t.Fatal("expected receipt to be skipped without an email")
	}
}

func TestService_InvoiceFailedRecordsAttempt(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		AmountCents:          1500,
		Currency:             "usd",
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeInvoicePaymentFailed, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_fail",
		"amount_due":     1500,
		"currency":       "usd",
		"last_payment_error": map[string]interface{}{
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if donation.Status != enums.DonationStatusFailed {
		t.Fatalf("expected donation failed, got %s", donation.Status)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted, got %d saves", len(f.repo.saved))
	}
	if len(f.ledger.recorded) != 1 {
		t.Fatalf("expected failed attempt in ledger, got %d", len(f.ledger.recorded))
	}
	txn := f.ledger.recorded[0]
	if txn.Status != enums.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %s", txn.Status)
	}
	if txn.FailureReason == nil || *txn.FailureReason != "card_declined: Your card was declined." {
		t.Fatalf("unexpected failure reason: %+v", txn.FailureReason)
	}
	if len(f.receipts.sent) != 0 {
		t.Fatal("failed payments should not send receipts")
	}
}

func TestService_InvoiceFailedDefaultReason(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{ID: uuid.New(), UserID: uuid.New(), AmountCents: 1500, Kind: enums.DonationKindRecurring, StripeSubscriptionID: &subID}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeInvoicePaymentFailed, map[string]interface{}{
		"subscription":   subID,
		"payment_intent": "pi_noreason",
		"amount_due":     1500,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(f.ledger.recorded) != 1 {
		t.Fatalf("expected ledger write, got %d", len(f.ledger.recorded))
	}
	if reason := f.ledger.recorded[0].FailureReason; reason == nil || *reason != "Payment failed" {
		t.Fatalf("expected default failure reason, got %+v", reason)
	}
}

func TestService_InvoiceFailedWithoutPaymentIntent(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeInvoicePaymentFailed, map[string]interface{}{
		"subscription": subID,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if donation.Status != enums.DonationStatusFailed {
		t.Fatalf("expected donation failed, got %s", donation.Status)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("status change must persist without a payment intent, got %d saves", len(f.repo.saved))
	}
	if len(f.ledger.recorded) != 0 {
		t.Fatal("no ledger row without a payment intent")
	}
}

func TestService_SubscriptionUpdatedPausesDonation(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	periodEnd := int64(1767225600)
	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, map[string]interface{}{
		"id":                 subID,
		"pause_collection":   map[string]interface{}{"behavior": "mark_uncollectible"},
		"current_period_end": periodEnd,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if donation.Status != enums.DonationStatusOnHold {
		t.Fatalf("expected donation on hold, got %s", donation.Status)
	}
	if donation.NextPaymentDate == nil || !donation.NextPaymentDate.Equal(time.Unix(periodEnd, 0).UTC()) {
		t.Fatalf("unexpected next payment date: %+v", donation.NextPaymentDate)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted, got %d saves", len(f.repo.saved))
	}
}

func TestService_SubscriptionUpdatedResumesDonation(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusOnHold,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	periodEnd := int64(1769904000)
	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, map[string]interface{}{
		"id":               subID,
		"pause_collection": nil,
		"items": map[string]interface{}{
			"data": []interface{}{map[string]interface{}{"current_period_end": periodEnd}},
		},
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("expected donation active, got %s", donation.Status)
	}
	if donation.NextPaymentDate == nil || !donation.NextPaymentDate.Equal(time.Unix(periodEnd, 0).UTC()) {
		t.Fatalf("expected next payment date from item period, got %+v", donation.NextPaymentDate)
	}
}

func TestService_SubscriptionUpdatedRevivesFailedDonation(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusFailed,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, map[string]interface{}{
		"id": subID,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if donation.Status != enums.DonationStatusActive {
		t.Fatalf("recovered subscription should reactivate the donation, got %s", donation.Status)
	}
}

func TestService_SubscriptionUpdatedUnknownSubscription(t *testing.T) {
	f := newServiceFixture(t)

	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, map[string]interface{}{
		"id": "sub_elsewhere",
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown subscription should be acknowledged: %v", err)
	}
	if len(f.repo.saved) != 0 {
		t.Fatal("unknown subscription should cause no writes")
	}
}

func TestService_SubscriptionDeletedCancelsDonation(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Kind:                 enums.DonationKindRecurring,
		Status:               enums.DonationStatusActive,
		StripeSubscriptionID: &subID,
	}
	f.repo.bySub[subID] = donation

	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, map[string]interface{}{
		"id": subID,
	})

	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if donation.Status != enums.DonationStatusCancelled {
		t.Fatalf("expected donation cancelled, got %s", donation.Status)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected donation persisted, got %d saves", len(f.repo.saved))
	}
}

func TestService_SaveFailurePropagates(t *testing.T) {
	f := newServiceFixture(t)
	subID := "sub_9"
	donation := &models.Donation{ID: uuid.New(), UserID: uuid.New(), Kind: enums.DonationKindRecurring, StripeSubscriptionID: &subID}
	f.repo.bySub[subID] = donation
	f.repo.saveErr = errors.New("db down")

	event := rawEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, map[string]interface{}{
		"id": subID,
	})

	if err := f.service.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("persistence failure must surface so the delivery is retried")
	}
}

func TestService_UnhandledEventIgnored(t *testing.T) {
	f := newServiceFixture(t)

	event := &stripe.Event{
		Type: stripe.EventType("customer.created"),
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	if err := f.service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unhandled event types should be acknowledged: %v", err)
	}
	if f.repo.finds != 0 || f.repo.subFinds != 0 {
		t.Fatal("unhandled event types should cause no lookups")
	}
}

type stubDonationRepo struct {
	byID     map[uuid.UUID]*models.Donation
	bySub    map[string]*models.Donation
	saved    []*models.Donation
	finds    int
	subFinds int
	findErr  error
	saveErr  error
}

func (s *stubDonationRepo) WithTx(tx *gorm.DB) donations.Repository { return s }

func (s *stubDonationRepo) Create(ctx context.Context, donation *models.Donation) error { return nil }

func (s *stubDonationRepo) Save(ctx context.Context, donation *models.Donation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, donation)
	return nil
}

func (s *stubDonationRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.byID[id], nil
}

func (s *stubDonationRepo) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Donation, error) {
	s.subFinds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.bySub[subscriptionID], nil
}

func (s *stubDonationRepo) List(ctx context.Context, params donations.ListDonationsQuery) ([]models.Donation, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubDonationRepo) ListRecurringForReconcile(ctx context.Context, params donations.ReconcileQuery) ([]models.Donation, error) {
	return nil, nil
}

type stubLedger struct {
	recorded  []ledger.RecordTransactionInput
	has       map[string]bool
	recordErr error
	hasErr    error
}

func (s *stubLedger) WithTx(tx *gorm.DB) ledger.Service { return s }

func (s *stubLedger) Record(ctx context.Context, input ledger.RecordTransactionInput) (*models.Transaction, bool, error) {
	if s.recordErr != nil {
		return nil, false, s.recordErr
	}
	if s.has[input.StripePaymentIntentID] {
		return &models.Transaction{}, false, nil
	}
	s.recorded = append(s.recorded, input)
	return &models.Transaction{StripePaymentIntentID: input.StripePaymentIntentID}, true, nil
}

func (s *stubLedger) Has(ctx context.Context, paymentIntentID string) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	return s.has[paymentIntentID], nil
}

func (s *stubLedger) ListByDonation(ctx context.Context, params ledger.ListParams) (*ledger.ListResult, error) {
	return nil, nil
}

type stubUserDirectory struct {
	user *models.User
	err  error
}

func (s *stubUserDirectory) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

type stubPaymentClient struct {
	charge       *stripe.Charge
	chargeErr    error
	intent       *stripe.PaymentIntent
	intentErr    error
	customer     *stripe.Customer
	customerErr  error
	updates      []string
	updateParams []*stripe.SubscriptionParams
	updateErr    error
}

func (s *stubPaymentClient) GetCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	return s.charge, s.chargeErr
}

func (s *stubPaymentClient) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return s.intent, s.intentErr
}

func (s *stubPaymentClient) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubPaymentClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, nil
}

func (s *stubPaymentClient) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	s.updates = append(s.updates, id)
	s.updateParams = append(s.updateParams, params)
	return &stripe.Subscription{ID: id}, nil
}

type stubReceiptNotifier struct {
	sent []receipts.Receipt
}

func (s *stubReceiptNotifier) Send(ctx context.Context, receipt receipts.Receipt) {
	s.sent = append(s.sent, receipt)
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
