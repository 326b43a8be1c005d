package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumenfund/giving-backend/api/responses"
	"github.com/lumenfund/giving-backend/api/validators"
	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/internal/ledger"
	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	pkgerrors "github.com/lumenfund/giving-backend/pkg/errors"
	"github.com/lumenfund/giving-backend/pkg/logger"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

type donationCreateRequest struct {
	UserID      string     `json:"user_id" validate:"required"`
	AmountCents int64      `json:"amount_cents" validate:"required,min=100"`
	Currency    string     `json:"currency"`
	Kind        string     `json:"kind" validate:"required"`
	Frequency   *string    `json:"frequency"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

func (r donationCreateRequest) toInput() (donations.CreateDonationInput, error) {
	userID, err := uuid.Parse(strings.TrimSpace(r.UserID))
	if err != nil {
		return donations.CreateDonationInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id")
	}

	kind, err := enums.ParseDonationKind(strings.TrimSpace(r.Kind))
	if err != nil {
		return donations.CreateDonationInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid donation kind")
	}

	var frequency *enums.DonationFrequency
	if r.Frequency != nil {
		parsed, err := enums.ParseDonationFrequency(strings.TrimSpace(*r.Frequency))
		if err != nil {
			return donations.CreateDonationInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid donation frequency")
		}
		frequency = &parsed
	}

	return donations.CreateDonationInput{
		UserID:      userID,
		AmountCents: r.AmountCents,
		Currency:    strings.TrimSpace(r.Currency),
		Kind:        kind,
		Frequency:   frequency,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
	}, nil
}

// DonationCreate opens a new gift: a pending donation row plus the Stripe
// Checkout URL the donor completes it on.
func DonationCreate(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		var payload donationCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, donationCreateResponse{
			Donation:    donationResponseFromModel(created.Donation),
			CheckoutURL: created.CheckoutURL,
		})
	}
}

// DonationDetail returns one donation by ID.
func DonationDetail(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		donationID, err := parseDonationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		donation, err := svc.Get(r.Context(), donationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, donationResponseFromModel(donation))
	}
}

// DonationList returns a cursor page of donations, optionally filtered by
// donor and status.
func DonationList(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := donations.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
				return
			}
			params.UserID = &userID
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseDonationStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid donation status"))
				return
			}
			params.Status = &status
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]donationResponse, 0, len(list.Items))
		for i := range list.Items {
			items = append(items, donationResponseFromModel(&list.Items[i]))
		}
		responses.WriteSuccess(w, donationListResponse{Items: items, Cursor: list.Cursor})
	}
}

// DonationTransactions returns the ledger history for one donation.
func DonationTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		donationID, err := parseDonationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByDonation(r.Context(), ledger.ListParams{
			DonationID: donationID,
			Limit:      limit,
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]transactionResponse, 0, len(list.Items))
		for i := range list.Items {
			items = append(items, transactionResponseFromModel(&list.Items[i]))
		}
		responses.WriteSuccess(w, transactionListResponse{Items: items, Cursor: list.Cursor})
	}
}

func parseDonationID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "donationId"))
	donationID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid donation id")
	}
	return donationID, nil
}

type donationResponse struct {
	ID                      uuid.UUID                `json:"id"`
	UserID                  uuid.UUID                `json:"user_id"`
	AmountCents             int64                    `json:"amount_cents"`
	Currency                string                   `json:"currency"`
	Kind                    enums.DonationKind       `json:"kind"`
	Frequency               *enums.DonationFrequency `json:"frequency,omitempty"`
	Status                  enums.DonationStatus     `json:"status"`
	StripeCustomerID        *string                  `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID    *string                  `json:"stripe_subscription_id,omitempty"`
	StripeCheckoutSessionID *string                  `json:"stripe_checkout_session_id,omitempty"`
	StartDate               time.Time                `json:"start_date"`
	EndDate                 *time.Time               `json:"end_date,omitempty"`
	NextPaymentDate         *time.Time               `json:"next_payment_date,omitempty"`
	LastGiftDate            *time.Time               `json:"last_gift_date,omitempty"`
	CreatedAt               time.Time                `json:"created_at"`
	UpdatedAt               time.Time                `json:"updated_at"`
}

func donationResponseFromModel(m *models.Donation) donationResponse {
	return donationResponse{
		ID:                      m.ID,
		UserID:                  m.UserID,
		AmountCents:             m.AmountCents,
		Currency:                m.Currency,
		Kind:                    m.Kind,
		Frequency:               m.Frequency,
		Status:                  m.Status,
		StripeCustomerID:        m.StripeCustomerID,
		StripeSubscriptionID:    m.StripeSubscriptionID,
		StripeCheckoutSessionID: m.StripeCheckoutSessionID,
		StartDate:               m.StartDate,
		EndDate:                 m.EndDate,
		NextPaymentDate:         m.NextPaymentDate,
		LastGiftDate:            m.LastGiftDate,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
}

type donationCreateResponse struct {
	Donation    donationResponse `json:"donation"`
	CheckoutURL string           `json:"checkout_url"`
}

type donationListResponse struct {
	Items  []donationResponse `json:"items"`
	Cursor string             `json:"cursor,omitempty"`
}

type transactionListResponse struct {
	Items  []transactionResponse `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

type transactionResponse struct {
	ID                    uuid.UUID               `json:"id"`
	DonationID            uuid.UUID               `json:"donation_id"`
	UserID                uuid.UUID               `json:"user_id"`
	AmountCents           int64                   `json:"amount_cents"`
	Currency              string                  `json:"currency"`
	Kind                  enums.DonationKind      `json:"kind"`
	Status                enums.TransactionStatus `json:"status"`
	StripePaymentIntentID string                  `json:"stripe_payment_intent_id"`
	CardBrand             *string                 `json:"card_brand,omitempty"`
	CardLast4             *string                 `json:"card_last4,omitempty"`
	FailureReason         *string                 `json:"failure_reason,omitempty"`
	OccurredAt            time.Time               `json:"occurred_at"`
	CreatedAt             time.Time               `json:"created_at"`
}

func transactionResponseFromModel(m *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:                    m.ID,
		DonationID:            m.DonationID,
		UserID:                m.UserID,
		AmountCents:           m.AmountCents,
		Currency:              m.Currency,
		Kind:                  m.Kind,
		Status:                m.Status,
		StripePaymentIntentID: m.StripePaymentIntentID,
		CardBrand:             m.CardBrand,
		CardLast4:             m.CardLast4,
		FailureReason:         m.FailureReason,
		OccurredAt:            m.OccurredAt,
		CreatedAt:             m.CreatedAt,
	}
}
