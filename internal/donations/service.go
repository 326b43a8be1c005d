package donations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenfund/giving-backend/pkg/db/models"
	"github.com/lumenfund/giving-backend/pkg/enums"
	pkgerrors "github.com/lumenfund/giving-backend/pkg/errors"
	"github.com/lumenfund/giving-backend/pkg/pagination"
)

// minDonationCents is the smallest accepted gift (Stripe rejects sub-$1
// charges for most settlement currencies anyway).
const minDonationCents = 100

type userDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service defines the donor-facing donation surface.
type Service interface {
	Create(ctx context.Context, input CreateDonationInput) (*CreateDonationResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// ServiceParams groups dependencies for the donation service.
type ServiceParams struct {
	Repo     Repository
	Users    userDirectory
	Checkout CheckoutClient
}

// CreateDonationInput captures a new gift commitment.
type CreateDonationInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Currency    string
	Kind        enums.DonationKind
	Frequency   *enums.DonationFrequency
	StartDate   *time.Time
	EndDate     *time.Time
}

// CreateDonationResult pairs the persisted donation with the hosted
// checkout the donor completes it on.
type CreateDonationResult struct {
	Donation    *models.Donation
	CheckoutURL string
}

// ListParams carries the controller-facing pagination inputs.
type ListParams struct {
	UserID *uuid.UUID
	Status *enums.DonationStatus
	Limit  int
	Cursor string
}

// ListResult is one page of donations plus the next cursor.
type ListResult struct {
	Items  []models.Donation
	Cursor string
}

type service struct {
	repo     Repository
	users    userDirectory
	checkout CheckoutClient
}

// NewService builds a donation service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "donation repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user directory required")
	}
	if params.Checkout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout client required")
	}
	return &service{
		repo:     params.Repo,
		users:    params.Users,
		checkout: params.Checkout,
	}, nil
}

// Create persists a pending donation and opens the Stripe Checkout the
// donor pays on. The donation stays pending until the completion webhook
// lands; a checkout that is never finished simply leaves it there.
func (s *service) Create(ctx context.Context, input CreateDonationInput) (*CreateDonationResult, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up donor")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	start := time.Now().UTC()
	if input.StartDate != nil {
		start = input.StartDate.UTC()
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	donation := &models.Donation{
		ID:          uuid.New(),
		UserID:      input.UserID,
		AmountCents: input.AmountCents,
		Currency:    currency,
		Kind:        input.Kind,
		Frequency:   input.Frequency,
		Status:      enums.DonationStatusPending,
		StartDate:   start,
		EndDate:     input.EndDate,
	}
	if err := s.repo.Create(ctx, donation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create donation")
	}

	sess, err := s.checkout.CreateSession(ctx, CheckoutParams{
		DonationID:    donation.ID,
		UserID:        donation.UserID,
		AmountCents:   donation.AmountCents,
		Currency:      donation.Currency,
		Kind:          donation.Kind,
		Frequency:     donation.Frequency,
		CustomerEmail: user.Email,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open checkout session")
	}

	donation.StripeCheckoutSessionID = &sess.ID
	if err := s.repo.Save(ctx, donation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}

	return &CreateDonationResult{
		Donation:    donation,
		CheckoutURL: sess.URL,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}
	donation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation")
	}
	if donation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
	}
	return donation, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := ListDonationsQuery{
		UserID: params.UserID,
		Status: params.Status,
		Limit:  params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list donations")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func validateCreateInput(input CreateDonationInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountCents < minDonationCents {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount must be at least %d cents", minDonationCents))
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid donation kind %q", input.Kind))
	}

	switch input.Kind {
	case enums.DonationKindRecurring:
		if input.Frequency == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "frequency required for recurring donations")
		}
		if !input.Frequency.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid donation frequency %q", *input.Frequency))
		}
	default:
		if input.Frequency != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "frequency only applies to recurring donations")
		}
		if input.EndDate != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "end date only applies to recurring donations")
		}
	}

	if input.EndDate != nil {
		start := time.Now().UTC()
		if input.StartDate != nil {
			start = input.StartDate.UTC()
		}
		if !input.EndDate.After(start) {
			return pkgerrors.New(pkgerrors.CodeValidation, "end date must be after start date")
		}
	}
	return nil
}
