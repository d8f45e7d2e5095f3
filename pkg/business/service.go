package business

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation without system zoneinfo

	"github.com/finoly/finoly/pkg/auth"
	"github.com/finoly/finoly/pkg/rbac"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finoly/finoly/pkg/business"

// MaxNameLength bounds the business display name
const MaxNameLength = 100

const fiscalYearLayout = "2006-01-02"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Subscription describes the billing plan of a business
type Subscription struct {
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Profile is the owner's view of a business
type Profile struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Owner         rbac.UserSummary      `json:"owner"`
	TeamsCount    int                   `json:"teamsCount"`
	UsersCount    int                   `json:"usersCount"`
	TotalExpenses int64                 `json:"totalExpenses"`
	ActiveBudgets int                   `json:"activeBudgets"`
	CreatedAt     time.Time             `json:"createdAt"`
	Subscription  Subscription          `json:"subscription"`
	Settings      rbac.BusinessSettings `json:"settings"`
}

// UpdateInput is the payload of Update. Settings, when present, must be a
// JSON object; its fields are applied over the current settings.
type UpdateInput struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// UpdateResult is returned by Update
type UpdateResult struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Settings  rbac.BusinessSettings `json:"settings"`
	UpdatedAt time.Time             `json:"updatedAt"`

	previousName string
}

// PreviousName is the name before the update
func (r *UpdateResult) PreviousName() string {
	return r.previousName
}

// Service reads and edits the business owned by the caller
type Service struct {
	store  rbac.Store
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewService creates a new Service
func NewService(store rbac.Store, logger *logrus.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Get returns the business owned by the caller together with its owner and
// live team and user counts
func (s *Service) Get(ctx context.Context, identity *auth.Identity) (_ *Profile, err error) {
	ctx, span := s.tracer.Start(ctx, "business.Get")
	defer endSpan(span, &err)

	b, err := s.ownedBusiness(ctx, s.store, identity)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("business.id", b.ID))

	owner, err := s.store.GetUser(ctx, b.OwnerID)
	if err != nil && !errors.Is(err, rbac.ErrUserNotFound) {
		return nil, rbac.NewInternal("get owner", err)
	}
	teams, err := s.store.CountBusinessTeams(ctx, b.ID)
	if err != nil {
		return nil, rbac.NewInternal("count teams", err)
	}
	users, err := s.store.CountBusinessUsers(ctx, b.ID)
	if err != nil {
		return nil, rbac.NewInternal("count users", err)
	}

	profile := &Profile{
		ID:            b.ID,
		Name:          b.Name,
		Owner:         rbac.UserSummary{ID: b.OwnerID},
		TeamsCount:    teams,
		UsersCount:    users,
		TotalExpenses: b.TotalExpenses,
		ActiveBudgets: b.ActiveBudgets,
		CreatedAt:     b.CreatedAt,
		Subscription: Subscription{
			Plan:      b.SubscriptionPlan,
			Status:    b.SubscriptionStatus,
			ExpiresAt: b.SubscriptionExpiresAt,
		},
		Settings: b.Settings,
	}
	if owner != nil {
		profile.Owner.Name = owner.Name
		profile.Owner.Email = owner.Email
	}
	return profile, nil
}

// Update renames the caller's business and applies a settings patch. The
// row is locked for the read-modify-write so concurrent patches do not
// overwrite each other.
func (s *Service) Update(ctx context.Context, identity *auth.Identity, input UpdateInput) (_ *UpdateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "business.Update")
	defer endSpan(span, &err)

	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	patch, err := settingsPatch(input.Settings)
	if err != nil {
		return nil, err
	}

	var result *UpdateResult
	err = s.store.WithTx(ctx, func(q rbac.Queries) error {
		owned, err := s.ownedBusiness(ctx, q, identity)
		if err != nil {
			return err
		}
		b, err := q.GetBusinessForUpdate(ctx, owned.ID)
		if err != nil {
			return storeError("lock business", err)
		}

		settings := b.Settings
		if patch != nil {
			if err := json.Unmarshal(patch, &settings); err != nil {
				return rbac.NewValidationError(rbac.CodeValidation, "settings", "Settings contain invalid values")
			}
			if err := validateSettings(settings); err != nil {
				return err
			}
		}

		updated, err := q.UpdateBusinessProfile(ctx, b.ID, name, settings)
		if err != nil {
			return storeError("update business", err)
		}
		result = &UpdateResult{
			ID:           updated.ID,
			Name:         updated.Name,
			Settings:     updated.Settings,
			UpdatedAt:    updated.UpdatedAt,
			previousName: b.Name,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("business.id", result.ID))
	s.logger.WithFields(logrus.Fields{
		"business_id": result.ID,
		"user_id":     identity.UserID,
	}).Info("business profile updated")
	return result, nil
}

// ownedBusiness resolves the business the caller owns. A caller who owns
// nothing sees the same not-found as a missing business.
func (s *Service) ownedBusiness(ctx context.Context, q rbac.Queries, identity *auth.Identity) (*rbac.Business, error) {
	if !identity.IsBusiness() {
		return nil, rbac.NewPermissionDenied(rbac.CodeBusinessAccountRequired, "A business account is required")
	}
	b, err := q.GetBusinessByOwner(ctx, identity.UserID)
	if errors.Is(err, rbac.ErrBusinessNotFound) {
		return nil, rbac.NewNotFound(rbac.CodeBusinessNotFound, "No business found for this user or user is not the owner")
	}
	if err != nil {
		return nil, rbac.NewInternal("get business", err)
	}
	return b, nil
}

func validateName(name string) error {
	if name == "" {
		return rbac.NewValidationError(rbac.CodeValidation, "name", "Business name is required")
	}
	if len([]rune(name)) > MaxNameLength {
		return rbac.NewValidationError(rbac.CodeValidation, "name",
			fmt.Sprintf("Business name must be at most %d characters", MaxNameLength))
	}
	return nil
}

// settingsPatch returns nil when no settings were sent
func settingsPatch(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, rbac.NewValidationError(rbac.CodeValidation, "settings", "Settings must be an object")
	}
	return trimmed, nil
}

func validateSettings(settings rbac.BusinessSettings) error {
	if !currencyPattern.MatchString(settings.DefaultCurrency) {
		return rbac.NewValidationError(rbac.CodeValidation, "settings.defaultCurrency",
			"Default currency must be a three-letter ISO 4217 code")
	}
	if _, err := time.Parse(fiscalYearLayout, settings.FiscalYearStart); err != nil {
		return rbac.NewValidationError(rbac.CodeValidation, "settings.fiscalYearStart",
			"Fiscal year start must be a date in YYYY-MM-DD form")
	}
	if settings.Timezone == "" {
		return rbac.NewValidationError(rbac.CodeValidation, "settings.timezone", "Timezone is required")
	}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		return rbac.NewValidationError(rbac.CodeValidation, "settings.timezone",
			fmt.Sprintf("Unknown timezone %q", settings.Timezone))
	}
	return nil
}

func storeError(op string, err error) error {
	if errors.Is(err, rbac.ErrBusinessNotFound) {
		return rbac.NewNotFound(rbac.CodeBusinessNotFound, "Business not found")
	}
	if _, ok := rbac.AsError(err); ok {
		return err
	}
	return rbac.NewInternal(op, err)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
