package auth

import (
	"context"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// UpdateAccountRequest edits the profile of the caller's own account. Nil
// fields keep the stored value; an empty string clears optional fields.
type UpdateAccountRequest struct {
	FullName         *string `json:"full_name,omitempty"`
	Address          *string `json:"address,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	Nationality      *string `json:"nationality,omitempty"`
	ResidenceCountry *string `json:"residence_country,omitempty"`
	TaxID            *string `json:"nif,omitempty"`
	NationalID       *string `json:"cc,omitempty"`
	PublicProfile    *bool   `json:"public_profile,omitempty"`
}

func (r UpdateAccountRequest) empty() bool {
	return r.FullName == nil && r.Address == nil && r.Phone == nil &&
		r.Nationality == nil && r.ResidenceCountry == nil &&
		r.TaxID == nil && r.NationalID == nil && r.PublicProfile == nil
}

// Validate checks the fields that are present.
func (r UpdateAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Address, validation.Length(0, 300)),
		validation.Field(&r.Phone, validation.By(ValidPhoneNumber)),
		validation.Field(&r.Nationality, validation.Length(0, 100)),
		validation.Field(&r.ResidenceCountry, validation.Length(0, 100)),
		validation.Field(&r.TaxID, validation.Length(0, 20)),
		validation.Field(&r.NationalID, validation.Length(0, 20)),
	)
}

// AccountProfile is the visibility view returned by Profile.
type AccountProfile struct {
	Username   string     `json:"username"`
	Visibility Visibility `json:"profile"`
}

// UpdateAccount applies req to the caller's account and returns the stored
// details. Changing the visibility follows the same rule as ToggleVisibility.
func (s *AccountService) UpdateAccount(ctx context.Context, caller Actor, req UpdateAccountRequest) (AccountDetails, error) {
	if caller.Username == "" {
		return AccountDetails{}, ErrUnauthenticated.Clone()
	}

	if req.empty() {
		return AccountDetails{}, invalidAccountUpdate(map[string]any{"error": "no fields to update"})
	}
	if err := req.Validate(); err != nil {
		return AccountDetails{}, invalidAccountUpdate(validationDetails(err))
	}

	account, err := s.repo.Accounts().GetByUsername(ctx, caller.Username)
	if err != nil {
		return AccountDetails{}, err
	}

	changed := []string{}
	set := func(field string, dst *string, value *string) {
		if value == nil {
			return
		}
		v := strings.TrimSpace(*value)
		if *dst != v {
			*dst = v
			changed = append(changed, field)
		}
	}

	set("full_name", &account.DisplayName, req.FullName)
	set("address", &account.Address, req.Address)
	set("nationality", &account.Nationality, req.Nationality)
	set("residence_country", &account.ResidenceCountry, req.ResidenceCountry)
	set("nif", &account.TaxID, req.TaxID)
	set("cc", &account.NationalID, req.NationalID)

	if req.Phone != nil {
		phone := ""
		if strings.TrimSpace(*req.Phone) != "" {
			// already validated
			phone, _ = normalizePhone(*req.Phone)
		}
		set("phone", &account.Phone, &phone)
	}

	if req.PublicProfile != nil {
		visibility := VisibilityPrivate
		if *req.PublicProfile {
			visibility = VisibilityPublic
		}
		if visibility != account.Visibility {
			if !caller.Roles.Has(RoleRegular) {
				return AccountDetails{}, ErrForbidden.Clone().WithMetadata(map[string]any{
					"username": caller.Username,
					"reason":   "visibility can only be changed by regular accounts",
				})
			}
			account.Visibility = visibility
			changed = append(changed, "visibility")
		}
	}

	if len(changed) == 0 {
		return account.Details(), nil
	}

	updated, err := s.repo.Accounts().UpdateProfile(ctx, account)
	if err != nil {
		return AccountDetails{}, err
	}

	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType:  ActivityEventAccountUpdated,
		Actor:      caller.Ref(),
		Username:   updated.Username,
		FromStatus: updated.Status,
		ToStatus:   updated.Status,
		Metadata:   map[string]any{"fields": changed},
	})

	return updated.Details(), nil
}

// AccountDetails returns the full profile of target. Owners and elevated
// callers always see it; other callers only when they share a role with a
// public target.
func (s *AccountService) AccountDetails(ctx context.Context, caller Actor, target string) (AccountDetails, error) {
	if caller.Username == "" {
		return AccountDetails{}, ErrUnauthenticated.Clone()
	}

	account, err := s.repo.Accounts().GetByUsername(ctx, normalizeUsername(target))
	if err != nil {
		return AccountDetails{}, err
	}

	if caller.IsOwner(account.Username) || caller.Roles.IsElevated() {
		return account.Details(), nil
	}

	if account.Visibility != VisibilityPublic || !account.RoleSet().HasAny(caller.Roles...) {
		return AccountDetails{}, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"target": account.Username,
		})
	}

	return account.Details(), nil
}

// Profile returns the visibility of target to its owner or an elevated caller.
func (s *AccountService) Profile(ctx context.Context, caller Actor, target string) (AccountProfile, error) {
	if caller.Username == "" {
		return AccountProfile{}, ErrUnauthenticated.Clone()
	}

	target = normalizeUsername(target)
	if !caller.IsOwner(target) && !caller.Roles.IsElevated() {
		return AccountProfile{}, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"target": target,
		})
	}

	account, err := s.repo.Accounts().GetByUsername(ctx, target)
	if err != nil {
		return AccountProfile{}, err
	}

	account.EnsureStatus()
	return AccountProfile{Username: account.Username, Visibility: account.Visibility}, nil
}

// ListLoggedIn returns the usernames holding a legacy session or a live token.
// Elevated callers see every such account; other callers only public accounts
// that carry their primary role.
func (s *AccountService) ListLoggedIn(ctx context.Context, caller Actor) ([]string, error) {
	if caller.Username == "" {
		return nil, ErrUnauthenticated.Clone()
	}
	if len(caller.Roles) == 0 {
		return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"reason": "caller has no roles",
		})
	}

	online, err := s.onlineUsernames(ctx)
	if err != nil {
		return nil, err
	}

	if caller.Roles.IsElevated() {
		out := make([]string, 0, len(online))
		for username := range online {
			out = append(out, username)
		}
		sort.Strings(out)
		return out, nil
	}

	records, err := s.repo.Accounts().ListFiltered(ctx, AccountFilter{
		Visibility: VisibilityPublic,
		Role:       caller.Roles.Primary(),
	})
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, record := range records {
		if _, ok := online[record.Username]; ok {
			out = append(out, record.Username)
		}
	}
	return out, nil
}

// ListByRole returns the usernames of every account holding role. Only
// elevated callers may list by role.
func (s *AccountService) ListByRole(ctx context.Context, caller Actor, role Role) ([]string, error) {
	if caller.Username == "" {
		return nil, ErrUnauthenticated.Clone()
	}
	if !caller.Roles.IsElevated() {
		return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"reason": "role listings are restricted to administrators",
		})
	}

	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return nil, goerrors.New("role is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	records, err := s.repo.Accounts().ListFiltered(ctx, AccountFilter{Role: role})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.Username)
	}
	return out, nil
}

func (s *AccountService) onlineUsernames(ctx context.Context) (map[string]struct{}, error) {
	online := map[string]struct{}{}

	legacy, err := s.repo.LegacySessions().ListUsernames(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list legacy sessions")
	}
	for _, username := range legacy {
		online[username] = struct{}{}
	}

	now := s.now()
	entries, err := s.repo.ActiveTokens().ListUnexpired(ctx, now)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list active tokens")
	}

	for _, entry := range entries {
		if _, ok := online[entry.Username]; ok {
			continue
		}

		revoked, found, err := s.repo.Revocations().Lookup(ctx, entry.JTI)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "revocation lookup failed")
		}
		if found && revoked.Effective(now) {
			continue
		}

		online[entry.Username] = struct{}{}
	}

	return online, nil
}

func invalidAccountUpdate(details map[string]any) error {
	return goerrors.New("invalid account update", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidUpdate).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(details)
}
