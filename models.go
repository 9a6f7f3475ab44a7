package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state of an account. The removed state is
// implicit: removed accounts are deleted.
type AccountStatus string

const (
	AccountStatusPendingActivation AccountStatus = "PENDING_ACTIVATION"
	AccountStatusActive            AccountStatus = "ACTIVE"
	AccountStatusSuspended         AccountStatus = "SUSPENDED"
	AccountStatusPendingRemoval    AccountStatus = "PENDING_REMOVAL"
)

// IsValid reports whether the status is a persisted lifecycle state.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusPendingActivation, AccountStatusActive, AccountStatusSuspended, AccountStatusPendingRemoval:
		return true
	default:
		return false
	}
}

// Visibility is the public profile setting of an account.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Toggle returns the opposite visibility.
func (v Visibility) Toggle() Visibility {
	if v == VisibilityPublic {
		return VisibilityPrivate
	}
	return VisibilityPublic
}

// RegistrationType records how the account was created.
type RegistrationType string

const (
	RegistrationCivic         RegistrationType = "CIVIC"
	RegistrationInstitutional RegistrationType = "INSTITUTIONAL"
)

// Account is the identity record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID               uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username         string           `bun:"username,notnull,unique" json:"username"`
	Email            string           `bun:"email,notnull,unique" json:"email"`
	PasswordHash     string           `bun:"password_hash,notnull" json:"-"`
	DisplayName      string           `bun:"display_name" json:"display_name,omitempty"`
	Roles            []string         `bun:"roles" json:"roles,omitempty"`
	LegacyRole       string           `bun:"role,nullzero" json:"role,omitempty"`
	Status           AccountStatus    `bun:"status,notnull" json:"status"`
	Visibility       Visibility       `bun:"visibility,notnull" json:"visibility"`
	RegistrationType RegistrationType `bun:"registration_type,notnull" json:"registration_type"`

	TaxID            string `bun:"tax_id,nullzero" json:"tax_id,omitempty"`
	NationalID       string `bun:"national_id,nullzero" json:"national_id,omitempty"`
	Address          string `bun:"address,nullzero" json:"address,omitempty"`
	Phone            string `bun:"phone,nullzero" json:"phone,omitempty"`
	Nationality      string `bun:"nationality,nullzero" json:"nationality,omitempty"`
	ResidenceCountry string `bun:"residence_country,nullzero" json:"residence_country,omitempty"`
	Partner          string `bun:"partner,nullzero" json:"partner,omitempty"`
	Creator          string `bun:"creator,nullzero" json:"creator,omitempty"`

	SuspendedAt        *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	RemovalRequestedAt *time.Time `bun:"removal_requested_at,nullzero" json:"removal_requested_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RoleSet resolves the account roles, falling back to the legacy single role.
func (a *Account) RoleSet() RoleSet {
	if a == nil {
		return RoleSet{}
	}
	return ResolveRoles(a.Roles, a.LegacyRole)
}

// EnsureStatus sets the default lifecycle values for new records.
func (a *Account) EnsureStatus() {
	if a == nil {
		return
	}
	if a.Status == "" {
		a.Status = AccountStatusActive
	}
	if a.Visibility == "" {
		a.Visibility = VisibilityPrivate
	}
	if a.RegistrationType == "" {
		a.RegistrationType = RegistrationCivic
	}
}

// IsActive reports whether the account can authenticate.
func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountStatusActive
}

// AccountSummary is the listing view of an account.
type AccountSummary struct {
	Username   string        `json:"username"`
	Email      string        `json:"email"`
	Name       string        `json:"name,omitempty"`
	Roles      []string      `json:"roles"`
	Status     AccountStatus `json:"status"`
	Visibility Visibility    `json:"visibility"`
}

// Summary returns the public listing view of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		Username:   a.Username,
		Email:      a.Email,
		Name:       a.DisplayName,
		Roles:      a.RoleSet().Strings(),
		Status:     a.Status,
		Visibility: a.Visibility,
	}
}

// AccountDetails is the full profile view of an account. The password hash is
// never part of it.
type AccountDetails struct {
	Username         string           `json:"username"`
	Email            string           `json:"email"`
	Name             string           `json:"name,omitempty"`
	Roles            []string         `json:"roles"`
	Status           AccountStatus    `json:"status"`
	Visibility       Visibility       `json:"visibility"`
	RegistrationType RegistrationType `json:"registration_type"`
	TaxID            string           `json:"nif,omitempty"`
	NationalID       string           `json:"cc,omitempty"`
	Address          string           `json:"address,omitempty"`
	Phone            string           `json:"phone,omitempty"`
	Nationality      string           `json:"nationality,omitempty"`
	ResidenceCountry string           `json:"residence_country,omitempty"`
	Partner          string           `json:"partner,omitempty"`
	Creator          string           `json:"creator,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
}

func (a *Account) Details() AccountDetails {
	return AccountDetails{
		Username:         a.Username,
		Email:            a.Email,
		Name:             a.DisplayName,
		Roles:            a.RoleSet().Strings(),
		Status:           a.Status,
		Visibility:       a.Visibility,
		RegistrationType: a.RegistrationType,
		TaxID:            a.TaxID,
		NationalID:       a.NationalID,
		Address:          a.Address,
		Phone:            a.Phone,
		Nationality:      a.Nationality,
		ResidenceCountry: a.ResidenceCountry,
		Partner:          a.Partner,
		Creator:          a.Creator,
		CreatedAt:        a.CreatedAt,
	}
}

// ActiveToken is the bookkeeping row of an issued access token.
type ActiveToken struct {
	bun.BaseModel `bun:"table:active_tokens,alias:atk"`

	JTI       string    `bun:"jti,pk" json:"jti"`
	Username  string    `bun:"username,notnull" json:"username"`
	IssuedAt  time.Time `bun:"issued_at,notnull" json:"issued_at"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *ActiveToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RevokedToken marks a token id as invalid until its recorded expiry.
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rtk"`

	JTI       string    `bun:"jti,pk" json:"jti"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt time.Time `bun:"revoked_at,notnull" json:"revoked_at"`
	Reason    string    `bun:"reason,nullzero" json:"reason,omitempty"`
}

// Effective reports whether the revocation still applies at now.
func (r *RevokedToken) Effective(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

// LegacySession is the opaque token record of the older login flow.
type LegacySession struct {
	bun.BaseModel `bun:"table:legacy_sessions,alias:lgs"`

	Token     string    `bun:"token,pk" json:"token"`
	Username  string    `bun:"username,notnull" json:"username"`
	Role      string    `bun:"role,notnull" json:"role"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
