package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse phone numbers given without a country prefix.
const DefaultPhoneRegion = "PT"

const minPasswordLength = 8

// RegisterAccountMessage carries a registration request. Caller is nil for
// civic self registration and set to the authenticated admin for
// institutional registration.
type RegisterAccountMessage struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	FullName         string `json:"full_name"`
	Role             string `json:"role"`
	PublicProfile    bool   `json:"public_profile"`
	TaxID            string `json:"nif"`
	NationalID       string `json:"cc"`
	Address          string `json:"address"`
	Phone            string `json:"phone"`
	Partner          string `json:"partner"`
	Nationality      string `json:"nationality"`
	ResidenceCountry string `json:"residence_country"`

	Kind       RegistrationType `json:"-"`
	Caller     *Actor           `json:"-"`
	OnResponse func(*Account)   `json:"-"`
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// Validate checks the payload fields. Role rules are checked by the handler.
func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, validation.Required, validation.By(StrongPassword)),
		validation.Field(&e.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Phone, validation.By(ValidPhoneNumber)),
	)
}

// StrongPassword requires at least eight characters with a lower case
// letter, an upper case letter, a digit and a symbol.
func StrongPassword(value any) error {
	password, _ := value.(string)
	if password == "" {
		return nil
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case r == '\n':
			return errors.New("must not contain line breaks")
		default:
			symbol = true
		}
	}

	if utf8.RuneCountInString(password) < minPasswordLength || !lower || !upper || !digit || !symbol {
		return errors.New("must have at least 8 characters with upper and lower case letters, digits and symbols")
	}
	return nil
}

// ValidPhoneNumber accepts empty values and numbers valid for DefaultPhoneRegion
// or carrying an explicit country prefix.
func ValidPhoneNumber(value any) error {
	phone, _ := value.(string)
	if p, ok := value.(*string); ok && p != nil {
		phone = *p
	}
	if strings.TrimSpace(phone) == "" {
		return nil
	}
	if _, err := normalizePhone(phone); err != nil {
		return errors.New("must be a valid phone number")
	}
	return nil
}

func normalizePhone(phone string) (string, error) {
	num, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// RegisterAccountHandler creates civic and institutional accounts.
type RegisterAccountHandler struct {
	repo         RepositoryManager
	passwords    PasswordAuthenticator
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

func NewRegisterAccountHandler(repo RepositoryManager) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:         repo,
		passwords:    Passwords{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *RegisterAccountHandler) WithPasswordAuthenticator(p PasswordAuthenticator) *RegisterAccountHandler {
	if p != nil {
		h.passwords = p
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	account, err := h.prepare(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Accounts().RegisterTx(ctx, tx, account)
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	actor := ActorRef{ID: account.Username, Type: "account"}
	if event.Caller != nil {
		actor = event.Caller.Ref()
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     actor,
		Username:  account.Username,
		ToStatus:  account.Status,
		Metadata: map[string]any{
			"registration_type": account.RegistrationType,
			"roles":             account.Roles,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(account)
	}

	return nil
}

func (h *RegisterAccountHandler) prepare(event RegisterAccountMessage) (*Account, error) {
	regType := event.Kind
	if regType == "" {
		regType = RegistrationCivic
	}

	status := AccountStatusActive
	switch regType {
	case RegistrationCivic:
		event.Role = RoleRegular
	case RegistrationInstitutional:
		if event.Caller == nil || event.Caller.Username == "" {
			return nil, ErrUnauthenticated.Clone()
		}
		if !event.Caller.Roles.IsElevated() {
			return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
				"caller": event.Caller.Username,
				"reason": "only administrators can create institutional accounts",
			})
		}
		if !IsInstitutionalRole(event.Role) {
			return nil, invalidRegistration(map[string]any{"role": "role not allowed for institutional registration"})
		}
		status = AccountStatusPendingActivation
	default:
		return nil, invalidRegistration(map[string]any{"type": "unknown registration type"})
	}

	if err := event.Validate(); err != nil {
		return nil, invalidRegistration(validationDetails(err))
	}

	hash, err := h.passwords.HashPassword(event.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	visibility := VisibilityPrivate
	if event.PublicProfile {
		visibility = VisibilityPublic
	}

	phone := ""
	if strings.TrimSpace(event.Phone) != "" {
		// already validated
		phone, _ = normalizePhone(event.Phone)
	}

	account := &Account{
		Username:         event.Username,
		Email:            event.Email,
		PasswordHash:     hash,
		DisplayName:      strings.TrimSpace(event.FullName),
		Roles:            ExpandRegistrationRoles(event.Role).Strings(),
		Status:           status,
		Visibility:       visibility,
		RegistrationType: regType,
		TaxID:            strings.TrimSpace(event.TaxID),
		NationalID:       strings.TrimSpace(event.NationalID),
		Address:          strings.TrimSpace(event.Address),
		Phone:            phone,
		Partner:          strings.TrimSpace(event.Partner),
		Nationality:      strings.TrimSpace(event.Nationality),
		ResidenceCountry: strings.TrimSpace(event.ResidenceCountry),
	}

	if regType == RegistrationInstitutional {
		account.Creator = event.Caller.Username
	}

	return account, nil
}

func invalidRegistration(details map[string]any) error {
	return goerrors.New("invalid registration request", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidRegistration).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(details)
}

func validationDetails(err error) map[string]any {
	details := map[string]any{}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, ferr := range fieldErrs {
			if ferr != nil {
				details[field] = ferr.Error()
			}
		}
		return details
	}

	details["error"] = err.Error()
	return details
}
