package auth_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
)

func civicMessage() auth.RegisterAccountMessage {
	return auth.RegisterAccountMessage{
		Username: "joana",
		Email:    "Joana@Example.PT",
		Password: "Floresta#2025",
		FullName: "Joana Silva",
		Phone:    "912 345 678",
	}
}

func TestRegisterCivicAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := civicMessage()
	msg.Role = auth.RoleSuperAdmin // ignored for civic registration
	msg.PublicProfile = true

	var created *auth.Account
	msg.OnResponse = func(a *auth.Account) { created = a }

	require.NoError(t, f.register.Execute(ctx, msg))
	require.NotNil(t, created)

	assert.Equal(t, "joana", created.Username)
	assert.Equal(t, "joana@example.pt", created.Email)
	assert.Equal(t, []string{auth.RoleRegular, auth.RoleSheetViewer, auth.RoleDetailViewer}, created.Roles)
	assert.Equal(t, auth.AccountStatusActive, created.Status)
	assert.Equal(t, auth.VisibilityPublic, created.Visibility)
	assert.Equal(t, auth.RegistrationCivic, created.RegistrationType)
	assert.Equal(t, "+351912345678", created.Phone)
	assert.NotEqual(t, msg.Password, created.PasswordHash)

	issued, err := f.auther.Login(ctx, "joana", "Floresta#2025")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleRegular, issued.Roles.Primary())

	assert.Contains(t, f.sink.Types(), auth.ActivityEventAccountRegistered)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.register.Execute(ctx, civicMessage()))

	sameName := civicMessage()
	sameName.Email = "other@example.pt"
	requireCode(t, f.register.Execute(ctx, sameName), auth.ErrConflict)

	sameEmail := civicMessage()
	sameEmail.Username = "joana2"
	sameEmail.Email = "JOANA@example.pt"
	requireCode(t, f.register.Execute(ctx, sameEmail), auth.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		edit  func(*auth.RegisterAccountMessage)
		field string
	}{
		{"missing username", func(m *auth.RegisterAccountMessage) { m.Username = "" }, "username"},
		{"bad email", func(m *auth.RegisterAccountMessage) { m.Email = "not-an-email" }, "email"},
		{"short password", func(m *auth.RegisterAccountMessage) { m.Password = "Ab#1" }, "password"},
		{"no symbol", func(m *auth.RegisterAccountMessage) { m.Password = "Floresta2025" }, "password"},
		{"no upper", func(m *auth.RegisterAccountMessage) { m.Password = "floresta#2025" }, "password"},
		{"missing name", func(m *auth.RegisterAccountMessage) { m.FullName = "" }, "full_name"},
		{"bad phone", func(m *auth.RegisterAccountMessage) { m.Phone = "12" }, "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := civicMessage()
			tt.edit(&msg)

			err := f.register.Execute(context.Background(), msg)
			requireCode(t, err, &goerrors.Error{TextCode: auth.TextCodeInvalidRegistration})
			assert.Equal(t, 400, auth.HTTPStatus(err))

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.Metadata, tt.field)
		})
	}
}

func TestRegisterInstitutionalAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := actor("gestor", auth.RoleBusinessAdmin)

	msg := civicMessage()
	msg.Username = "operador"
	msg.Email = "operador@icnf.pt"
	msg.Kind = auth.RegistrationInstitutional
	msg.Role = auth.RoleOperator
	msg.TaxID = "123456789"
	msg.Caller = &admin

	var created *auth.Account
	msg.OnResponse = func(a *auth.Account) { created = a }

	require.NoError(t, f.register.Execute(ctx, msg))
	require.NotNil(t, created)
	assert.Equal(t, auth.AccountStatusPendingActivation, created.Status)
	assert.Equal(t, []string{auth.RoleOperator, auth.RoleSheetViewer, auth.RoleDetailViewer}, created.Roles)
	assert.Equal(t, "gestor", created.Creator)
	assert.Equal(t, "123456789", created.TaxID)

	// pending accounts cannot log in until activated
	_, err := f.auther.Login(ctx, "operador", "Floresta#2025")
	requireCode(t, err, auth.ErrAccountNotActive)
}

func TestRegisterInstitutionalRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := func() auth.RegisterAccountMessage {
		msg := civicMessage()
		msg.Kind = auth.RegistrationInstitutional
		msg.Role = auth.RoleOperator
		return msg
	}

	msg := base()
	requireCode(t, f.register.Execute(ctx, msg), auth.ErrUnauthenticated)

	regular := actor("joana", auth.RoleRegular)
	msg = base()
	msg.Caller = &regular
	requireCode(t, f.register.Execute(ctx, msg), auth.ErrForbidden)

	admin := actor("admin", auth.RoleSuperAdmin)
	msg = base()
	msg.Caller = &admin
	msg.Role = auth.RoleRegular
	requireCode(t, f.register.Execute(ctx, msg), &goerrors.Error{TextCode: auth.TextCodeInvalidRegistration})
}

func TestStrongPassword(t *testing.T) {
	assert.NoError(t, auth.StrongPassword("Floresta#2025"))
	assert.NoError(t, auth.StrongPassword(""), "emptiness is checked by Required")
	assert.Error(t, auth.StrongPassword("Flor#1"))
	assert.Error(t, auth.StrongPassword("FLORESTA#2025"))
	assert.Error(t, auth.StrongPassword("Floresta#2025\n"))
}

func TestValidPhoneNumber(t *testing.T) {
	assert.NoError(t, auth.ValidPhoneNumber(""))
	assert.NoError(t, auth.ValidPhoneNumber("+351 912 345 678"))
	assert.NoError(t, auth.ValidPhoneNumber("912345678"))
	assert.Error(t, auth.ValidPhoneNumber("000"))
}
