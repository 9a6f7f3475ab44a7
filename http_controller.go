package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/trailblaze/trailblaze-auth/middleware/jwtware"
)

func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	c := NewAuthController(opts...)
	protected := c.Middleware.ProtectedRoute()
	admin := c.Middleware.ProtectedRoute(RoleSuperAdmin, RoleBusinessAdmin)

	app.Post(c.Routes.RegisterCivic, c.RegisterCivic).SetName("register.civic")
	app.Post(c.Routes.RegisterInstitutional, c.RegisterInstitutional, admin).SetName("register.institutional")

	app.Post(c.Routes.LoginJWT, c.LoginJWT).SetName("login.jwt")
	app.Post(c.Routes.LogoutJWT, c.LogoutJWT).SetName("logout.jwt")
	app.Get(c.Routes.Sessions, c.ListSessions, protected).SetName("sessions.list")
	app.Post(c.Routes.ForceLogout, c.ForceLogout, protected).SetName("sessions.force-logout")

	app.Post(c.Routes.Activate, c.Activate, protected).SetName("account.activate")
	app.Post(c.Routes.Suspend, c.Suspend, protected).SetName("account.suspend")
	app.Post(c.Routes.Reactivate, c.Reactivate, protected).SetName("account.reactivate")
	app.Patch(c.Routes.RemoveRequest, c.RequestRemoval, protected).SetName("account.remove-request")
	app.Post(c.Routes.Remove, c.Remove, protected).SetName("account.remove")
	app.Get(c.Routes.AccountState+"/:username", c.AccountState, protected).SetName("account.state")
	app.Get(c.Routes.Accounts, c.ListAccounts, protected).SetName("account.list")
	app.Post(c.Routes.Profile, c.ToggleProfile, protected).SetName("account.profile")
	app.Put(c.Routes.AccountUpdate, c.UpdateAccount, protected).SetName("account.update")
	app.Get(c.Routes.AccountDetails+"/:username", c.AccountDetails, protected).SetName("account.details")
	app.Get(c.Routes.AccountProfile+"/:username", c.AccountProfile, protected).SetName("account.profile.read")
	app.Get(c.Routes.ListLogged, c.ListLoggedIn, protected).SetName("account.list.logged")
	app.Get(c.Routes.ListRole+"/:role", c.ListByRole, protected).SetName("account.list.role")

	app.Post(c.Routes.Login, c.LegacyLogin).SetName("login.legacy")
	app.Post(c.Routes.Logout, c.LegacyLogout).SetName("logout.legacy")

	return c
}

type AuthControllerRoutes struct {
	RegisterCivic         string
	RegisterInstitutional string
	LoginJWT              string
	LogoutJWT             string
	Sessions              string
	ForceLogout           string
	Activate              string
	Suspend               string
	Reactivate            string
	RemoveRequest         string
	Remove                string
	AccountState          string
	Accounts              string
	Profile               string
	AccountUpdate         string
	AccountDetails        string
	AccountProfile        string
	ListLogged            string
	ListRole              string
	Login                 string
	Logout                string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	ContextKey   string
	AuthScheme   string
	Routes       *AuthControllerRoutes
	Middleware   *RouteAuthenticator
	Auther       *Auther
	Legacy       *LegacyAuthenticator
	Sessions     *SessionManager
	StateMachine AccountStateMachine
	Accounts     *AccountService
	Registration *RegisterAccountHandler
	ErrorHandler func(router.Context, error) error
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if cfg != nil {
			c.ContextKey = cfg.GetContextKey()
			c.AuthScheme = cfg.GetAuthScheme()
		}
		return c
	}
}

func WithRouteAuthenticator(m *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Middleware = m
		return c
	}
}

func WithAuther(a *Auther) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = a
		return c
	}
}

func WithLegacyAuther(a *LegacyAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Legacy = a
		return c
	}
}

func WithSessions(s *SessionManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Sessions = s
		return c
	}
}

func WithStateMachine(sm AccountStateMachine) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.StateMachine = sm
		return c
	}
}

func WithAccountService(s *AccountService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Accounts = s
		return c
	}
}

func WithRegistration(h *RegisterAccountHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Registration = h
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: "user",
		AuthScheme: "Bearer",
		Routes: &AuthControllerRoutes{
			RegisterCivic:         "/register/civic",
			RegisterInstitutional: "/register/institutional",
			LoginJWT:              "/login-jwt",
			LogoutJWT:             "/logout/jwt",
			Sessions:              "/sessions",
			ForceLogout:           "/force-logout",
			Activate:              "/activate",
			Suspend:               "/suspend",
			Reactivate:            "/reactivate",
			RemoveRequest:         "/account/remove-request",
			Remove:                "/account/remove",
			AccountState:          "/account/state",
			Accounts:              "/accounts",
			Profile:               "/profile",
			AccountUpdate:         "/account/update",
			AccountDetails:        "/account/details",
			AccountProfile:        "/account/profile",
			ListLogged:            "/list/logged",
			ListRole:              "/list/role",
			Login:                 "/login",
			Logout:                "/logout",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return WriteError(ctx, err, c.Logger, c.Debug)
		}
	}

	switch {
	case c.Middleware == nil:
		panic("Missing RouteAuthenticator in auth controller...")
	case c.Auther == nil:
		panic("Missing Auther in auth controller...")
	case c.Legacy == nil:
		panic("Missing LegacyAuthenticator in auth controller...")
	case c.Sessions == nil:
		panic("Missing SessionManager in auth controller...")
	case c.StateMachine == nil:
		panic("Missing AccountStateMachine in auth controller...")
	case c.Accounts == nil:
		panic("Missing AccountService in auth controller...")
	case c.Registration == nil:
		panic("Missing RegisterAccountHandler in auth controller...")
	}

	return c
}

// LoginPayload is the body of both login flows.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TargetPayload names the account an administrative action applies to.
type TargetPayload struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"jti,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *AuthController) RegisterCivic(ctx router.Context) error {
	return a.register(ctx, RegistrationCivic, nil)
}

func (a *AuthController) RegisterInstitutional(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}
	return a.register(ctx, RegistrationInstitutional, &caller)
}

func (a *AuthController) register(ctx router.Context, kind RegistrationType, caller *Actor) error {
	payload := new(RegisterAccountMessage)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register account parse payload: %v", err)
		return a.ErrorHandler(ctx, badPayload(err))
	}

	payload.Kind = kind
	payload.Caller = caller

	var created *Account
	payload.OnResponse = func(acc *Account) {
		created = acc
	}

	if err := a.Registration.Execute(ctx.Context(), *payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("registered account: %s", print.MaybePrettyJSON(created.Summary()))
	}

	return ctx.JSON(http.StatusCreated, created.Summary())
}

func (a *AuthController) LoginJWT(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	issued, err := a.Auther.Login(ctx.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tokenResponse{
		Token:     issued.Token,
		TokenID:   issued.TokenID,
		ExpiresAt: issued.ExpiresAt,
		Username:  issued.Username,
		Roles:     issued.Roles.Strings(),
	})
}

func (a *AuthController) LogoutJWT(ctx router.Context) error {
	raw, err := a.bearer(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Auther.Logout(ctx.Context(), raw); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

// ListSessions returns the live tokens of the caller. Administrators may pass
// ?username= to inspect another account.
func (a *AuthController) ListSessions(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	username := strings.TrimSpace(ctx.Query("username", ""))
	if username == "" {
		username = caller.Username
	}

	if !caller.IsOwner(username) && !caller.Roles.IsElevated() {
		return a.ErrorHandler(ctx, ErrForbidden.Clone())
	}

	sessions, err := a.Sessions.ListActiveSessions(ctx.Context(), username)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"username": username,
		"sessions": sessions,
	})
}

func (a *AuthController) ForceLogout(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ForceLogoutRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	res, err := a.Accounts.ForceLogout(ctx.Context(), caller, *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, res)
}

func (a *AuthController) Activate(ctx router.Context) error {
	return a.transition(ctx, a.StateMachine.Activate)
}

func (a *AuthController) Suspend(ctx router.Context) error {
	return a.transition(ctx, a.StateMachine.Suspend)
}

func (a *AuthController) Reactivate(ctx router.Context) error {
	return a.transition(ctx, a.StateMachine.Reactivate)
}

type transitionFunc func(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error)

func (a *AuthController) transition(ctx router.Context, fn transitionFunc) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(TargetPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}
	if strings.TrimSpace(payload.Username) == "" {
		return a.ErrorHandler(ctx, badPayload(nil))
	}

	account, err := fn(ctx.Context(), caller, payload.Username, WithTransitionReason(payload.Reason))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, account.Summary())
}

func (a *AuthController) RequestRemoval(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.StateMachine.RequestRemoval(ctx.Context(), caller)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, account.Summary())
}

func (a *AuthController) Remove(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(TargetPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	if err := a.StateMachine.Remove(ctx.Context(), caller, payload.Username, WithTransitionReason(payload.Reason)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, messageResponse{Message: "account removed"})
}

func (a *AuthController) AccountState(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	state, err := a.Accounts.AccountState(ctx.Context(), caller, ctx.Param("username"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, state)
}

func (a *AuthController) ListAccounts(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	filter := AccountFilter{
		Status:     AccountStatus(strings.ToUpper(ctx.Query("status", ""))),
		Visibility: Visibility(strings.ToUpper(ctx.Query("visibility", ""))),
		Role:       strings.ToUpper(strings.TrimSpace(ctx.Query("role", ""))),
	}

	accounts, err := a.Accounts.ListAccounts(ctx.Context(), caller, filter)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, accounts)
}

func (a *AuthController) ToggleProfile(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	account, err := a.StateMachine.ToggleVisibility(ctx.Context(), caller)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, account.Summary())
}

func (a *AuthController) UpdateAccount(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(UpdateAccountRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	details, err := a.Accounts.UpdateAccount(ctx.Context(), caller, *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, details)
}

func (a *AuthController) AccountDetails(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	details, err := a.Accounts.AccountDetails(ctx.Context(), caller, ctx.Param("username"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, details)
}

func (a *AuthController) AccountProfile(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	profile, err := a.Accounts.Profile(ctx.Context(), caller, ctx.Param("username"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, profile)
}

// ListLoggedIn returns the usernames currently holding a session.
func (a *AuthController) ListLoggedIn(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	usernames, err := a.Accounts.ListLoggedIn(ctx.Context(), caller)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, usernames)
}

func (a *AuthController) ListByRole(ctx router.Context) error {
	caller, err := a.caller(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	usernames, err := a.Accounts.ListByRole(ctx.Context(), caller, ctx.Param("role"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, usernames)
}

func (a *AuthController) LegacyLogin(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	session, err := a.Legacy.Login(ctx.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tokenResponse{
		Token:    session.Token,
		Username: session.Username,
		Roles:    []string{session.Role},
	})
}

// LegacyLogout accepts the opaque token as a bearer header or a raw header value.
func (a *AuthController) LegacyLogout(ctx router.Context) error {
	header := strings.TrimSpace(ctx.GetString(router.HeaderAuthorization, ""))
	token, err := jwtware.BearerToken(header, a.AuthScheme)
	if err != nil {
		token = header
	}

	if err := a.Legacy.Logout(ctx.Context(), token); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func (a *AuthController) caller(ctx router.Context) (Actor, error) {
	actor, ok := ActorFromRouter(ctx, a.ContextKey)
	if !ok || actor.Username == "" {
		return Actor{}, ErrUnauthenticated.Clone()
	}
	return actor, nil
}

func (a *AuthController) bearer(ctx router.Context) (string, error) {
	token, err := jwtware.BearerToken(ctx.GetString(router.HeaderAuthorization, ""), a.AuthScheme)
	if err != nil {
		return "", ErrUnauthenticated.Clone()
	}
	return token, nil
}

func badPayload(err error) error {
	e := goerrors.New("invalid request payload", goerrors.CategoryBadInput).
		WithCode(goerrors.CodeBadRequest)
	if err != nil {
		e = e.WithMetadata(map[string]any{"error": err.Error()})
	}
	return e
}
