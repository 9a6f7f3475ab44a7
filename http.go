package auth

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/trailblaze/trailblaze-auth/middleware/jwtware"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string         `json:"error"`
	TextCode string         `json:"code,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// RouteAuthenticator builds bearer token middleware for protected routes.
type RouteAuthenticator struct {
	validator    TokenValidator
	cfg          Config
	Debug        bool
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

func NewHTTPAuthenticator(validator TokenValidator, cfg Config) *RouteAuthenticator {
	a := &RouteAuthenticator{
		validator: validator,
		cfg:       cfg,
		Logger:    defLogger{},
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

// ProtectedRoute requires a valid bearer token. When roles are given the
// token must carry at least one of them.
func (a *RouteAuthenticator) ProtectedRoute(roles ...Role) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler:    a.authErrorHandler,
		TokenValidator:  MiddlewareValidator(a.validator),
		AuthScheme:      a.cfg.GetAuthScheme(),
		ContextKey:      a.cfg.GetContextKey(),
		TokenLookup:     a.cfg.GetTokenLookup(),
		RequiredRoles:   roles,
		ContextEnricher: enrichClaimsContext,
	})
}

func (a *RouteAuthenticator) authErrorHandler(c router.Context, err error) error {
	switch {
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		err = ErrUnauthenticated.Clone()
	case errors.Is(err, jwtware.ErrAccessDenied):
		err = ErrForbidden.Clone()
	}
	return a.ErrorHandler(c, err)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	return WriteError(c, err, a.Logger, a.Debug)
}

func enrichClaimsContext(ctx context.Context, claims jwtware.AuthClaims) context.Context {
	if jc, ok := claims.(*JWTClaims); ok {
		return WithClaimsContext(ctx, jc)
	}
	return ctx
}

// WriteError renders err as JSON with the status given by HTTPStatus. Token
// failures are collapsed and server errors never expose their message.
func WriteError(c router.Context, err error, logger Logger, debug bool) error {
	if logger == nil {
		logger = defLogger{}
	}

	if IsTokenError(err) {
		err = PublicTokenError(err)
	}

	status := HTTPStatus(err)
	resp := ErrorResponse{Error: http.StatusText(status)}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		resp.TextCode = richErr.TextCode
		if status < http.StatusInternalServerError {
			resp.Error = richErr.Message
			if richErr.Category == goerrors.CategoryValidation || richErr.Category == goerrors.CategoryBadInput {
				resp.Details = richErr.Metadata
			}
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
		resp.TextCode = ""
	} else {
		logger.Debug("request rejected with %d: %v", status, err)
	}

	if debug && richErr != nil {
		logger.Debug("error details: %s", print.MaybePrettyJSON(richErr.Metadata))
	}

	return c.JSON(status, resp)
}
