package auth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeUnauthenticated     = "UNAUTHENTICATED"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeTokenInvalid        = "TOKEN_INVALID"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeTokenSignature      = "TOKEN_INVALID_SIGNATURE"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenRevoked        = "TOKEN_REVOKED"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeAccountNotActive    = "ACCOUNT_NOT_ACTIVE"
	TextCodeStateConflict       = "ACCOUNT_STATE_CONFLICT"
	TextCodeConflict            = "CONFLICT"
	TextCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	TextCodeTokenNotOwned       = "TOKEN_NOT_OWNED"
	TextCodeTokenRegistration   = "TOKEN_REGISTRATION_FAILED"
	TextCodeInvalidSigningKey   = "INVALID_SIGNING_KEY"
	TextCodeInvalidRegistration = "INVALID_REGISTRATION"
	TextCodeRolesRequired       = "ROLES_REQUIRED"
	TextCodeInvalidUpdate       = "INVALID_ACCOUNT_UPDATE"
)

var (
	// ErrUnauthenticated is returned when no usable credential was presented.
	ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
				WithTextCode(TextCodeUnauthenticated).
				WithCode(goerrors.CodeUnauthorized)

	// ErrInvalidCredentials covers both unknown accounts and wrong passwords.
	ErrInvalidCredentials = goerrors.New("invalid username or password", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	// ErrTokenInvalid is the only token failure callers outside the core see.
	ErrTokenInvalid = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenInvalid).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenInvalidSignature = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
					WithTextCode(TextCodeTokenSignature).
					WithCode(goerrors.CodeUnauthorized)

	ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenRevoked).
			WithCode(goerrors.CodeUnauthorized)

	ErrForbidden = goerrors.New("operation not allowed for caller", goerrors.CategoryAuthz).
			WithTextCode(TextCodeForbidden).
			WithCode(goerrors.CodeForbidden)

	ErrAccountNotActive = goerrors.New("account is not active", goerrors.CategoryAuthz).
				WithTextCode(TextCodeAccountNotActive).
				WithCode(goerrors.CodeForbidden)

	// ErrStateConflict is returned when the account is already in the requested state
	// or the transition does not apply to its current state.
	ErrStateConflict = goerrors.New("account state does not allow this transition", goerrors.CategoryConflict).
				WithTextCode(TextCodeStateConflict).
				WithCode(goerrors.CodeConflict)

	ErrConflict = goerrors.New("resource already exists", goerrors.CategoryConflict).
			WithTextCode(TextCodeConflict).
			WithCode(goerrors.CodeConflict)

	ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeAccountNotFound).
				WithCode(goerrors.CodeNotFound)

	ErrTokenNotOwned = goerrors.New("token does not belong to account", goerrors.CategoryBadInput).
				WithTextCode(TextCodeTokenNotOwned).
				WithCode(goerrors.CodeBadRequest)

	ErrTokenRegistration = goerrors.New("unable to register issued token", goerrors.CategoryInternal).
				WithTextCode(TextCodeTokenRegistration).
				WithCode(goerrors.CodeInternal)

	// ErrRolesRequired is returned when a token is requested for an empty role set.
	ErrRolesRequired = goerrors.New("at least one role is required", goerrors.CategoryBadInput).
				WithTextCode(TextCodeRolesRequired).
				WithCode(goerrors.CodeBadRequest)

	ErrInvalidSigningKey = goerrors.New("signing key is not configured", goerrors.CategoryInternal).
				WithTextCode(TextCodeInvalidSigningKey).
				WithCode(goerrors.CodeInternal)

	// ErrNoEmptyString is returned when hashing an empty password.
	ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest)

	// ErrMismatchedHashAndPassword is returned when a password does not match the stored hash.
	ErrMismatchedHashAndPassword = errors.New("password does not match hash")
)

// IsTokenError reports whether err is any of the token validation failures.
func IsTokenError(err error) bool {
	for _, target := range []*goerrors.Error{
		ErrTokenInvalid,
		ErrTokenMalformed,
		ErrTokenInvalidSignature,
		ErrTokenExpired,
		ErrTokenRevoked,
	} {
		if hasTextCode(err, target.TextCode) {
			return true
		}
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsTokenRevokedError will check for revoked tokens
func IsTokenRevokedError(err error) bool {
	return hasTextCode(err, TextCodeTokenRevoked)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return hasTextCode(err, TextCodeTokenMalformed)
}

// IsSignatureError will check for tokens signed with an unknown key
func IsSignatureError(err error) bool {
	return hasTextCode(err, TextCodeTokenSignature)
}

// PublicTokenError collapses every token failure into ErrTokenInvalid so that
// callers cannot tell expired, revoked and forged tokens apart.
func PublicTokenError(err error) error {
	if err == nil {
		return nil
	}
	if IsTokenError(err) {
		return ErrTokenInvalid.Clone()
	}
	return err
}

// HTTPStatus maps an error to the status code used at the HTTP boundary.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code > 0 {
			return richErr.Code
		}
		switch richErr.Category {
		case goerrors.CategoryAuth:
			return http.StatusUnauthorized
		case goerrors.CategoryAuthz:
			return http.StatusForbidden
		case goerrors.CategoryConflict:
			return http.StatusConflict
		case goerrors.CategoryNotFound:
			return http.StatusNotFound
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			return http.StatusBadRequest
		}
	}

	if repository.IsRecordNotFound(err) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

// IsNotFound reports whether err is ErrAccountNotFound.
func IsNotFound(err error) bool {
	return hasTextCode(err, TextCodeAccountNotFound)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
