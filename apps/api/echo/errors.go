package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errInvalidCronSecret    = echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	errCronSecretMissing    = echo.NewHTTPError(http.StatusInternalServerError, "cron secret not configured")
	errTooManyRequests      = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
)

// postgres error codes
var pqStatuses = map[pq.ErrorCode]int{
	"23505": http.StatusConflict,   // unique_violation
	"23503": http.StatusBadRequest, // foreign_key_violation
	"23502": http.StatusBadRequest, // not_null_violation
	"22P02": http.StatusBadRequest, // invalid_text_representation
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator)

		if code == http.StatusInternalServerError {
			var person core.Person
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				person = core.Person{ID: claims.Subject, Username: claims.Username, Email: claims.Email}
			}
			msg := http.StatusText(http.StatusInternalServerError)
			logger.Error(msg, errors.Wrap(err, msg), person, map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			})

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// deliberate http errors keep their message
		var herr *echo.HTTPError
		if ctx.Echo().Debug && code == http.StatusInternalServerError && !errors.As(err, &herr) {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// errorResponse maps an error to its status code and response message.
// The message is either a string or a field -> error map.
func errorResponse(err error, translator ut.Translator) (int, interface{}) {
	cause := errors.Cause(err)

	switch origErr := cause.(type) {
	case *echo.HTTPError:
		if origErr == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, origErr.Message
		}
		if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
			origErr = herr
		}
		return origErr.Code, origErr.Message
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			fldErrs[vErr.Field()] = vErr.Translate(translator)
		}
		return http.StatusBadRequest, fldErrs
	case *core.ValidationError:
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, origErr.Error()
	case core.NotFoundError:
		return http.StatusNotFound, origErr.Error()
	case *pq.Error:
		if code, ok := pqStatuses[origErr.Code]; ok {
			return code, origErr.Message
		}
	}

	switch cause {
	case core.ErrForbidden, profile.ErrCannotDeleteSelf:
		return http.StatusForbidden, cause.Error()
	case core.ErrConflict:
		return http.StatusConflict, cause.Error()
	case core.ErrRateLimit:
		return http.StatusTooManyRequests, cause.Error()
	case calendar.ErrInvalidState, calendar.ErrMissingHeaders:
		return http.StatusBadRequest, cause.Error()
	case apikey.ErrInvalidKey:
		return http.StatusUnauthorized, cause.Error()
	}

	// any other error is a server error
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}
