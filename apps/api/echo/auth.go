package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const (
	contextProfileKey = "profile"
	apiKeyHeader      = "X-API-Key"
)

var (
	// appJWTConfig is the default JWT auth middleware config.
	appJWTConfig = middleware.JWTConfig{
		SigningKey:    []byte(core.Conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    "userToken",
		Claims:        new(Claims),
	}
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

func GetProfileClaims(p profile.Profile, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   p.ID,
			Audience:  "guitar-crm",
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     p.Username,
		Email:        p.Email,
		Role:         p.Role(),
		Roles:        p.Roles(),
	}
}

// GenerateToken generates a signed JWT token string representing the profile Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey)
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

func authenticate(ctx echo.Context, login, pwd string, svc *profile.Service) (*Claims, error) {
	reqCtx := ctx.Request().Context()
	p, err := svc.GetByUsernameOrEmail(reqCtx, login)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding profile by username or email")
	}
	if err = p.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !p.IsActive {
		return nil, errAccountDeactivated
	}
	if p, err = svc.SetLastLogin(reqCtx, p); err != nil {
		return nil, errors.Wrap(err, "setting last login")
	}
	return GetProfileClaims(p), nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextProfile returns the authenticated profile loaded by activeProfileMiddleware or apiKeyMiddleware.
func getContextProfile(ctx echo.Context) (profile.Profile, error) {
	if p, ok := ctx.Get(contextProfileKey).(profile.Profile); ok {
		return p, nil
	}
	return profile.Profile{}, errUnauthorized
}

// activeProfileMiddleware loads the JWT subject and rejects deactivated accounts.
func (s *Server) activeProfileMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		p, err := s.deps.ProfileSvc.GetByID(ctx.Request().Context(), claims.Subject)
		if err != nil {
			if core.IsNotFound(err) {
				return errUnauthorized
			}
			return errors.Wrap(err, "finding profile by ID")
		}
		if !p.IsActive {
			return errAccountDeactivated
		}
		ctx.Set(contextProfileKey, p)
		return next(ctx)
	}
}

// apiKeyMiddleware authenticates a "gcrm_" key sent as a bearer token or in the X-API-Key header.
func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		key := ctx.Request().Header.Get(apiKeyHeader)
		if key == "" {
			key = bearerToken(ctx)
		}
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
		}
		p, err := s.deps.APIKeySvc.Authenticate(ctx.Request().Context(), key)
		if err != nil {
			if errors.Cause(err) == apikey.ErrInvalidKey {
				return err
			}
			return errors.Wrap(err, "authenticating api key")
		}
		ctx.Set(contextProfileKey, p)
		return next(ctx)
	}
}

func bearerToken(ctx echo.Context) string {
	auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

func refreshToken(ctx echo.Context, svc *profile.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	p, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if core.IsNotFound(err) {
			return "", errUnauthorized
		}
		return "", errors.Wrap(err, "finding profile by ID")
	}

	// check if profile is still active
	if !p.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(core.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := GenerateToken(GetProfileClaims(p, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}
