package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"` // username or email
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}

type authApi struct {
	*Server
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := authApi{s}
	limiter := newIPRateLimiter(core.Conf.Server.RateLimit, core.Conf.Server.RateBurst)

	ag := g.Group("/auth", limiter.Middleware)
	ag.POST("/login", api.login)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)
	ag.POST("/token-refresh", api.refreshToken, jwt)
}

func (api authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}

	claims, err := authenticate(ctx, data.Username, data.Password, api.deps.ProfileSvc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.deps.ProfileSvc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}

	if err := api.deps.ProfileSvc.RequestPasswordReset(ctx.Request().Context(), data.Email); err != nil && !core.IsNotFound(err) {
		// do not return errors to attackers
		api.deps.Logger.Error("requesting password reset", err)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api authApi) confirmPasswordReset(ctx echo.Context) error {
	var data profile.ResetPassword
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	if err := api.deps.ProfileSvc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

type profileApi struct {
	*Server
}

func registerProfileAPI(g *echo.Group, s *Server) {
	api := profileApi{s}

	pg := g.Group("/profiles")
	pg.GET("", api.query, staffOnly)
	pg.POST("", api.create, staffOnly)
	pg.GET("/me", api.me)
	pg.GET("/:id", api.retrieve)
	pg.PUT("/:id", api.update)
	pg.DELETE("/:id", api.destroy, adminOnly)
}

func (api profileApi) create(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data profile.NewProfile
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}

	p, err := api.deps.ProfileSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating profile")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api profileApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := profile.QueryFilter{
		Search:        ctx.QueryParam("search"),
		Role:          ctx.QueryParam("role"),
		IsActive:      queryBool(ctx, "is_active"),
		StudentStatus: ctx.QueryParam("student_status"),
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	page, err := api.deps.ProfileSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings, bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying profiles")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api profileApi) me(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api profileApi) retrieve(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	p, err := api.deps.ProfileSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api profileApi) update(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data profile.UpdateProfile
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}

	p, err := api.deps.ProfileSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api profileApi) destroy(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.ProfileSvc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting profile")
	}
	return ctx.NoContent(http.StatusNoContent)
}
