package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

type apiKeyApi struct {
	*Server
}

func registerAPIKeyAPI(g, authed *echo.Group, s *Server) {
	api := apiKeyApi{s}

	kg := authed.Group("/api-keys")
	kg.GET("", api.list)
	kg.POST("", api.create)
	kg.DELETE("/:id", api.destroy)

	// authenticated by api key instead of JWT
	g.GET("/widget/admin", api.adminWidget, s.apiKeyMiddleware, roleMiddleware(profile.RoleAdmin))
}

func (api apiKeyApi) list(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	keys, err := api.deps.APIKeySvc.List(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "listing api keys")
	}
	return ctx.JSON(http.StatusOK, keys)
}

// create returns the plaintext key; it cannot be retrieved again.
func (api apiKeyApi) create(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data apikey.NewAPIKey
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	created, err := api.deps.APIKeySvc.Create(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating api key")
	}
	return ctx.JSON(http.StatusCreated, created)
}

func (api apiKeyApi) destroy(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.APIKeySvc.Delete(ctx.Request().Context(), p, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting api key")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api apiKeyApi) adminWidget(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	stats, err := api.deps.InsightsSvc.DashboardStats(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "computing widget stats")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"stats": stats,
		"user":  echo.Map{"id": p.ID, "email": p.Email, "name": p.FullName()},
	})
}
