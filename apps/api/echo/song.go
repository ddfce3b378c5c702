package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type songApi struct {
	*Server
}

func registerSongAPI(g *echo.Group, s *Server) {
	api := songApi{s}

	sg := g.Group("/songs")
	sg.GET("", api.query)
	sg.POST("", api.create, staffOnly)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update, staffOnly)
	sg.DELETE("/:id", api.destroy, staffOnly)
}

func (api songApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var filter song.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	page, err := api.deps.SongSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings, bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying songs")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api songApi) create(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data song.SongInput
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	s, err := api.deps.SongSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating song")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api songApi) retrieve(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	s, err := api.deps.SongSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting song")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api songApi) update(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data song.SongInput
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	s, err := api.deps.SongSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating song")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api songApi) destroy(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.SongSvc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting song")
	}
	return ctx.NoContent(http.StatusNoContent)
}
