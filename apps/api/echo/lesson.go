package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
)

type lessonApi struct {
	*Server
}

func registerLessonAPI(g *echo.Group, s *Server) {
	api := lessonApi{s}

	lg := g.Group("/lessons")
	lg.GET("", api.query)
	lg.POST("", api.create, staffOnly)
	lg.POST("/bulk", api.bulkCreate, staffOnly)
	lg.DELETE("/bulk", api.bulkDelete, staffOnly)
	lg.GET("/:id", api.retrieve)
	lg.PUT("/:id", api.update, staffOnly)
	lg.DELETE("/:id", api.destroy, staffOnly)

	lg.GET("/:id/songs", api.listSongs)
	lg.POST("/:id/songs", api.addSong, staffOnly)
	lg.PUT("/:id/songs/:songId", api.updateSong, staffOnly)
	lg.DELETE("/:id/songs/:songId", api.removeSong, staffOnly)
}

func (api lessonApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var filter lesson.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	if err = filter.Clean(); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	page, err := api.deps.LessonSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings, bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying lessons")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api lessonApi) create(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.NewLesson
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	l, err := api.deps.LessonSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

// bulkCreate answers 400 when no lesson could be created, the per lesson errors are in the body.
func (api lessonApi) bulkCreate(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.BulkNewLessons
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	res, err := api.deps.LessonSvc.BulkCreate(ctx.Request().Context(), actor, api.validate, data.Lessons)
	if err != nil {
		return errors.Wrap(err, "creating lessons")
	}
	if res.Success == 0 {
		return ctx.JSON(http.StatusBadRequest, res)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api lessonApi) bulkDelete(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.BulkDeleteLessons
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	res, err := api.deps.LessonSvc.BulkDelete(ctx.Request().Context(), actor, data.LessonIDs)
	if err != nil {
		return errors.Wrap(err, "deleting lessons")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api lessonApi) retrieve(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	l, err := api.deps.LessonSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api lessonApi) update(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.UpdateLesson
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	l, err := api.deps.LessonSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api lessonApi) destroy(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.LessonSvc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Lesson songs

func (api lessonApi) listSongs(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	songs, err := api.deps.LessonSvc.ListSongs(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing lesson songs")
	}
	if songs == nil {
		songs = []lesson.LessonSong{}
	}
	return ctx.JSON(http.StatusOK, songs)
}

func (api lessonApi) addSong(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.AddLessonSong
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	ls, err := api.deps.LessonSvc.AddSong(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding lesson song")
	}
	return ctx.JSON(http.StatusCreated, ls)
}

func (api lessonApi) updateSong(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data lesson.UpdateLessonSong
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	ls, err := api.deps.LessonSvc.UpdateSongStatus(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("songId"), data)
	if err != nil {
		return errors.Wrap(err, "updating lesson song")
	}
	return ctx.JSON(http.StatusOK, ls)
}

func (api lessonApi) removeSong(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.LessonSvc.RemoveSong(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("songId")); err != nil {
		return errors.Wrap(err, "removing lesson song")
	}
	return ctx.NoContent(http.StatusNoContent)
}
