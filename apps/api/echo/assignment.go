package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
)

type assignmentApi struct {
	*Server
}

func registerAssignmentAPI(g *echo.Group, s *Server) {
	api := assignmentApi{s}

	ag := g.Group("/assignments")
	ag.GET("", api.query)
	ag.POST("", api.create, staffOnly)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update) // students may change the status of their own
	ag.DELETE("/:id", api.destroy, staffOnly)

	tg := g.Group("/assignment-templates", staffOnly)
	tg.GET("", api.listTemplates)
	tg.POST("", api.createTemplate)
	tg.GET("/:id", api.retrieveTemplate)
	tg.DELETE("/:id", api.destroyTemplate)
	tg.POST("/:id/assign", api.assign)
}

func (api assignmentApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var filter assignment.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	page, err := api.deps.AssignmentSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings, bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api assignmentApi) create(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data assignment.NewAssignment
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	a, err := api.deps.AssignmentSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api assignmentApi) retrieve(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	a, err := api.deps.AssignmentSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api assignmentApi) update(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data assignment.UpdateAssignment
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	a, err := api.deps.AssignmentSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api assignmentApi) destroy(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.AssignmentSvc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Templates

func (api assignmentApi) listTemplates(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	templates, err := api.deps.AssignmentSvc.ListTemplates(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing templates")
	}
	if templates == nil {
		templates = []assignment.Template{}
	}
	return ctx.JSON(http.StatusOK, templates)
}

func (api assignmentApi) createTemplate(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data assignment.NewTemplate
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	t, err := api.deps.AssignmentSvc.CreateTemplate(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api assignmentApi) retrieveTemplate(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	t, err := api.deps.AssignmentSvc.GetTemplate(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting template")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api assignmentApi) destroyTemplate(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.AssignmentSvc.DeleteTemplate(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting template")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api assignmentApi) assign(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data assignment.AssignTemplate
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	a, err := api.deps.AssignmentSvc.Assign(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "assigning template")
	}
	return ctx.JSON(http.StatusCreated, a)
}
