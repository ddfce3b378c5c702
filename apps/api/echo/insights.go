package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type insightsApi struct {
	*Server
}

func registerInsightsAPI(g *echo.Group, s *Server) {
	api := insightsApi{s}

	g.GET("/dashboard/stats", api.dashboardStats)
	g.GET("/students/at-risk", api.atRiskStudents, staffOnly)
	g.GET("/students/:id/progress", api.studentProgress, staffOnly)
	g.POST("/students/:id/progress/email", api.emailStudentProgress, staffOnly)
}

func (api insightsApi) dashboardStats(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	stats, err := api.deps.InsightsSvc.DashboardStats(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "computing dashboard stats")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"role": p.Role(), "stats": stats})
}

func (api insightsApi) atRiskStudents(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	students, err := api.deps.InsightsSvc.AtRiskStudents(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "listing at-risk students")
	}
	return ctx.JSON(http.StatusOK, students)
}

type progressSummary struct {
	StudentID   string `json:"student_id"`
	Filename    string `json:"filename"`
	Lessons     int    `json:"lessons"`
	Assignments int    `json:"assignments"`
	Mastered    int    `json:"mastered"`
}

// studentProgress downloads the progress CSV of a student.
func (api insightsApi) studentProgress(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	pe, err := api.deps.ExportSvc.StudentProgress(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "exporting student progress")
	}
	content, err := pe.CSV()
	if err != nil {
		return errors.Wrap(err, "writing csv")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", pe.Filename()))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", content)
}

// emailStudentProgress mails the progress CSV to the caller.
func (api insightsApi) emailStudentProgress(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	pe, err := api.deps.ExportSvc.EmailStudentProgress(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "emailing student progress")
	}
	return ctx.JSON(http.StatusOK, progressSummary{
		StudentID:   pe.Student.ID,
		Filename:    pe.Filename(),
		Lessons:     len(pe.Lessons),
		Assignments: len(pe.Assignments),
		Mastered:    pe.Mastered,
	})
}
