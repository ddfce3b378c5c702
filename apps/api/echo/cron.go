package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type CronResponse struct {
	Success   bool        `json:"success"`
	Job       string      `json:"job"`
	Result    interface{} `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

type cronApi struct {
	*Server
}

func registerCronAPI(g *echo.Group, s *Server) {
	api := cronApi{s}

	cg := g.Group("/cron", cronMiddleware)
	cg.GET("", api.list)
	cg.GET("/:job", api.run)
	cg.POST("/:job", api.run)
}

func (api cronApi) list(ctx echo.Context) error {
	jobs := api.deps.Jobs.Jobs()
	out := make([]echo.Map, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, echo.Map{"name": job.Name, "schedule": job.Schedule})
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api cronApi) run(ctx echo.Context) error {
	name := ctx.Param("job")
	res, err := api.deps.Jobs.Run(ctx.Request().Context(), name)
	if err != nil {
		return errors.Wrap(err, "running job")
	}
	return ctx.JSON(http.StatusOK, CronResponse{
		Success:   true,
		Job:       name,
		Result:    res,
		Timestamp: time.Now().UTC(),
	})
}
