package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/store"
	"github.com/i474232898/weather-etl/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, sched *scheduler.Scheduler, records weather.Store) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"runs": sched.History().List(),
		})
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		run, ok := sched.History().Get(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "run not found")
		}
		return c.JSON(run)
	})

	v1.Post("/runs", func(c *fiber.Ctx) error {
		q := triggerQuery{DS: c.Query("ds")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "ds must be a date in YYYY-MM-DD format")
		}

		ds := sched.Today()
		if q.DS != "" {
			ds = weather.Date(q.DS)
		}
		if ds > sched.Today() {
			return fiber.NewError(fiber.StatusBadRequest, "ds must not be after today")
		}

		run, err := sched.TriggerAsync(ds, scheduler.TriggerManual)
		if err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start run")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run": run})
	})

	v1.Get("/weather/:date", func(c *fiber.Ctx) error {
		ds, err := weather.ParseDate(c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rec, err := records.Get(c.UserContext(), ds)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather record for requested date")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read weather record")
		}
		return c.JSON(rec)
	})

	v1.Get("/weather", func(c *fiber.Ctx) error {
		q := rangeQuery{From: c.Query("from"), To: c.Query("to")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "from and to must be dates in YYYY-MM-DD format")
		}
		if q.From > q.To {
			return fiber.NewError(fiber.StatusBadRequest, "from must not be after to")
		}

		recs, err := records.Range(c.UserContext(), weather.Date(q.From), weather.Date(q.To))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather records for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read weather records")
		}

		return c.JSON(fiber.Map{
			"from":    q.From,
			"to":      q.To,
			"records": recs,
		})
	})
}

// triggerQuery holds query parameters for starting a run; ds defaults to today.
type triggerQuery struct {
	DS string `validate:"omitempty,datetime=2006-01-02"`
}

// rangeQuery holds query parameters for the range endpoint.
type rangeQuery struct {
	From string `validate:"required,datetime=2006-01-02"`
	To   string `validate:"required,datetime=2006-01-02"`
}
