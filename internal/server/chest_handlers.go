package server

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/internal/server/serializer"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/pkg/errors"
)

// maxBodySize bounds the size of an event payload.
const maxBodySize = 4 << 20

type chest struct {
	ingest *service.Ingest
	query  *service.Query
}

type listParams struct {
	World string `query:"world"`
	Limit int    `query:"limit"`
}

// Event applies one container event.
func (h *chest) Event(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	event, err := service.DecodeEvent(body)
	if err != nil {
		return err
	}

	result, err := h.ingest.Apply(c.Request().Context(), currentTenant(c), event)
	if err != nil {
		return err
	}

	status := service.OutcomeApplied
	if !result.Applied {
		status = service.OutcomeStale
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":  status,
		"chest":   serializer.Chest(result.Snapshot),
		"summary": serializer.Summary(result.Summary),
	})
}

// Batch applies up to service.MaxBatchSize container events.
func (h *chest) Batch(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	events, errs, err := service.DecodeBatch(body)
	if err != nil {
		return err
	}

	outcomes, err := h.ingest.ApplyBatch(c.Request().Context(), currentTenant(c), events, errs)
	if err != nil {
		return err
	}

	var applied int
	for _, outcome := range outcomes {
		if outcome.Status == service.OutcomeApplied {
			applied++
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"received": len(events),
		"applied":  applied,
		"results":  outcomes,
	})
}

// List returns all the chests of the structure.
func (h *chest) List(c echo.Context) error {
	chests, summary, err := h.query.List(currentTenant(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"chests":  serializer.Chests(chests),
		"summary": serializer.Summary(summary),
	})
}

// Recent returns the most recently seen chests of the structure.
func (h *chest) Recent(c echo.Context) error {
	var params listParams
	if err := c.Bind(&params); err != nil {
		return err
	}

	chests, err := h.query.Recent(currentTenant(c), params.Limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"chests": serializer.Chests(chests),
	})
}

// Get returns the chest at the given coordinate.
func (h *chest) Get(c echo.Context) error {
	coordinate, err := coordinate(c)
	if err != nil {
		return err
	}

	snapshot, err := h.query.Get(currentTenant(c), coordinate)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, serializer.Chest(snapshot))
}

// History returns the audit trail of the chest at the given coordinate.
func (h *chest) History(c echo.Context) error {
	var params listParams
	if err := c.Bind(&params); err != nil {
		return err
	}

	coordinate, err := coordinate(c)
	if err != nil {
		return err
	}

	entries, err := h.query.History(currentTenant(c), coordinate, params.Limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"coordinate": coordinate,
		"history":    serializer.History(entries),
	})
}

func coordinate(c echo.Context) (model.Coordinate, error) {
	coordinate, err := model.ParseCoordinate(c.QueryParam("world"), c.Param("x"), c.Param("y"), c.Param("z"))
	if err != nil {
		return coordinate, cserror.BadRequest("Invalid coordinate.")
	}
	return coordinate, nil
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "could not read body")
	}

	switch {
	case len(body) == 0:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Request body can't be empty")
	case len(body) > maxBodySize:
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large")
	}
	return body, nil
}
