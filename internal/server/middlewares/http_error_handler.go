package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HTTPErrorHandler is a middleware that formats rendered errors.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var herr *echo.HTTPError
	var cserr *cserror.Error

	switch {
	case errors.As(err, &herr):
		logrus.WithError(herr.Internal).WithField("status", herr.Code).Debug("http error")
		_ = c.JSON(herr.Code, echo.Map{
			"error": echo.Map{
				"message": herr.Message,
			},
		})
	case errors.As(err, &cserr):
		status := cserror.StatusCode(cserr)
		if status < 500 {
			_ = c.JSON(status, cserr)
			return
		}

		internal(err, c)
	default:
		internal(err, c)
	}
}

func internal(err error, c echo.Context) {
	id := uuid.Must(uuid.NewV4()).String()
	logrus.WithError(err).WithFields(logrus.Fields{
		"error_id": id,
		"method":   c.Request().Method,
		"uri":      c.Request().RequestURI,
	}).Error("unexpected error")

	_ = c.JSON(http.StatusInternalServerError, echo.Map{
		"error": echo.Map{
			"message": fmt.Sprintf("Unexpected error (id: %s)", id),
		},
	})
}
