package middlewares

import (
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/chestsync/internal/cserror"
)

// Payloads are decoded by the handlers, the binder only fills path and query parameters.
type binder struct {
	echo.DefaultBinder
}

// NewBinder returns a binder reporting malformed parameters as API errors.
func NewBinder() echo.Binder {
	return &binder{}
}

// Bind implements the echo.Bind interface.
func (b *binder) Bind(i interface{}, c echo.Context) error {
	if err := b.BindPathParams(c, i); err != nil {
		return cserror.BadRequest("Invalid path parameters.")
	}
	if err := b.BindQueryParams(c, i); err != nil {
		return cserror.BadRequest("Invalid query parameters.")
	}
	return nil
}
