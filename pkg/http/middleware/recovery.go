package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "FinScreen/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover converts handler panics into a generic 500 response so one bad
// request cannot take the server down. The panic value and stack go to the
// log; the client only sees the envelope.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				if l != nil {
					l.Error("http handler panic",
						applogger.String("method", c.Request().Method),
						applogger.String("uri", c.Request().RequestURI),
						applogger.Error(err),
						applogger.String("stack", string(debug.Stack())),
					)
				}
				_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": "Internal Server Error",
				})
			}()
			return next(c)
		}
	}
}
