package api

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/modelcfg/internal/engineconfig"
	"github.com/samcharles93/modelcfg/internal/modelconfig"
)

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeProviderError maps snapshot lookup failures onto HTTP errors.
func writeProviderError(c *echo.Context, err error) error {
	var invalid invalidRequestError
	switch {
	case errors.As(err, &invalid):
		return writeBadRequest(c, invalid.msg, invalid.param)
	case errors.Is(err, ErrEngineNotFound), errors.Is(err, fs.ErrNotExist):
		return writeNotFound(c, err.Error())
	case errors.Is(err, engineconfig.ErrInvalidEngineConfig), errors.Is(err, modelconfig.ErrInvalidConfiguration):
		return writeError(c, http.StatusUnprocessableEntity, "invalid_engine_error", err.Error(), "", "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

// intParam reads an optional positive integer query parameter.
func intParam(c *echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, newInvalidParam(name, name+" must be a positive integer")
	}
	return n, nil
}
