// handlers_catalog.go - Summarization algorithm and language catalogs
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleGetAlgorithms lists the summarization algorithms clients may select.
func (h *Handler) HandleGetAlgorithms(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"algorithms": h.catalog.Algorithms,
	})
}

// HandleGetLanguages lists the supported summary languages.
func (h *Handler) HandleGetLanguages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"languages": h.catalog.Languages,
	})
}
