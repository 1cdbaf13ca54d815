package handlers

import (
	"io"
	"net/http"

	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/upstream"
	"github.com/labstack/echo/v4"
)

// Audit forwards npm's vulnerability-audit endpoints straight through
// to upstream (spec.md §6: "Audit (passthrough)").
type Audit struct {
	upstream *upstream.Client
}

func NewAudit(up *upstream.Client) *Audit {
	return &Audit{upstream: up}
}

// Bulk serves both POST /registry/-/npm/v1/security/advisories/bulk
// and POST /registry/-/npm/v1/security/audits/quick.
func (a *Audit) Bulk(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondErr(c, regerr.Validation("read audit request body: %v", err))
	}
	result, err := a.upstream.AuditBulk(c.Request().Context(), body)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Blob(http.StatusOK, "application/json", result)
}
