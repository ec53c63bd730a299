package accesslog

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/pkg/pagination"
)

// Lister reads a patient's access trail.
type Lister interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error)
}

// Gate decides whether p may read the trail of patientID. It returns the
// same errors as the access engine so auth.HTTPError can map them.
type Gate func(ctx context.Context, p *auth.Principal, patientID uuid.UUID) error

type Handler struct {
	logs Lister
	gate Gate
}

func NewHandler(logs Lister, gate Gate) *Handler {
	return &Handler{logs: logs, gate: gate}
}

// RegisterRoutes mounts the trail endpoint on a group that already
// requires a session.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/access-log", h.ListByPatient)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	ctx := c.Request().Context()
	if err := h.gate(ctx, auth.PrincipalFromContext(ctx), patientID); err != nil {
		return auth.HTTPError(err)
	}

	pg := pagination.FromContext(c)
	records, total, err := h.logs.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return auth.HTTPError(auth.Unavailable("list access log", err))
	}
	if records == nil {
		records = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}
