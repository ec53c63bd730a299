package patient

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/pkg/pagination"
)

type patientRequest struct {
	FullName      string `json:"full_name"`
	DateOfBirth   string `json:"date_of_birth"`
	Gender        string `json:"gender"`
	ContactNumber string `json:"contact_number"`
	Email         string `json:"email"`
	Address       string `json:"address"`
}

func (r patientRequest) toPatient() (*Patient, error) {
	p := &Patient{
		FullName:      r.FullName,
		Gender:        r.Gender,
		ContactNumber: r.ContactNumber,
		Email:         r.Email,
		Address:       r.Address,
	}
	if dob := strings.TrimSpace(r.DateOfBirth); dob != "" {
		t, err := time.Parse(DateLayout, dob)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
		p.DateOfBirth = &t
	}
	return p, nil
}

// patientView is the JSON shape of a patient: the stored fields plus the
// formatted birth date and derived age.
type patientView struct {
	*Patient
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Age         *int   `json:"age,omitempty"`
}

func viewOf(p *Patient, now time.Time) patientView {
	v := patientView{Patient: p, Age: p.Age(now)}
	if p.DateOfBirth != nil {
		v.DateOfBirth = p.DateOfBirth.Format(DateLayout)
	}
	return v
}

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// RegisterRoutes mounts the registry on a group that already requires a
// session.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in, err := req.toPatient()
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Create(ctx, auth.PrincipalFromContext(ctx), in)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, viewOf(p, h.now()))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, viewOf(p, h.now()))
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Search: c.QueryParam("search"),
		Sort:   c.QueryParam("sort_by"),
		Desc:   strings.EqualFold(c.QueryParam("order"), "desc"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	ctx := c.Request().Context()
	patients, total, err := h.svc.List(ctx, auth.PrincipalFromContext(ctx), f)
	if err != nil {
		return auth.HTTPError(err)
	}
	now := h.now()
	views := make([]patientView, 0, len(patients))
	for _, p := range patients {
		views = append(views, viewOf(p, now))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in, err := req.toPatient()
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Update(ctx, auth.PrincipalFromContext(ctx), id, in)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, viewOf(p, h.now()))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return auth.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
