package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cervixai/screening/internal/platform/auth"
	"github.com/cervixai/screening/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit-entries", auth.RequireRole("admin"))
	g.GET("", h.ListEntries)
	g.GET("/verify/:episodeID", h.VerifyChain)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)

	params := SearchParams{
		ActorID:   c.QueryParam("actor"),
		EventType: c.QueryParam("event_type"),
	}
	if raw := c.QueryParam("episode"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid episode id")
		}
		params.EpisodeID = &id
	}

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyChain(c echo.Context) error {
	id, err := uuid.Parse(c.Param("episodeID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid episode id")
	}

	if err := h.svc.Verify(c.Request().Context(), id); err != nil {
		if verr, ok := err.(*VerificationError); ok {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"intact":       false,
				"broken_entry": verr.EntryID,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"intact": true})
}
