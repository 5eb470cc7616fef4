package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cervixai/screening/internal/domain/analysis"
	"github.com/cervixai/screening/internal/domain/diagnosis"
	"github.com/cervixai/screening/internal/domain/episode"
	"github.com/cervixai/screening/internal/domain/imaging"
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
	g := api.Group("/episodes")
	g.POST("", h.CreateEpisode)
	g.GET("/:id", h.GetEpisode)
	g.GET("/:id/history", h.GetHistory)
	g.GET("/:id/findings", h.ListFindings)
	g.GET("/:id/diagnosis", h.GetDiagnosis)
	g.POST("/:id/images", h.AttachImage)
	g.POST("/:id/analysis", h.RunAnalysis)
	g.POST("/:id/review", h.BeginReview)
	g.DELETE("/:id/review", h.ReleaseReview)
	g.POST("/:id/finalize", h.FinalizeDiagnosis)
	g.POST("/:id/reject", h.RejectDiagnosis)
	g.POST("/:id/discard", h.DiscardEpisode)

	api.GET("/patients/:id/episodes", h.ListEpisodes)
}

type createEpisodeRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Reason    string    `json:"reason"`
}

func (h *Handler) CreateEpisode(c echo.Context) error {
	var req createEpisodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	e, err := h.svc.CreateEpisode(c.Request().Context(), req.PatientID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEpisode(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEpisodes(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.GetEpisodeHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) ListFindings(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	findings, err := h.svc.ListFindings(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, findings)
}

func (h *Handler) GetDiagnosis(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDiagnosis(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type attachImageRequest struct {
	Modality         imaging.Modality `json:"modality"`
	StorageReference string           `json:"storage_reference"`
}

func (h *Handler) AttachImage(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	var req attachImageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	img, err := h.svc.AttachImage(c.Request().Context(), id, req.Modality, req.StorageReference)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, img)
}

func (h *Handler) RunAnalysis(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	report, err := h.svc.RunAnalysis(c.Request().Context(), id)
	if err != nil {
		// A partial failure still produced findings worth returning.
		if report != nil && report.Failed > 0 {
			return c.JSON(http.StatusAccepted, map[string]interface{}{
				"report": report,
				"error":  err.Error(),
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) BeginReview(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.BeginReview(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ReleaseReview(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	if err := h.svc.ReleaseReview(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type finalizeRequest struct {
	ClinicalNote   string      `json:"clinical_note"`
	SourceFindings []uuid.UUID `json:"source_findings"`
}

func (h *Handler) FinalizeDiagnosis(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.FinalizeDiagnosis(c.Request().Context(), id, req.ClinicalNote, req.SourceFindings)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectDiagnosis(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.RejectDiagnosis(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DiscardEpisode(c echo.Context) error {
	id, err := episodeID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := h.svc.DiscardEpisode(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func episodeID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid episode id")
	}
	return id, nil
}

// httpError maps domain errors onto HTTP status codes. Conflict-class errors
// (409) are safe to retry after re-reading state; 422 and 400 are not.
func httpError(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, diagnosis.ErrNotLockHolder):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())

	case errors.Is(err, episode.ErrNotFound),
		errors.Is(err, imaging.ErrNotFound),
		errors.Is(err, analysis.ErrNotFound),
		errors.Is(err, diagnosis.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, episode.ErrInvalidTransition),
		errors.Is(err, episode.ErrConcurrentModification),
		errors.Is(err, episode.ErrActiveEpisodeExists),
		errors.Is(err, diagnosis.ErrAlreadyUnderReview),
		errors.Is(err, diagnosis.ErrInvalidReviewState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, imaging.ErrInvalidModality),
		errors.Is(err, imaging.ErrMissingReference),
		errors.Is(err, diagnosis.ErrNoSourceFindings),
		errors.Is(err, diagnosis.ErrReasonRequired),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrNoImages):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, analysis.ErrAnalysisRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, analysis.ErrAnalysisUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
