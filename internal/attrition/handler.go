package attrition

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/server/middleware"
	"portal-gateway/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches attrition routes; only admins and recruiters may use them.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/attrition", middleware.RequireRole("admin", "recruiter"))
	g.GET("", h.list)
	g.POST("/:id/approve", h.decide(DecisionApprove))
	g.POST("/:id/reject", h.decide(DecisionReject))
}

type decisionRequest struct {
	Remarks string `json:"remarks"`
}

func (h *Handler) list(c *gin.Context) {
	ctx := portalapi.WithToken(c.Request.Context(), middleware.AuthTokenFromContext(c))
	items, err := h.Svc.List(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"items": items})
}

func (h *Handler) decide(decision string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req decisionRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
				return
			}
		}
		ctx := portalapi.WithToken(c.Request.Context(), middleware.AuthTokenFromContext(c))
		res, err := h.Svc.Decide(ctx, middleware.UserIDFromContext(c), c.Param("id"), decision, req.Remarks)
		if err != nil {
			writeError(c, err)
			return
		}
		respond.OK(c, res)
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRemarksRequired), errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, portalapi.ResponseStatus(err), "upstream_error", portalapi.MessageOr(err, "Unable to process the attrition request."), nil)
	}
}
