package authflow

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/server/respond"
)

// Handler exposes the login, registration and password-reset flows.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches auth routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/register", h.register)
	auth.POST("/password-reset", h.startReset)
	auth.POST("/flows/:flowId/verify", h.verify)
	auth.POST("/flows/:flowId/resend", h.resend)
	auth.POST("/flows/:flowId/reset", h.reset)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

type passwordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err, "Login failed. Please check your credentials.")
		return
	}
	respond.OK(c, res)
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	view, err := h.Svc.StartRegistration(c.Request.Context(), RegisterInput(req))
	if err != nil {
		writeError(c, err, "Registration failed. Please try again.")
		return
	}
	respond.JSON(c, http.StatusCreated, view)
}

func (h *Handler) startReset(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}
	view, err := h.Svc.StartPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, err, "Unable to send the reset code. Please try again.")
		return
	}
	respond.JSON(c, http.StatusCreated, view)
}

func (h *Handler) verify(c *gin.Context) {
	var req otpRequest
	if !bind(c, &req) {
		return
	}
	view, err := h.Svc.Verify(c.Request.Context(), c.Param("flowId"), req.OTP)
	if err != nil {
		writeError(c, err, "Invalid or expired code.")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) resend(c *gin.Context) {
	view, err := h.Svc.Resend(c.Request.Context(), c.Param("flowId"))
	if err != nil {
		writeError(c, err, "Unable to resend the code. Please try again.")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) reset(c *gin.Context) {
	var req passwordRequest
	if !bind(c, &req) {
		return
	}
	view, err := h.Svc.Reset(c.Request.Context(), c.Param("flowId"), req.Password, req.ConfirmPassword)
	if err != nil {
		writeError(c, err, "Password reset failed. Please try again.")
		return
	}
	respond.OK(c, view)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return false
	}
	return true
}

func writeError(c *gin.Context, err error, fallback string) {
	var cooldown *CooldownError
	switch {
	case errors.As(err, &cooldown):
		secs := int(math.Max(1, cooldown.RetryAfter.Round(time.Second).Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		respond.Error(c, http.StatusTooManyRequests, "resend_too_soon", err.Error(), gin.H{"retryAfterSeconds": secs})
	case IsValidation(err):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrFlowNotFound):
		respond.Error(c, http.StatusNotFound, "flow_not_found", err.Error(), nil)
	case errors.Is(err, ErrInvalidStep):
		respond.Error(c, http.StatusConflict, "invalid_step", err.Error(), nil)
	default:
		respond.Error(c, portalapi.ResponseStatus(err), "upstream_error", portalapi.MessageOr(err, fallback), nil)
	}
}
