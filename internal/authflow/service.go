package authflow

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/telemetry"
)

// AuthAPI is the part of the backend the flows call.
type AuthAPI interface {
	Login(ctx context.Context, req portalapi.LoginRequest) (portalapi.AuthResponse, error)
	Register(ctx context.Context, req portalapi.RegisterRequest) (portalapi.AuthResponse, error)
	ForgotPassword(ctx context.Context, email string) (portalapi.AuthResponse, error)
	VerifyOTP(ctx context.Context, req portalapi.VerifyOTPRequest) (portalapi.AuthResponse, error)
	ResendOTP(ctx context.Context, email string) (portalapi.AuthResponse, error)
	ResetPassword(ctx context.Context, req portalapi.ResetPasswordRequest) (portalapi.AuthResponse, error)
}

type Service struct {
	API      AuthAPI
	Store    Store
	Now      func() time.Time
	Cooldown time.Duration
}

func NewService(api AuthAPI, store Store) *Service {
	return &Service{API: api, Store: store, Now: time.Now, Cooldown: ResendCooldown}
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Name            string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
}

// Login proxies credentials to the backend.
func (s *Service) Login(ctx context.Context, email, password string) (portalapi.AuthResponse, error) {
	email = normalizeEmail(email)
	if !validEmail(email) || password == "" {
		return portalapi.AuthResponse{}, ErrInvalidInput
	}
	return s.API.Login(ctx, portalapi.LoginRequest{Email: email, Password: password})
}

// StartRegistration creates the account and opens a flow waiting for the OTP.
func (s *Service) StartRegistration(ctx context.Context, in RegisterInput) (FlowView, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || !validEmail(in.Email) {
		return FlowView{}, ErrInvalidInput
	}
	if err := checkPassword(in.Password, in.ConfirmPassword); err != nil {
		return FlowView{}, err
	}
	res, err := s.API.Register(ctx, portalapi.RegisterRequest{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    strings.TrimSpace(in.Phone),
		Password: in.Password,
	})
	if err != nil {
		return FlowView{}, err
	}
	return s.open(ctx, KindRegistration, in.Email, res.Message)
}

// StartPasswordReset asks the backend to email an OTP and opens a flow.
func (s *Service) StartPasswordReset(ctx context.Context, email string) (FlowView, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return FlowView{}, ErrInvalidInput
	}
	res, err := s.API.ForgotPassword(ctx, email)
	if err != nil {
		return FlowView{}, err
	}
	return s.open(ctx, KindPasswordReset, email, res.Message)
}

// Verify checks the OTP. Registration completes here; a password reset
// moves on to the new-password step.
func (s *Service) Verify(ctx context.Context, flowID, otp string) (FlowView, error) {
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return FlowView{}, ErrInvalidInput
	}
	flow, err := s.step(ctx, flowID, StepOTPSent)
	if err != nil {
		return FlowView{}, err
	}
	purpose := "reset"
	if flow.Kind == KindRegistration {
		purpose = "register"
	}
	res, err := s.API.VerifyOTP(ctx, portalapi.VerifyOTPRequest{Email: flow.Email, OTP: otp, Purpose: purpose})
	if err != nil {
		return FlowView{}, err
	}

	if flow.Kind == KindRegistration {
		flow.Step = StepDone
		s.finish(ctx, flow)
		view := flow.view(res.Message)
		view.Token = res.Token
		view.User = res.User
		return view, nil
	}

	flow.Step = StepVerified
	flow.OTP = otp
	flow.ResetToken = res.ResetToken
	if err := s.Store.Save(ctx, flow); err != nil {
		return FlowView{}, err
	}
	return flow.view(res.Message), nil
}

// Resend requests a fresh OTP, at most once per cooldown window.
func (s *Service) Resend(ctx context.Context, flowID string) (FlowView, error) {
	flow, err := s.step(ctx, flowID, StepOTPSent)
	if err != nil {
		return FlowView{}, err
	}
	now := s.Now()
	if wait := s.resendDelay(flow, now); wait > 0 {
		return FlowView{}, &CooldownError{RetryAfter: wait}
	}
	res, err := s.API.ResendOTP(ctx, flow.Email)
	if err != nil {
		return FlowView{}, err
	}
	flow.LastSentAt = now
	if err := s.Store.Save(ctx, flow); err != nil {
		return FlowView{}, err
	}
	return flow.view(res.Message), nil
}

// Reset sets the new password once the OTP has been verified.
func (s *Service) Reset(ctx context.Context, flowID, password, confirm string) (FlowView, error) {
	if err := checkPassword(password, confirm); err != nil {
		return FlowView{}, err
	}
	flow, err := s.step(ctx, flowID, StepVerified)
	if err != nil {
		return FlowView{}, err
	}
	res, err := s.API.ResetPassword(ctx, portalapi.ResetPasswordRequest{
		Email:       flow.Email,
		OTP:         flow.OTP,
		ResetToken:  flow.ResetToken,
		NewPassword: password,
	})
	if err != nil {
		return FlowView{}, err
	}
	flow.Step = StepDone
	s.finish(ctx, flow)
	return flow.view(res.Message), nil
}

func (s *Service) open(ctx context.Context, kind, email, message string) (FlowView, error) {
	now := s.Now()
	flow := Flow{
		ID:         uuid.NewString(),
		Kind:       kind,
		Email:      email,
		Step:       StepOTPSent,
		LastSentAt: now,
		CreatedAt:  now,
	}
	if err := s.Store.Save(ctx, flow); err != nil {
		return FlowView{}, err
	}
	telemetry.Info("authflow.started", map[string]any{"flow_id": flow.ID, "kind": kind})
	return flow.view(message), nil
}

func (s *Service) step(ctx context.Context, flowID, want string) (Flow, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return Flow{}, ErrFlowNotFound
	}
	flow, err := s.Store.Get(ctx, flowID)
	if err != nil {
		return Flow{}, err
	}
	if flow.Step != want {
		return Flow{}, ErrInvalidStep
	}
	return flow, nil
}

func (s *Service) finish(ctx context.Context, flow Flow) {
	if err := s.Store.Delete(ctx, flow.ID); err != nil {
		telemetry.Warn("authflow.cleanup_failed", map[string]any{"flow_id": flow.ID, "error": err})
	}
	telemetry.Info("authflow.completed", map[string]any{"flow_id": flow.ID, "kind": flow.Kind})
}

// resendDelay replays the last send into a one-token bucket refilled every
// cooldown and returns how long until the next token.
func (s *Service) resendDelay(flow Flow, now time.Time) time.Duration {
	cooldown := s.Cooldown
	if cooldown <= 0 {
		cooldown = ResendCooldown
	}
	lim := rate.NewLimiter(rate.Every(cooldown), 1)
	lim.AllowN(flow.LastSentAt, 1)
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return cooldown
	}
	return r.DelayFrom(now)
}

func checkPassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// IsValidation reports whether err is a local input rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrPasswordMismatch) || errors.Is(err, ErrPasswordTooShort)
}
