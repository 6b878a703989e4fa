package authflow

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"portal-gateway/internal/portalapi"
)

type fakeAPI struct {
	verified  []portalapi.VerifyOTPRequest
	resent    []string
	resets    []portalapi.ResetPasswordRequest
	registers []portalapi.RegisterRequest
	verifyErr error
}

func (f *fakeAPI) Login(ctx context.Context, req portalapi.LoginRequest) (portalapi.AuthResponse, error) {
	if req.Password != "correct-horse" {
		return portalapi.AuthResponse{}, &portalapi.APIError{Operation: "login", Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	}
	return portalapi.AuthResponse{Message: "ok", Token: "jwt-token"}, nil
}

func (f *fakeAPI) Register(ctx context.Context, req portalapi.RegisterRequest) (portalapi.AuthResponse, error) {
	f.registers = append(f.registers, req)
	return portalapi.AuthResponse{Message: "OTP sent to your email"}, nil
}

func (f *fakeAPI) ForgotPassword(ctx context.Context, email string) (portalapi.AuthResponse, error) {
	return portalapi.AuthResponse{Message: "OTP sent to your email"}, nil
}

func (f *fakeAPI) VerifyOTP(ctx context.Context, req portalapi.VerifyOTPRequest) (portalapi.AuthResponse, error) {
	f.verified = append(f.verified, req)
	if f.verifyErr != nil {
		return portalapi.AuthResponse{}, f.verifyErr
	}
	return portalapi.AuthResponse{Message: "verified", Token: "jwt-token", ResetToken: "reset-1"}, nil
}

func (f *fakeAPI) ResendOTP(ctx context.Context, email string) (portalapi.AuthResponse, error) {
	f.resent = append(f.resent, email)
	return portalapi.AuthResponse{Message: "OTP resent"}, nil
}

func (f *fakeAPI) ResetPassword(ctx context.Context, req portalapi.ResetPasswordRequest) (portalapi.AuthResponse, error) {
	f.resets = append(f.resets, req)
	return portalapi.AuthResponse{Message: "Password updated"}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService() (*Service, *fakeAPI, *clock) {
	api := &fakeAPI{}
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(FlowTTL)
	store.now = clk.now
	svc := NewService(api, store)
	svc.Now = clk.now
	return svc, api, clk
}

func TestPasswordResetFlow(t *testing.T) {
	svc, api, _ := newTestService()
	ctx := context.Background()

	view, err := svc.StartPasswordReset(ctx, "  Candidate@Example.com ")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.Step != StepOTPSent || view.Kind != KindPasswordReset {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, err := svc.Reset(ctx, view.FlowID, "new-password", "new-password"); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("reset before verify: expected ErrInvalidStep, got %v", err)
	}

	verified, err := svc.Verify(ctx, view.FlowID, "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Step != StepVerified {
		t.Fatalf("expected verified step, got %s", verified.Step)
	}
	if api.verified[0].Email != "candidate@example.com" || api.verified[0].Purpose != "reset" {
		t.Fatalf("unexpected verify request %+v", api.verified[0])
	}

	if _, err := svc.Reset(ctx, view.FlowID, "new-password", "other-password"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if _, err := svc.Reset(ctx, view.FlowID, "short", "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	done, err := svc.Reset(ctx, view.FlowID, "new-password", "new-password")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if done.Step != StepDone || done.Message != "Password updated" {
		t.Fatalf("unexpected done view %+v", done)
	}
	if len(api.resets) != 1 || api.resets[0].OTP != "123456" || api.resets[0].ResetToken != "reset-1" {
		t.Fatalf("unexpected reset request %+v", api.resets)
	}
	if _, err := svc.Verify(ctx, view.FlowID, "123456"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("completed flow should be gone, got %v", err)
	}
}

func TestRegistrationFlow(t *testing.T) {
	svc, api, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.StartRegistration(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1", ConfirmPassword: "password2"}); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if _, err := svc.StartRegistration(ctx, RegisterInput{Name: "A", Email: "not-an-email", Password: "password1", ConfirmPassword: "password1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	view, err := svc.StartRegistration(ctx, RegisterInput{Name: " Asha ", Email: "asha@example.com", Password: "password1", ConfirmPassword: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(api.registers) != 1 || api.registers[0].Name != "Asha" {
		t.Fatalf("unexpected register call %+v", api.registers)
	}

	done, err := svc.Verify(ctx, view.FlowID, "654321")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.Step != StepDone || done.Token != "jwt-token" {
		t.Fatalf("unexpected view %+v", done)
	}
	if api.verified[0].Purpose != "register" {
		t.Fatalf("expected register purpose")
	}
}

func TestVerifyFailureKeepsFlow(t *testing.T) {
	svc, api, _ := newTestService()
	ctx := context.Background()
	view, _ := svc.StartPasswordReset(ctx, "a@example.com")

	api.verifyErr = &portalapi.APIError{Operation: "verify_otp", Status: http.StatusBadRequest, Message: "Invalid OTP"}
	if _, err := svc.Verify(ctx, view.FlowID, "000000"); portalapi.MessageOf(err) != "Invalid OTP" {
		t.Fatalf("expected backend message, got %v", err)
	}
	api.verifyErr = nil
	if _, err := svc.Verify(ctx, view.FlowID, "123456"); err != nil {
		t.Fatalf("retry verify: %v", err)
	}
}

func TestResendCooldown(t *testing.T) {
	svc, api, clk := newTestService()
	ctx := context.Background()
	view, _ := svc.StartPasswordReset(ctx, "a@example.com")

	clk.t = clk.t.Add(10 * time.Second)
	_, err := svc.Resend(ctx, view.FlowID)
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) || !errors.Is(err, ErrResendTooSoon) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if cooldown.RetryAfter < 19*time.Second || cooldown.RetryAfter > 21*time.Second {
		t.Fatalf("expected 20s wait, got %s", cooldown.RetryAfter)
	}

	clk.t = clk.t.Add(20 * time.Second)
	if _, err := svc.Resend(ctx, view.FlowID); err != nil {
		t.Fatalf("resend after cooldown: %v", err)
	}
	if len(api.resent) != 1 {
		t.Fatalf("expected one resend call, got %d", len(api.resent))
	}

	clk.t = clk.t.Add(time.Second)
	if _, err := svc.Resend(ctx, view.FlowID); !errors.Is(err, ErrResendTooSoon) {
		t.Fatalf("second resend must wait again, got %v", err)
	}
}

func TestResendAfterVerifyIsInvalidStep(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()
	view, _ := svc.StartPasswordReset(ctx, "a@example.com")
	if _, err := svc.Verify(ctx, view.FlowID, "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	clk.t = clk.t.Add(time.Minute)
	if _, err := svc.Resend(ctx, view.FlowID); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestFlowExpires(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()
	view, _ := svc.StartPasswordReset(ctx, "a@example.com")
	clk.t = clk.t.Add(FlowTTL + time.Second)
	if _, err := svc.Verify(ctx, view.FlowID, "123456"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Login(ctx, "", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	res, err := svc.Login(ctx, "A@Example.com", "correct-horse")
	if err != nil || res.Token != "jwt-token" {
		t.Fatalf("unexpected login result %+v %v", res, err)
	}
	if _, err := svc.Login(ctx, "a@example.com", "wrong"); portalapi.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected upstream 401, got %v", err)
	}
}
