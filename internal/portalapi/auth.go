package portalapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// AuthResponse covers the login/OTP family of responses.
type AuthResponse struct {
	Message    string          `json:"message"`
	Token      string          `json:"token,omitempty"`
	ResetToken string          `json:"resetToken,omitempty"`
	User       json.RawMessage `json:"user,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

type VerifyOTPRequest struct {
	Email   string `json:"email"`
	OTP     string `json:"otp"`
	Purpose string `json:"purpose,omitempty"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp,omitempty"`
	ResetToken  string `json:"resetToken,omitempty"`
	NewPassword string `json:"newPassword"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	return c.authCall(ctx, "login", "/login", req)
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	return c.authCall(ctx, "register", "/register", req)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (AuthResponse, error) {
	return c.authCall(ctx, "forgot_password", "/forgot-password", map[string]string{"email": email})
}

func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (AuthResponse, error) {
	return c.authCall(ctx, "verify_otp", "/verify-otp", req)
}

func (c *Client) ResendOTP(ctx context.Context, email string) (AuthResponse, error) {
	return c.authCall(ctx, "resend_otp", "/resend-otp", map[string]string{"email": email})
}

func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) (AuthResponse, error) {
	return c.authCall(ctx, "reset_password", "/reset-password", req)
}

func (c *Client) authCall(ctx context.Context, operation, path string, payload any) (AuthResponse, error) {
	var out AuthResponse
	if err := c.call(ctx, operation, http.MethodPost, path, jsonBody(payload), false, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, nil
}
