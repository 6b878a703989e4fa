// Package authflow drives the multi-step registration and password-reset
// flows of the platform, keeping the step state server side.
package authflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	KindRegistration  = "registration"
	KindPasswordReset = "password_reset"
)

const (
	StepOTPSent  = "otp_sent"
	StepVerified = "verified"
	StepDone     = "done"
)

const (
	MinPasswordLength = 8
	ResendCooldown    = 30 * time.Second
	FlowTTL           = 15 * time.Minute
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrFlowNotFound     = errors.New("flow not found or expired")
	ErrInvalidStep      = errors.New("flow is not at this step")
	ErrResendTooSoon    = errors.New("otp was sent recently")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// CooldownError reports how long until another OTP may be requested.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrResendTooSoon, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error {
	return ErrResendTooSoon
}

// Flow is the persisted state of one registration or password-reset flow.
type Flow struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Email      string    `json:"email"`
	Step       string    `json:"step"`
	OTP        string    `json:"otp,omitempty"`
	ResetToken string    `json:"resetToken,omitempty"`
	LastSentAt time.Time `json:"lastSentAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FlowView is what clients see of a flow.
type FlowView struct {
	FlowID  string          `json:"flowId"`
	Kind    string          `json:"kind"`
	Step    string          `json:"step"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
}

func (f Flow) view(message string) FlowView {
	return FlowView{FlowID: f.ID, Kind: f.Kind, Step: f.Step, Message: message}
}
