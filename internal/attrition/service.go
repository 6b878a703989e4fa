// Package attrition lets recruiters review employee attrition requests.
package attrition

import (
	"context"
	"errors"
	"strings"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/telemetry"
)

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrRemarksRequired = errors.New("remarks are required to reject a request")
)

// API is the backend surface for attrition requests.
type API interface {
	ListAttrition(ctx context.Context) ([]portalapi.AttritionRequest, error)
	ApproveAttrition(ctx context.Context, id, remarks string) (portalapi.Result, error)
	RejectAttrition(ctx context.Context, id, remarks string) (portalapi.Result, error)
}

type Service struct {
	API API
}

func NewService(api API) *Service {
	return &Service{API: api}
}

// List returns requests still awaiting a decision.
func (s *Service) List(ctx context.Context) ([]portalapi.AttritionRequest, error) {
	items, err := s.API.ListAttrition(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]portalapi.AttritionRequest, 0, len(items))
	for _, item := range items {
		switch strings.ToLower(strings.TrimSpace(item.Status)) {
		case "", "pending":
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// Decide approves or rejects one request. Rejections must carry remarks.
func (s *Service) Decide(ctx context.Context, reviewerID, id, decision, remarks string) (portalapi.Result, error) {
	id = strings.TrimSpace(id)
	remarks = strings.TrimSpace(remarks)
	if id == "" {
		return portalapi.Result{}, ErrInvalidInput
	}

	var (
		res portalapi.Result
		err error
	)
	switch decision {
	case DecisionApprove:
		res, err = s.API.ApproveAttrition(ctx, id, remarks)
	case DecisionReject:
		if remarks == "" {
			return portalapi.Result{}, ErrRemarksRequired
		}
		res, err = s.API.RejectAttrition(ctx, id, remarks)
	default:
		return portalapi.Result{}, ErrInvalidInput
	}
	if err != nil {
		return portalapi.Result{}, err
	}
	telemetry.Info("attrition.decided", map[string]any{
		"attrition_id": id,
		"decision":     decision,
		"reviewer_id":  reviewerID,
	})
	return res, nil
}
