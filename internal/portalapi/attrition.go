package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// attritionList accepts a bare array or {data: [...]} / {requests: [...]}.
type attritionList []AttritionRequest

func (l *attritionList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []AttritionRequest
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var wrapped struct {
		Data     []AttritionRequest `json:"data"`
		Requests []AttritionRequest `json:"requests"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	if len(wrapped.Data) > 0 {
		*l = wrapped.Data
	} else {
		*l = wrapped.Requests
	}
	return nil
}

// ListAttrition returns attrition requests awaiting a decision.
func (c *Client) ListAttrition(ctx context.Context) ([]AttritionRequest, error) {
	var out attritionList
	if err := c.call(ctx, "list_attrition", http.MethodGet, "/attrition-requests", nil, true, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return []AttritionRequest{}, nil
	}
	return out, nil
}

// ApproveAttrition approves an attrition request.
func (c *Client) ApproveAttrition(ctx context.Context, id, remarks string) (Result, error) {
	return c.decideAttrition(ctx, "approve", id, remarks)
}

// RejectAttrition rejects an attrition request.
func (c *Client) RejectAttrition(ctx context.Context, id, remarks string) (Result, error) {
	return c.decideAttrition(ctx, "reject", id, remarks)
}

func (c *Client) decideAttrition(ctx context.Context, action, id, remarks string) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{}, fmt.Errorf("portal api %s attrition: id is required", action)
	}
	path := "/attrition-requests/" + url.PathEscape(id) + "/" + action
	var out Result
	err := c.call(ctx, action+"_attrition", http.MethodPost, path, jsonBody(map[string]string{"remarks": remarks}), false, &out)
	return out, err
}
