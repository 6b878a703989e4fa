package portalapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GetJobDetail fetches the authoritative application record for a job.
func (c *Client) GetJobDetail(ctx context.Context, jobID string) (JobDetail, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobDetail{}, fmt.Errorf("portal api get job detail: job id is required")
	}
	var out JobDetail
	path := "/jobs/" + url.PathEscape(jobID) + "/application"
	if err := c.call(ctx, "get_job_detail", http.MethodGet, path, nil, true, &out); err != nil {
		return JobDetail{}, err
	}
	return out, nil
}
