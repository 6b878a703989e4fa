package portalapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// RequirementRef is a document a stage or work order expects. The backend
// sends either {name, description, mandatory}, {id, title} or a bare string.
type RequirementRef struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Mandatory   bool   `json:"mandatory,omitempty"`
}

func (r *RequirementRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return err
		}
		*r = RequirementRef{Name: name}
		return nil
	}
	type plain RequirementRef
	var out plain
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return err
	}
	*r = RequirementRef(out)
	return nil
}

// DisplayName returns Name, falling back to Title for the {id, title} shape.
func (r RequirementRef) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return strings.TrimSpace(r.Title)
}

type UploadedDocument struct {
	ID           string     `json:"_id,omitempty"`
	DocumentName string     `json:"documentName"`
	FileName     string     `json:"fileName"`
	FileURL      string     `json:"fileUrl"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
}

type AdditionalDocument struct {
	DocumentName string `json:"documentName"`
	FileURL      string `json:"fileUrl"`
}

type StageProgress struct {
	ID                       string               `json:"_id"`
	StageID                  string               `json:"stageId"`
	StageName                string               `json:"stageName"`
	StageStatus              string               `json:"stageStatus"`
	RequiredDocuments        []RequirementRef     `json:"requiredDocuments"`
	AdditionalStageDocuments []AdditionalDocument `json:"additionalStageDocuments"`
	UploadedDocuments        []UploadedDocument   `json:"uploadedDocuments"`
}

type WorkOrder struct {
	ID        string           `json:"_id,omitempty"`
	Title     string           `json:"title,omitempty"`
	Documents []RequirementRef `json:"documents"`
}

// Certificate is a document the candidate uploaded earlier and can reuse.
type Certificate struct {
	ID           string `json:"_id"`
	FileName     string `json:"fileName"`
	FileURL      string `json:"fileUrl"`
	DocumentName string `json:"documentName,omitempty"`
}

// JobDetail is the authoritative application record all document views are built from.
type JobDetail struct {
	ID                         string             `json:"_id,omitempty"`
	JobTitle                   string             `json:"jobTitle,omitempty"`
	Status                     string             `json:"status,omitempty"`
	StageProgress              []StageProgress    `json:"stageProgress"`
	WorkOrder                  *WorkOrder         `json:"workOrder,omitempty"`
	WorkOrderUploadedDocuments []UploadedDocument `json:"workOrderUploadedDocuments"`
	Certificates               []Certificate      `json:"certificates"`
}

// Stage finds a stage-progress entry by its _id or stageId.
func (d JobDetail) Stage(scopeID string) (StageProgress, bool) {
	for _, sp := range d.StageProgress {
		if sp.ID == scopeID || (sp.StageID != "" && sp.StageID == scopeID) {
			return sp, true
		}
	}
	return StageProgress{}, false
}

// Certificate finds a certificate by _id.
func (d JobDetail) Certificate(id string) (Certificate, bool) {
	for _, c := range d.Certificates {
		if c.ID == id {
			return c, true
		}
	}
	return Certificate{}, false
}

// Result is the generic {message} acknowledgement returned by mutations.
type Result struct {
	Message string `json:"message"`
}

type AttritionRequest struct {
	ID           string     `json:"_id"`
	EmployeeID   string     `json:"employeeId,omitempty"`
	EmployeeName string     `json:"employeeName,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	LastWorkDay  string     `json:"lastWorkingDay,omitempty"`
	Status       string     `json:"status,omitempty"`
	Remarks      string     `json:"remarks,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}
