// Package stagedocs holds the per-job document workflow: reconciliation of
// required against uploaded documents, the pending-state store, and the
// submission protocol that turns pending state into backend calls.
package stagedocs

import (
	"strings"
	"time"

	"portal-gateway/internal/portalapi"
)

// WorkOrderScope is the scope id used for the job's work-order documents.
const WorkOrderScope = "workOrder"

// MaxFileSize is the exclusive upper bound for a single local file.
const MaxFileSize = 5 << 20

type Requirement struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mandatory   bool   `json:"mandatory"`
}

type UploadedDocument struct {
	DocumentName string     `json:"documentName"`
	FileName     string     `json:"fileName"`
	FileURL      string     `json:"fileUrl"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
}

type AdditionalDocument struct {
	DocumentName string `json:"documentName"`
	FileURL      string `json:"fileUrl"`
}

// PendingLocalFile is a file picked for a slot but not yet submitted.
// Its bytes live behind PreviewKey until submission or removal.
type PendingLocalFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	DocumentType string    `json:"documentType"`
	LastModified time.Time `json:"lastModified"`
	PageCount    int       `json:"pageCount,omitempty"`
	PreviewKey   string    `json:"previewKey"`
}

// SelectedExistingFile reuses a certificate for a slot without re-uploading bytes.
type SelectedExistingFile struct {
	ID           string `json:"_id"`
	FileName     string `json:"fileName"`
	FileURL      string `json:"fileUrl"`
	DocumentName string `json:"documentName"`
	IsReplaced   bool   `json:"isReplaced,omitempty"`
}

// EditReplacement is a staged replacement for an already submitted document.
type EditReplacement struct {
	IsExisting bool                  `json:"isExisting"`
	Local      *PendingLocalFile     `json:"local,omitempty"`
	Existing   *SelectedExistingFile `json:"existing,omitempty"`
}

// LocalUpload is a file handed in by the candidate.
type LocalUpload struct {
	Name         string
	Type         string
	Size         int64
	LastModified time.Time
	PageCount    int
	Data         []byte
}

// Candidate is either a local file or a certificate proposed as a replacement.
type Candidate struct {
	Local       *LocalUpload
	Certificate *portalapi.Certificate
}

// IsExisting reports whether the candidate reuses a certificate.
func (c Candidate) IsExisting() bool {
	return c.Local == nil
}

// StageDocuments is the input to reconciliation for one scope.
type StageDocuments struct {
	Required   []Requirement
	Uploaded   []UploadedDocument
	Additional []AdditionalDocument
}

// FromStage converts a backend stage-progress entry.
func FromStage(sp portalapi.StageProgress) StageDocuments {
	return StageDocuments{
		Required:   requirementsFrom(sp.RequiredDocuments),
		Uploaded:   uploadedFrom(sp.UploadedDocuments),
		Additional: additionalFrom(sp.AdditionalStageDocuments),
	}
}

// FromWorkOrder converts the job's work-order documents. A missing work order yields no requirements.
func FromWorkOrder(detail portalapi.JobDetail) StageDocuments {
	var refs []portalapi.RequirementRef
	if detail.WorkOrder != nil {
		refs = detail.WorkOrder.Documents
	}
	return StageDocuments{
		Required: requirementsFrom(refs),
		Uploaded: uploadedFrom(detail.WorkOrderUploadedDocuments),
	}
}

func requirementsFrom(refs []portalapi.RequirementRef) []Requirement {
	out := make([]Requirement, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Requirement{
			Name:        ref.DisplayName(),
			Description: ref.Description,
			Mandatory:   ref.Mandatory,
		})
	}
	return out
}

func uploadedFrom(docs []portalapi.UploadedDocument) []UploadedDocument {
	out := make([]UploadedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, UploadedDocument{
			DocumentName: d.DocumentName,
			FileName:     d.FileName,
			FileURL:      d.FileURL,
			UploadedAt:   d.UploadedAt,
		})
	}
	return out
}

func additionalFrom(docs []portalapi.AdditionalDocument) []AdditionalDocument {
	out := make([]AdditionalDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, AdditionalDocument{DocumentName: d.DocumentName, FileURL: d.FileURL})
	}
	return out
}

// IsLocked reports whether a stage status makes its documents immutable.
func IsLocked(stageStatus string) bool {
	return strings.EqualFold(strings.TrimSpace(stageStatus), "approved")
}
