package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

// UploadFile is one local file part. Open is called once per attempt.
type UploadFile struct {
	FileName     string
	DocumentName string
	ContentType  string
	Size         int64
	Open         func() (io.ReadCloser, error)
}

// FileMetadata describes one uploaded part in filesMetadata.
type FileMetadata struct {
	FileName     string `json:"fileName"`
	DocumentName string `json:"documentName"`
	FileSize     int64  `json:"fileSize"`
	FileType     string `json:"fileType"`
}

// ExistingFileRef points a document slot at a previously uploaded certificate.
type ExistingFileRef struct {
	FileName     string `json:"fileName"`
	FileURL      string `json:"fileUrl"`
	DocumentName string `json:"documentName"`
}

// DocumentUpload is the batch payload for a stage or the work order.
type DocumentUpload struct {
	CustomFieldID string
	StageID       string
	Files         []UploadFile
	ExistingFiles []ExistingFileRef
	IsReplaced    bool
}

// Retryable reports whether the batch only creates new document versions.
func (u DocumentUpload) Retryable() bool {
	return !u.IsReplaced && len(u.ExistingFiles) == 0
}

// ExistingFileEdit is the certificate swap form of an edit.
type ExistingFileEdit struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	ID       string `json:"_id"`
}

// EditRequest replaces one already submitted document.
type EditRequest struct {
	CustomFieldID string
	DocumentName  string
	DocumentType  string
	StageID       string
	File          *UploadFile
	ExistingFile  *ExistingFileEdit
}

const (
	DocumentTypeStage     = "stage"
	DocumentTypeWorkOrder = "workOrder"
)

// UploadStageDocuments posts pending files and certificate selections for one stage.
func (c *Client) UploadStageDocuments(ctx context.Context, upload DocumentUpload) (Result, error) {
	if upload.StageID == "" {
		return Result{}, fmt.Errorf("portal api upload stage documents: stageId is required")
	}
	var out Result
	err := c.call(ctx, "upload_stage_documents", http.MethodPost, "/stage-documents", multipartUpload(upload), upload.Retryable(), &out)
	return out, err
}

// UploadWorkOrderDocuments posts pending files and certificate selections for the work order.
func (c *Client) UploadWorkOrderDocuments(ctx context.Context, upload DocumentUpload) (Result, error) {
	upload.StageID = ""
	var out Result
	err := c.call(ctx, "upload_work_order_documents", http.MethodPost, "/work-order-documents", multipartUpload(upload), upload.Retryable(), &out)
	return out, err
}

// EditDocument replaces a single submitted document. It is never retried.
func (c *Client) EditDocument(ctx context.Context, edit EditRequest) (Result, error) {
	if (edit.File == nil) == (edit.ExistingFile == nil) {
		return Result{}, fmt.Errorf("portal api edit document: exactly one of file or existingFile is required")
	}
	var body requestBody
	if edit.File != nil {
		body = multipartEdit(edit)
	} else {
		payload := map[string]any{
			"customFieldId": edit.CustomFieldID,
			"documentName":  edit.DocumentName,
			"documentType":  edit.DocumentType,
			"existingFile":  edit.ExistingFile,
		}
		if edit.StageID != "" {
			payload["stageId"] = edit.StageID
		}
		body = jsonBody(payload)
	}
	var out Result
	err := c.call(ctx, "edit_document", http.MethodPost, "/edit-document", body, false, &out)
	return out, err
}

func multipartUpload(upload DocumentUpload) requestBody {
	return func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		if err := w.WriteField("customFieldId", upload.CustomFieldID); err != nil {
			return nil, "", err
		}
		if upload.StageID != "" {
			if err := w.WriteField("stageId", upload.StageID); err != nil {
				return nil, "", err
			}
		}

		if len(upload.Files) > 0 {
			meta := make([]FileMetadata, 0, len(upload.Files))
			for _, f := range upload.Files {
				if err := writeFilePart(w, "files", f); err != nil {
					return nil, "", err
				}
				meta = append(meta, FileMetadata{
					FileName:     f.FileName,
					DocumentName: f.DocumentName,
					FileSize:     f.Size,
					FileType:     f.ContentType,
				})
			}
			if err := writeJSONField(w, "filesMetadata", meta); err != nil {
				return nil, "", err
			}
		}

		if len(upload.ExistingFiles) > 0 {
			if err := writeJSONField(w, "existingFiles", upload.ExistingFiles); err != nil {
				return nil, "", err
			}
		}
		if upload.IsReplaced {
			if err := w.WriteField("isReplaced", strconv.FormatBool(true)); err != nil {
				return nil, "", err
			}
		}

		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
}

func multipartEdit(edit EditRequest) requestBody {
	return func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		fields := [][2]string{
			{"customFieldId", edit.CustomFieldID},
			{"documentName", edit.DocumentName},
			{"documentType", edit.DocumentType},
			{"fileName", edit.File.FileName},
		}
		if edit.StageID != "" {
			fields = append(fields, [2]string{"stageId", edit.StageID})
		}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return nil, "", err
			}
		}
		if err := writeFilePart(w, "file", *edit.File); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
}

func writeFilePart(w *multipart.Writer, field string, f UploadFile) error {
	if f.Open == nil {
		return fmt.Errorf("file %q has no content", f.FileName)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %q: %w", f.FileName, err)
	}
	defer rc.Close()

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.FileName))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %q: %w", f.FileName, err)
	}
	return nil
}

func writeJSONField(w *multipart.Writer, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteField(field, string(data))
}
