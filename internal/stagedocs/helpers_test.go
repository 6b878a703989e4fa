package stagedocs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"portal-gateway/internal/portalapi"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) SaveWithKey(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if m.failPut {
		return 0, errors.New("put failed")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return int64(len(data)), nil
}

func (m *memObjects) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func newTestStore(t *testing.T) (*Store, *memObjects) {
	t.Helper()
	objects := newMemObjects()
	return NewStore(NewPreviews(objects, "user-1|job-1")), objects
}

func localFile(name string, size int) LocalUpload {
	return LocalUpload{Name: name, Type: "application/pdf", Size: int64(size), Data: bytes.Repeat([]byte("x"), size)}
}

type fakeUploader struct {
	stageCalls     []portalapi.DocumentUpload
	workOrderCalls []portalapi.DocumentUpload
	editCalls      []portalapi.EditRequest
	bodies         map[string]string
	err            error
	message        string
}

func (f *fakeUploader) read(files []portalapi.UploadFile) error {
	if f.bodies == nil {
		f.bodies = make(map[string]string)
	}
	for _, file := range files {
		rc, err := file.Open()
		if err != nil {
			return err
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		f.bodies[file.FileName] = string(data)
	}
	return nil
}

func (f *fakeUploader) UploadStageDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error) {
	f.stageCalls = append(f.stageCalls, upload)
	if err := f.read(upload.Files); err != nil {
		return portalapi.Result{}, err
	}
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: f.message}, nil
}

func (f *fakeUploader) UploadWorkOrderDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error) {
	f.workOrderCalls = append(f.workOrderCalls, upload)
	if err := f.read(upload.Files); err != nil {
		return portalapi.Result{}, err
	}
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: f.message}, nil
}

func (f *fakeUploader) EditDocument(ctx context.Context, edit portalapi.EditRequest) (portalapi.Result, error) {
	f.editCalls = append(f.editCalls, edit)
	if edit.File != nil {
		if err := f.read([]portalapi.UploadFile{*edit.File}); err != nil {
			return portalapi.Result{}, err
		}
	}
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: f.message}, nil
}
