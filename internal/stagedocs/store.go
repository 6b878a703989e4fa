package stagedocs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/metrics"
)

// ReplaceMode tells how ProposeReplacement applied a candidate.
type ReplaceMode string

const (
	// DirectReplace swaps a not-yet-submitted pending entry in place.
	DirectReplace ReplaceMode = "direct"
	// StagedReplace holds a replacement for a submitted document until it is saved.
	StagedReplace ReplaceMode = "staged"
)

// Store holds a workspace's pending document state, indexed by scope.
// Maps are kept sparse: a scope key never points at an empty list or map.
// Store is safe for concurrent use.
type Store struct {
	previews *Previews

	mu                    sync.Mutex
	disposed              bool
	uploadedFiles         map[string][]PendingLocalFile
	selectedExistingFiles map[string][]SelectedExistingFile
	editingDocuments      map[string]map[string]UploadedDocument
	editReplacements      map[string]map[string]EditReplacement
}

func NewStore(previews *Previews) *Store {
	return &Store{
		previews:              previews,
		uploadedFiles:         make(map[string][]PendingLocalFile),
		selectedExistingFiles: make(map[string][]SelectedExistingFile),
		editingDocuments:      make(map[string]map[string]UploadedDocument),
		editReplacements:      make(map[string]map[string]EditReplacement),
	}
}

// Previews exposes the preview registry backing pending files.
func (s *Store) Previews() *Previews {
	return s.previews
}

// AddLocalFile stages a local file for a document slot. A file already
// pending for the same slot is swapped out.
func (s *Store) AddLocalFile(ctx context.Context, scope, documentType string, file LocalUpload) (PendingLocalFile, error) {
	if err := validateSlot(scope, documentType); err != nil {
		return PendingLocalFile{}, err
	}
	if err := checkSize(file); err != nil {
		return PendingLocalFile{}, err
	}
	entry, err := s.newPending(ctx, documentType, file)
	if err != nil {
		return PendingLocalFile{}, err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = s.previews.Release(ctx, entry.PreviewKey)
		return PendingLocalFile{}, ErrDisposed
	}
	released := s.clearSlotLocked(scope, documentType)
	s.uploadedFiles[scope] = append(s.uploadedFiles[scope], entry)
	s.mu.Unlock()

	s.release(ctx, released)
	return entry, nil
}

// RemoveLocalFile drops the pending file at index.
func (s *Store) RemoveLocalFile(ctx context.Context, scope string, index int) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	files := s.uploadedFiles[scope]
	if index < 0 || index >= len(files) {
		s.mu.Unlock()
		return ErrEntryNotFound
	}
	key := files[index].PreviewKey
	files = append(files[:index:index], files[index+1:]...)
	s.setUploadedLocked(scope, files)
	s.mu.Unlock()

	s.release(ctx, []string{key})
	return nil
}

// SelectExistingFile stages a certificate for a document slot.
func (s *Store) SelectExistingFile(ctx context.Context, scope string, cert *portalapi.Certificate, documentType string) (SelectedExistingFile, error) {
	if cert == nil {
		metrics.IncValidationRejection("certificate_not_found")
		return SelectedExistingFile{}, ErrCertificateNotFound
	}
	if err := validateSlot(scope, documentType); err != nil {
		return SelectedExistingFile{}, err
	}
	entry := selectedFrom(cert, documentType, false)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return SelectedExistingFile{}, ErrDisposed
	}
	released := s.clearSlotLocked(scope, documentType)
	s.selectedExistingFiles[scope] = append(s.selectedExistingFiles[scope], entry)
	s.mu.Unlock()

	s.release(ctx, released)
	return entry, nil
}

// RemoveExistingFile drops a certificate selection by certificate id.
func (s *Store) RemoveExistingFile(scope, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	list := s.selectedExistingFiles[scope]
	for i := range list {
		if list[i].ID == fileID {
			list = append(list[:i:i], list[i+1:]...)
			s.setSelectedLocked(scope, list)
			return nil
		}
	}
	return ErrEntryNotFound
}

// BeginEdit marks a submitted document as under edit. Documents of an
// approved stage cannot be edited.
func (s *Store) BeginEdit(scope, documentName string, current UploadedDocument, stageStatus string) error {
	if err := validateSlot(scope, documentName); err != nil {
		return err
	}
	if IsLocked(stageStatus) {
		return ErrDocumentLocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.editingDocuments[scope] == nil {
		s.editingDocuments[scope] = make(map[string]UploadedDocument)
	}
	s.editingDocuments[scope][documentName] = current
	return nil
}

// ProposeReplacement applies a candidate to a slot. With editModeActive it
// stages the candidate against the document under edit; otherwise it swaps
// the slot's pending entry directly.
func (s *Store) ProposeReplacement(ctx context.Context, scope, documentName string, candidate Candidate, editModeActive bool) (ReplaceMode, error) {
	if err := validateSlot(scope, documentName); err != nil {
		return "", err
	}
	if candidate.IsExisting() && candidate.Certificate == nil {
		metrics.IncValidationRejection("certificate_not_found")
		return "", ErrCertificateNotFound
	}
	if !candidate.IsExisting() {
		if err := checkSize(*candidate.Local); err != nil {
			return "", err
		}
	}
	if editModeActive {
		return StagedReplace, s.stagedReplace(ctx, scope, documentName, candidate)
	}
	return DirectReplace, s.directReplace(ctx, scope, documentName, candidate)
}

func (s *Store) stagedReplace(ctx context.Context, scope, documentName string, candidate Candidate) error {
	s.mu.Lock()
	_, editing := s.editingDocuments[scope][documentName]
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !editing {
		return ErrNotEditing
	}

	var repl EditReplacement
	if candidate.IsExisting() {
		sel := selectedFrom(candidate.Certificate, documentName, true)
		repl = EditReplacement{IsExisting: true, Existing: &sel}
	} else {
		entry, err := s.newPending(ctx, documentName, *candidate.Local)
		if err != nil {
			return err
		}
		repl = EditReplacement{Local: &entry}
	}

	s.mu.Lock()
	_, stillEditing := s.editingDocuments[scope][documentName]
	if s.disposed || !stillEditing {
		disposed := s.disposed
		s.mu.Unlock()
		if repl.Local != nil {
			s.release(ctx, []string{repl.Local.PreviewKey})
		}
		if disposed {
			return ErrDisposed
		}
		return ErrNotEditing
	}
	var released []string
	if prev, ok := s.editReplacements[scope][documentName]; ok && prev.Local != nil {
		released = append(released, prev.Local.PreviewKey)
	}
	if s.editReplacements[scope] == nil {
		s.editReplacements[scope] = make(map[string]EditReplacement)
	}
	s.editReplacements[scope][documentName] = repl
	s.mu.Unlock()

	s.release(ctx, released)
	return nil
}

func (s *Store) directReplace(ctx context.Context, scope, documentName string, candidate Candidate) error {
	var (
		local    PendingLocalFile
		selected SelectedExistingFile
	)
	if candidate.IsExisting() {
		selected = selectedFrom(candidate.Certificate, documentName, true)
	} else {
		entry, err := s.newPending(ctx, documentName, *candidate.Local)
		if err != nil {
			return err
		}
		local = entry
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if local.PreviewKey != "" {
			s.release(ctx, []string{local.PreviewKey})
		}
		return ErrDisposed
	}
	released := s.clearSlotLocked(scope, documentName)
	if candidate.IsExisting() {
		s.selectedExistingFiles[scope] = append(s.selectedExistingFiles[scope], selected)
	} else {
		s.uploadedFiles[scope] = append(s.uploadedFiles[scope], local)
	}
	s.mu.Unlock()

	s.release(ctx, released)
	return nil
}

// CancelEdit leaves edit mode for exactly one document and drops its staged replacement.
func (s *Store) CancelEdit(ctx context.Context, scope, documentName string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	released := s.clearEditLocked(scope, documentName)
	s.mu.Unlock()

	s.release(ctx, released)
	return nil
}

// ClearScope drops every pending file, certificate selection and edit in scope.
func (s *Store) ClearScope(ctx context.Context, scope string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	var released []string
	for _, f := range s.uploadedFiles[scope] {
		released = append(released, f.PreviewKey)
	}
	for _, r := range s.editReplacements[scope] {
		if r.Local != nil {
			released = append(released, r.Local.PreviewKey)
		}
	}
	delete(s.uploadedFiles, scope)
	delete(s.selectedExistingFiles, scope)
	delete(s.editingDocuments, scope)
	delete(s.editReplacements, scope)
	s.mu.Unlock()

	s.release(ctx, released)
	return nil
}

// DiscardSubmitted removes the entries that were part of a successful
// submission. Entries added while the request was in flight stay. It is a
// no-op after Dispose.
func (s *Store) DiscardSubmitted(ctx context.Context, scope string, localIDs, existingIDs []string) {
	drop := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		drop[id] = struct{}{}
	}
	dropExisting := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		dropExisting[id] = struct{}{}
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	var (
		released []string
		keep     []PendingLocalFile
	)
	for _, f := range s.uploadedFiles[scope] {
		if _, ok := drop[f.ID]; ok {
			released = append(released, f.PreviewKey)
			continue
		}
		keep = append(keep, f)
	}
	s.setUploadedLocked(scope, keep)

	var keepSelected []SelectedExistingFile
	for _, f := range s.selectedExistingFiles[scope] {
		if _, ok := dropExisting[f.ID]; ok {
			continue
		}
		keepSelected = append(keepSelected, f)
	}
	s.setSelectedLocked(scope, keepSelected)
	s.mu.Unlock()

	s.release(ctx, released)
}

// FinishEdit clears edit state after a successful save. It is a no-op after Dispose.
func (s *Store) FinishEdit(ctx context.Context, scope, documentName string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	released := s.clearEditLocked(scope, documentName)
	s.mu.Unlock()

	s.release(ctx, released)
}

// ScopeState is a copy of one scope's pending state.
type ScopeState struct {
	Pending      []PendingLocalFile          `json:"pending"`
	Selected     []SelectedExistingFile      `json:"selected"`
	Editing      map[string]UploadedDocument `json:"editing"`
	Replacements map[string]EditReplacement  `json:"replacements"`
}

// HasPending reports whether anything is waiting for a batch submission.
func (st ScopeState) HasPending() bool {
	return len(st.Pending) > 0 || len(st.Selected) > 0
}

// Snapshot returns a deep copy of scope's state.
func (s *Store) Snapshot(scope string) ScopeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ScopeState{
		Pending:      append([]PendingLocalFile{}, s.uploadedFiles[scope]...),
		Selected:     append([]SelectedExistingFile{}, s.selectedExistingFiles[scope]...),
		Editing:      make(map[string]UploadedDocument, len(s.editingDocuments[scope])),
		Replacements: make(map[string]EditReplacement, len(s.editReplacements[scope])),
	}
	for name, doc := range s.editingDocuments[scope] {
		st.Editing[name] = doc
	}
	for name, r := range s.editReplacements[scope] {
		st.Replacements[name] = r.clone()
	}
	return st
}

// Scopes lists every scope holding any state, sorted.
func (s *Store) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range s.uploadedFiles {
		seen[k] = struct{}{}
	}
	for k := range s.selectedExistingFiles {
		seen[k] = struct{}{}
	}
	for k := range s.editingDocuments {
		seen[k] = struct{}{}
	}
	for k := range s.editReplacements {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispose drops all state and releases every preview. Later mutations fail
// with ErrDisposed and late submission results are ignored.
func (s *Store) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.uploadedFiles = make(map[string][]PendingLocalFile)
	s.selectedExistingFiles = make(map[string][]SelectedExistingFile)
	s.editingDocuments = make(map[string]map[string]UploadedDocument)
	s.editReplacements = make(map[string]map[string]EditReplacement)
	s.mu.Unlock()

	return s.previews.ReleaseAll(ctx)
}

// Disposed reports whether Dispose has run.
func (s *Store) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Store) newPending(ctx context.Context, documentType string, file LocalUpload) (PendingLocalFile, error) {
	size := file.Size
	if n := int64(len(file.Data)); n > size {
		size = n
	}
	lastModified := file.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now().UTC()
	}
	key, err := s.previews.Create(ctx, file.Name, file.Type, file.Data)
	if err != nil {
		return PendingLocalFile{}, err
	}
	return PendingLocalFile{
		ID:           uuid.NewString(),
		Name:         file.Name,
		Size:         size,
		Type:         file.Type,
		DocumentType: documentType,
		LastModified: lastModified,
		PageCount:    file.PageCount,
		PreviewKey:   key,
	}, nil
}

// clearSlotLocked removes pending entries for one slot and returns preview keys to release.
func (s *Store) clearSlotLocked(scope, documentName string) []string {
	var (
		released []string
		keep     []PendingLocalFile
	)
	for _, f := range s.uploadedFiles[scope] {
		if f.DocumentType == documentName {
			released = append(released, f.PreviewKey)
			continue
		}
		keep = append(keep, f)
	}
	s.setUploadedLocked(scope, keep)

	var keepSelected []SelectedExistingFile
	for _, f := range s.selectedExistingFiles[scope] {
		if f.DocumentName == documentName {
			continue
		}
		keepSelected = append(keepSelected, f)
	}
	s.setSelectedLocked(scope, keepSelected)
	return released
}

func (s *Store) clearEditLocked(scope, documentName string) []string {
	var released []string
	if r, ok := s.editReplacements[scope][documentName]; ok && r.Local != nil {
		released = append(released, r.Local.PreviewKey)
	}
	if m := s.editReplacements[scope]; m != nil {
		delete(m, documentName)
		if len(m) == 0 {
			delete(s.editReplacements, scope)
		}
	}
	if m := s.editingDocuments[scope]; m != nil {
		delete(m, documentName)
		if len(m) == 0 {
			delete(s.editingDocuments, scope)
		}
	}
	return released
}

func (s *Store) setUploadedLocked(scope string, files []PendingLocalFile) {
	if len(files) == 0 {
		delete(s.uploadedFiles, scope)
		return
	}
	s.uploadedFiles[scope] = files
}

func (s *Store) setSelectedLocked(scope string, files []SelectedExistingFile) {
	if len(files) == 0 {
		delete(s.selectedExistingFiles, scope)
		return
	}
	s.selectedExistingFiles[scope] = files
}

func (s *Store) release(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	_ = s.previews.Release(ctx, keys...)
}

func selectedFrom(cert *portalapi.Certificate, documentName string, replaced bool) SelectedExistingFile {
	return SelectedExistingFile{
		ID:           cert.ID,
		FileName:     cert.FileName,
		FileURL:      cert.FileURL,
		DocumentName: documentName,
		IsReplaced:   replaced,
	}
}

func validateSlot(scope, documentName string) error {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(documentName) == "" {
		return ErrInvalidInput
	}
	return nil
}

func checkSize(file LocalUpload) error {
	size := file.Size
	if n := int64(len(file.Data)); n > size {
		size = n
	}
	if size >= MaxFileSize {
		metrics.IncValidationRejection("file_too_large")
		return ErrFileTooLarge
	}
	return nil
}
