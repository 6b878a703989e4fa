package stagedocs

// State is the portable form of a Store: its dictionaries plus the preview
// keys it holds. A workspace saved as State can be picked up by another
// gateway instance sharing the same object store.
type State struct {
	Uploaded     map[string][]PendingLocalFile          `json:"uploaded,omitempty"`
	Selected     map[string][]SelectedExistingFile      `json:"selected,omitempty"`
	Editing      map[string]map[string]UploadedDocument `json:"editing,omitempty"`
	Replacements map[string]map[string]EditReplacement  `json:"replacements,omitempty"`
	Previews     []string                               `json:"previews,omitempty"`
}

// Export returns a deep copy of the store's state.
func (s *Store) Export() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Uploaded:     make(map[string][]PendingLocalFile, len(s.uploadedFiles)),
		Selected:     make(map[string][]SelectedExistingFile, len(s.selectedExistingFiles)),
		Editing:      make(map[string]map[string]UploadedDocument, len(s.editingDocuments)),
		Replacements: make(map[string]map[string]EditReplacement, len(s.editReplacements)),
		Previews:     s.previews.Keys(),
	}
	for scope, files := range s.uploadedFiles {
		st.Uploaded[scope] = append([]PendingLocalFile(nil), files...)
	}
	for scope, files := range s.selectedExistingFiles {
		st.Selected[scope] = append([]SelectedExistingFile(nil), files...)
	}
	for scope, docs := range s.editingDocuments {
		st.Editing[scope] = copyEditing(docs)
	}
	for scope, repl := range s.editReplacements {
		st.Replacements[scope] = copyReplacements(repl)
	}
	return st
}

// Restore replaces the store's state with st. Scopes with nothing in them
// are dropped so the maps stay sparse. Preview objects are not touched:
// keys missing from st are forgotten, not deleted.
func (s *Store) Restore(st State) error {
	uploaded := make(map[string][]PendingLocalFile, len(st.Uploaded))
	for scope, files := range st.Uploaded {
		if len(files) > 0 {
			uploaded[scope] = append([]PendingLocalFile(nil), files...)
		}
	}
	selected := make(map[string][]SelectedExistingFile, len(st.Selected))
	for scope, files := range st.Selected {
		if len(files) > 0 {
			selected[scope] = append([]SelectedExistingFile(nil), files...)
		}
	}
	editing := make(map[string]map[string]UploadedDocument, len(st.Editing))
	for scope, docs := range st.Editing {
		if len(docs) > 0 {
			editing[scope] = copyEditing(docs)
		}
	}
	replacements := make(map[string]map[string]EditReplacement, len(st.Replacements))
	for scope, repl := range st.Replacements {
		if len(repl) > 0 {
			replacements[scope] = copyReplacements(repl)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.uploadedFiles = uploaded
	s.selectedExistingFiles = selected
	s.editingDocuments = editing
	s.editReplacements = replacements
	s.previews.Adopt(st.Previews)
	return nil
}

func copyEditing(in map[string]UploadedDocument) map[string]UploadedDocument {
	out := make(map[string]UploadedDocument, len(in))
	for name, doc := range in {
		out[name] = doc
	}
	return out
}

func copyReplacements(in map[string]EditReplacement) map[string]EditReplacement {
	out := make(map[string]EditReplacement, len(in))
	for name, r := range in {
		out[name] = r.clone()
	}
	return out
}

func (r EditReplacement) clone() EditReplacement {
	cp := EditReplacement{IsExisting: r.IsExisting}
	if r.Local != nil {
		local := *r.Local
		cp.Local = &local
	}
	if r.Existing != nil {
		existing := *r.Existing
		cp.Existing = &existing
	}
	return cp
}
