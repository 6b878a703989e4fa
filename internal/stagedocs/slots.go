package stagedocs

// SlotState is the lifecycle position of one (scope, documentName) slot.
type SlotState string

const (
	SlotNotUploaded       SlotState = "NOT_UPLOADED"
	SlotPendingLocal      SlotState = "PENDING_LOCAL"
	SlotPendingExisting   SlotState = "PENDING_EXISTING"
	SlotUploaded          SlotState = "UPLOADED"
	SlotEditing           SlotState = "EDITING"
	SlotReplacementStaged SlotState = "REPLACEMENT_STAGED"
)

// Slot derives the state of documentName from a scope snapshot. uploaded
// tells whether the backend already holds a document for the slot.
func (st ScopeState) Slot(documentName string, uploaded bool) SlotState {
	if _, ok := st.Replacements[documentName]; ok {
		return SlotReplacementStaged
	}
	if _, ok := st.Editing[documentName]; ok {
		return SlotEditing
	}
	for _, f := range st.Pending {
		if f.DocumentType == documentName {
			return SlotPendingLocal
		}
	}
	for _, f := range st.Selected {
		if f.DocumentName == documentName {
			return SlotPendingExisting
		}
	}
	if uploaded {
		return SlotUploaded
	}
	return SlotNotUploaded
}

// CanEdit reports whether a slot may enter edit mode. Only uploaded
// documents of a stage that is not approved qualify.
func CanEdit(state SlotState, stageStatus string) bool {
	return state == SlotUploaded && !IsLocked(stageStatus)
}
