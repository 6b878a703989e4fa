package stagedocs

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrFileTooLarge          = errors.New("file must be smaller than 5MB")
	ErrCertificateNotFound   = errors.New("certificate not found")
	ErrEntryNotFound         = errors.New("pending entry not found")
	ErrNotEditing            = errors.New("document is not in edit mode")
	ErrDocumentLocked        = errors.New("document belongs to an approved stage")
	ErrNothingToSubmit       = errors.New("no pending documents to submit")
	ErrNoReplacementSelected = errors.New("no replacement selected")
	ErrDisposed              = errors.New("workspace disposed")
)
