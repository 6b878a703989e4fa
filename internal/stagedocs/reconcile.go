package stagedocs

import "strings"

// Matches reports whether an uploaded record satisfies a requirement: same
// documentName, same documentName ignoring case, or a fileName containing the
// requirement name ignoring case. A blank name only matches exactly.
func Matches(req Requirement, doc UploadedDocument) bool {
	name := strings.TrimSpace(req.Name)
	if doc.DocumentName == req.Name {
		return true
	}
	if name == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(doc.DocumentName), name) {
		return true
	}
	return strings.Contains(strings.ToLower(doc.FileName), strings.ToLower(name))
}

// SatisfiedRequirement pairs a requirement with the first record that matched it.
type SatisfiedRequirement struct {
	Requirement Requirement      `json:"requirement"`
	Document    UploadedDocument `json:"document"`
}

type Reconciliation struct {
	Pending    []Requirement          `json:"pending"`
	Satisfied  []SatisfiedRequirement `json:"satisfied"`
	Additional []AdditionalDocument   `json:"additional"`
	Complete   bool                   `json:"complete"`
}

// Reconcile splits requirements into satisfied and pending, keeping input order.
// A scope with no requirements is never complete.
func Reconcile(in StageDocuments) Reconciliation {
	out := Reconciliation{
		Pending:    []Requirement{},
		Satisfied:  []SatisfiedRequirement{},
		Additional: append([]AdditionalDocument{}, in.Additional...),
	}
	for _, req := range in.Required {
		if doc, ok := firstMatch(req, in.Uploaded); ok {
			out.Satisfied = append(out.Satisfied, SatisfiedRequirement{Requirement: req, Document: doc})
			continue
		}
		out.Pending = append(out.Pending, req)
	}
	out.Complete = len(in.Required) > 0 && len(out.Pending) == 0
	return out
}

func firstMatch(req Requirement, docs []UploadedDocument) (UploadedDocument, bool) {
	for _, doc := range docs {
		if Matches(req, doc) {
			return doc, true
		}
	}
	return UploadedDocument{}, false
}
