package repository

import (
	"errors"
	"sync"
	"time"

	"casebuilder-backend/models"
)

var (
	ErrCaseNotFound  = errors.New("case not found")
	ErrEventNotFound = errors.New("timeline event not found")
)

// caseRecord is the stored state for one case: its metadata and the
// ordered list of per-document analyses.
type caseRecord struct {
	meta      models.Case
	documents []models.DocumentAnalysis
}

// CaseRepository is the process-wide registry of cases. It is volatile
// state: constructed once at startup and lost on process exit.
//
// A single RWMutex guards the registry. Appends and flag toggles take the
// write lock; callers must do extraction and LLM work before calling in,
// so no long-latency operation ever holds the lock.
type CaseRepository struct {
	mu    sync.RWMutex
	cases map[string]*caseRecord
}

// NewCaseRepository creates an empty case registry.
func NewCaseRepository() *CaseRepository {
	return &CaseRepository{
		cases: make(map[string]*caseRecord),
	}
}

// CreateCase registers a new case and returns its identifier. The ID is
// derived from the creation time with second-level granularity; a second
// create within the same second reuses the record rather than erroring.
func (r *CaseRepository) CreateCase() models.Case {
	now := time.Now()
	c := models.Case{
		ID:        models.NewCaseID(now),
		CreatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; !ok {
		r.cases[c.ID] = &caseRecord{meta: c}
	}
	return c
}

// AppendDocument appends a document analysis to an existing case.
func (r *CaseRepository) AppendDocument(caseID string, doc models.DocumentAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.cases[caseID]
	if !ok {
		return ErrCaseNotFound
	}
	rec.documents = append(rec.documents, doc)
	return nil
}

// ListCases returns all known case identifiers, in no particular order.
func (r *CaseRepository) ListCases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.cases))
	for id := range r.cases {
		ids = append(ids, id)
	}
	return ids
}

// GetDocuments returns a copy of the case's documents in storage order.
// The copy is deep enough that callers cannot reach stored timeline
// events; the Important flag is only mutated through ToggleImportant.
func (r *CaseRepository) GetDocuments(caseID string) ([]models.DocumentAnalysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.cases[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}

	docs := make([]models.DocumentAnalysis, len(rec.documents))
	for i, d := range rec.documents {
		docs[i] = d
		docs[i].Timeline = append([]models.TimelineEvent(nil), d.Timeline...)
	}
	return docs, nil
}

// ToggleImportant inverts the Important flag of the event identified by
// ref and returns the new value.
func (r *CaseRepository) ToggleImportant(caseID string, ref models.EventRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.cases[caseID]
	if !ok {
		return false, ErrCaseNotFound
	}
	if ref.DocIndex < 0 || ref.DocIndex >= len(rec.documents) {
		return false, ErrEventNotFound
	}
	events := rec.documents[ref.DocIndex].Timeline
	if ref.EventIndex < 0 || ref.EventIndex >= len(events) {
		return false, ErrEventNotFound
	}
	events[ref.EventIndex].Important = !events[ref.EventIndex].Important
	return events[ref.EventIndex].Important, nil
}
