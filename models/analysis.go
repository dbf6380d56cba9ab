package models

import "time"

// Default party names used when the analyzer could not determine them.
const (
	UnknownPlaintiff = "Unknown Plaintiff"
	UnknownDefendant = "Unknown Defendant"
)

// Parties holds the two party names extracted from a document.
type Parties struct {
	Plaintiff string `json:"plaintiff"`
	Defendant string `json:"defendant"`
}

// TimelineEvent is a single dated event extracted from a document.
// DocumentDate is one of three canonical forms: "January 15, 2025",
// "November, 2023" or "2023". Important is the only field that changes
// after creation.
type TimelineEvent struct {
	DocumentDate string `json:"document_date"`
	Summary      string `json:"summary"`
	Important    bool   `json:"is_important"`
}

// PartyLists holds per-role lists of free-text statements (issues or grounds).
type PartyLists struct {
	Plaintiff []string `json:"plaintiff"`
	Defendant []string `json:"defendant"`
}

// DocumentAnalysis is the structured result for one submitted document.
// Immutable after creation except for the Important flag on its events.
type DocumentAnalysis struct {
	FileName     string          `json:"file_name"`
	FilePath     string          `json:"file_path"`
	UploadedAt   time.Time       `json:"upload_date"`
	DocumentTag  string          `json:"document_tag"`
	KeyEventsTag string          `json:"key_events_tag"`
	Parties      Parties         `json:"parties"`
	Timeline     []TimelineEvent `json:"timeline"`
	Issues       PartyLists      `json:"issues"`
	Grounds      PartyLists      `json:"grounds"`
	Mismatches   []string        `json:"mismatches"`
}

// EventRef identifies one timeline event by its position in a case's
// stored documents. Assigned at append time, stable for the lifetime of
// the case.
type EventRef struct {
	DocIndex   int `json:"doc_index"`
	EventIndex int `json:"event_index"`
}

// MergedEvent is a timeline event as it appears in the merged
// cross-document view, carrying the identity of its source event.
type MergedEvent struct {
	TimelineEvent
	Ref EventRef `json:"ref"`
}

// MergedView is the reconciled, chronologically ordered view of a case.
type MergedView struct {
	CaseID           string        `json:"case_id"`
	Parties          Parties       `json:"parties"`
	Timeline         []MergedEvent `json:"timeline"`
	PlaintiffIssues  []string      `json:"plaintiff_issues"`
	DefendantIssues  []string      `json:"defendant_issues"`
	PlaintiffGrounds []string      `json:"plaintiff_grounds"`
	DefendantGrounds []string      `json:"defendant_grounds"`
	Mismatches       []string      `json:"mismatches"`
	DocumentTags     []string      `json:"document_tags"`
	KeyEventsTags    []string      `json:"key_events_tags"`
}
