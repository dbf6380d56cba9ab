package service

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"casebuilder-backend/models"
	"casebuilder-backend/repository"
)

var ErrInvalidPosition = errors.New("invalid event index")

// TimelineService merges the per-document analyses of a case into one
// reconciled view: a chronologically sorted timeline, deduplicated
// issue/ground/tag lists and a single resolved Parties value.
type TimelineService struct {
	caseRepo *repository.CaseRepository
}

// TimelineServiceOption is a functional option for TimelineService
type TimelineServiceOption func(*TimelineService)

// TimelineWithCaseRepository sets the case repository
func TimelineWithCaseRepository(repo *repository.CaseRepository) TimelineServiceOption {
	return func(s *TimelineService) {
		s.caseRepo = repo
	}
}

// NewTimelineService creates a new timeline service
func NewTimelineService(opts ...TimelineServiceOption) *TimelineService {
	s := &TimelineService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildTimeline produces the merged view for a case.
func (s *TimelineService) BuildTimeline(caseID string) (*models.MergedView, error) {
	if s.caseRepo == nil {
		return nil, errors.New("case repository not set")
	}

	docs, err := s.caseRepo.GetDocuments(caseID)
	if err != nil {
		return nil, err
	}

	view := &models.MergedView{
		CaseID:  caseID,
		Parties: models.Parties{Plaintiff: models.UnknownPlaintiff, Defendant: models.UnknownDefendant},
	}

	var (
		plaintiffIssues  []string
		defendantIssues  []string
		plaintiffGrounds []string
		defendantGrounds []string
		mismatches       []string
		documentTags     []string
		keyEventsTags    []string
	)

	for docIdx, doc := range docs {
		for evIdx, ev := range doc.Timeline {
			view.Timeline = append(view.Timeline, models.MergedEvent{
				TimelineEvent: ev,
				Ref:           models.EventRef{DocIndex: docIdx, EventIndex: evIdx},
			})
		}
		plaintiffIssues = append(plaintiffIssues, doc.Issues.Plaintiff...)
		defendantIssues = append(defendantIssues, doc.Issues.Defendant...)
		plaintiffGrounds = append(plaintiffGrounds, doc.Grounds.Plaintiff...)
		defendantGrounds = append(defendantGrounds, doc.Grounds.Defendant...)
		mismatches = append(mismatches, doc.Mismatches...)
		// untagged documents contribute nothing to the tag lists
		if doc.DocumentTag != "" {
			documentTags = append(documentTags, doc.DocumentTag)
		}
		if doc.KeyEventsTag != "" {
			keyEventsTags = append(keyEventsTags, doc.KeyEventsTag)
		}

		// last document wins, field by field
		if doc.Parties.Plaintiff != "" {
			view.Parties.Plaintiff = doc.Parties.Plaintiff
		}
		if doc.Parties.Defendant != "" {
			view.Parties.Defendant = doc.Parties.Defendant
		}
	}

	sortTimeline(view.Timeline)

	view.PlaintiffIssues = dedupeOrDefault(plaintiffIssues,
		fmt.Sprintf("No issues identified for %s.", view.Parties.Plaintiff))
	view.DefendantIssues = dedupeOrDefault(defendantIssues,
		fmt.Sprintf("No issues identified for %s.", view.Parties.Defendant))
	view.PlaintiffGrounds = dedupeOrDefault(plaintiffGrounds,
		fmt.Sprintf("No strong grounds identified for %s.", view.Parties.Plaintiff))
	view.DefendantGrounds = dedupeOrDefault(defendantGrounds,
		fmt.Sprintf("No strong grounds identified for %s.", view.Parties.Defendant))
	view.Mismatches = dedupeOrDefault(mismatches,
		"No facts identified that conflict with the Indian Constitution.")
	view.DocumentTags = dedupeOrDefault(documentTags, "No document tags available")
	view.KeyEventsTags = dedupeOrDefault(keyEventsTags, "No key events tags available")

	return view, nil
}

// ToggleImportant inverts the importance flag of the event at the given
// 0-based position in the freshly recomputed merged timeline. The
// position resolves to the event's stable identity in the sorted view,
// so the flag always lands on the event the caller saw at that position.
func (s *TimelineService) ToggleImportant(caseID string, position int) (bool, error) {
	view, err := s.BuildTimeline(caseID)
	if err != nil {
		return false, err
	}
	if position < 0 || position >= len(view.Timeline) {
		return false, fmt.Errorf("%w: %d (timeline has %d events)", ErrInvalidPosition, position, len(view.Timeline))
	}

	important, err := s.caseRepo.ToggleImportant(caseID, view.Timeline[position].Ref)
	if err != nil {
		return false, err
	}
	log.Printf("Toggled importance for event %d in case %s: %v", position, caseID, important)
	return important, nil
}

// sortTimeline orders events ascending by parsed date. The sort is
// stable, so events whose dates cannot be parsed (all keyed to the same
// read-time instant) keep their insertion order.
func sortTimeline(events []models.MergedEvent) {
	now := time.Now()
	type keyed struct {
		ev  models.MergedEvent
		key time.Time
	}
	entries := make([]keyed, len(events))
	for i, ev := range events {
		entries[i] = keyed{ev: ev, key: parseEventDate(ev.DocumentDate, now)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].key.Before(entries[j].key)
	})
	for i, e := range entries {
		events[i] = e.ev
	}
}

// eventDateFormats are tried in order: full date, month-year, year-only.
var eventDateFormats = []string{"January 2, 2006", "January, 2006", "2006"}

// parseEventDate converts a canonical date string into a sortable
// instant. Unparsable dates fall back to the supplied read-time instant,
// pushing them past every dated event without a fixed sentinel.
func parseEventDate(dateStr string, now time.Time) time.Time {
	for _, layout := range eventDateFormats {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t
		}
	}
	log.Printf("Warning: invalid date format %q, using current date as sort key", dateStr)
	return now
}

// dedupeOrDefault collapses duplicates preserving first-seen order, or
// returns the single default entry when the list is empty.
func dedupeOrDefault(values []string, def string) []string {
	if len(values) == 0 {
		return []string{def}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
