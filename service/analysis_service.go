package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"casebuilder-backend/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AnalysisService turns extracted document text into a structured
// analysis via the LLM collaborator. Failures split two ways: a
// service-level error or a structurally invalid response is fatal, any
// other processing failure degrades into a deterministic fallback record
// so every submitted document still yields a well-formed analysis.
type AnalysisService struct {
	llm LLMClient
}

// AnalysisServiceOption is a functional option for AnalysisService
type AnalysisServiceOption func(*AnalysisService)

// AnalysisWithLLMClient sets the LLM collaborator
func AnalysisWithLLMClient(client LLMClient) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.llm = client
	}
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(opts ...AnalysisServiceOption) *AnalysisService {
	s := &AnalysisService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeRequest carries the extracted text plus submission context.
type AnalyzeRequest struct {
	Text         string
	FileName     string
	FilePath     string
	DocumentTag  string
	KeyEventsTag string
}

// AnalysisOutcome is the analyzer's explicit result type. Degraded marks
// the fallback record so callers cannot mistake placeholder data for a
// clean extraction.
type AnalysisOutcome struct {
	Analysis models.DocumentAnalysis
	Degraded bool
}

const analysisSystemInstruction = "You are a legal document analysis assistant with expertise in Indian law. Provide structured JSON output as requested."

// llmAnalysis is the wire shape of the collaborator's analysis response.
type llmAnalysis struct {
	Parties  models.Parties `json:"parties"`
	Timeline []struct {
		DocumentDate string `json:"document_date"`
		Summary      string `json:"summary"`
	} `json:"timeline"`
	Issues     models.PartyLists `json:"issues"`
	Grounds    models.PartyLists `json:"grounds"`
	Mismatches []string          `json:"mismatches"`
}

// Analyze sends the text to the LLM and parses the response into a
// structured analysis. ErrLLMService and ErrSchemaValidation propagate;
// everything else is absorbed into the fallback record.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisOutcome, error) {
	if s.llm == nil {
		return nil, errors.New("llm client not set")
	}

	prompt := buildAnalysisPrompt(req.Text, req.DocumentTag, req.KeyEventsTag)

	raw, err := s.llm.Generate(ctx, analysisSystemInstruction, prompt, true)
	if err != nil {
		if errors.Is(err, ErrLLMService) {
			return nil, err
		}
		log.Printf("Warning: LLM processing error for %s: %v. Using fallback record.", req.FileName, err)
		return s.fallbackOutcome(req), nil
	}

	if err := validateAnalysisShape([]byte(raw)); err != nil {
		if errors.Is(err, errMalformedResponse) {
			log.Printf("Warning: unparsable analysis for %s: %v. Using fallback record.", req.FileName, err)
			return s.fallbackOutcome(req), nil
		}
		log.Printf("Invalid LLM response structure for %s: %v", req.FileName, err)
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}

	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Printf("Warning: failed to decode analysis for %s: %v. Using fallback record.", req.FileName, err)
		return s.fallbackOutcome(req), nil
	}

	analysis := models.DocumentAnalysis{
		FileName:     req.FileName,
		FilePath:     req.FilePath,
		UploadedAt:   time.Now(),
		DocumentTag:  req.DocumentTag,
		KeyEventsTag: req.KeyEventsTag,
		Parties:      parsed.Parties,
		Issues:       parsed.Issues,
		Grounds:      parsed.Grounds,
		Mismatches:   parsed.Mismatches,
	}
	for _, ev := range parsed.Timeline {
		analysis.Timeline = append(analysis.Timeline, models.TimelineEvent{
			DocumentDate: ev.DocumentDate,
			Summary:      ev.Summary,
			Important:    false,
		})
	}
	return &AnalysisOutcome{Analysis: analysis}, nil
}

// fallbackOutcome builds the deterministic placeholder record substituted
// when analysis fails non-fatally.
func (s *AnalysisService) fallbackOutcome(req AnalyzeRequest) *AnalysisOutcome {
	return &AnalysisOutcome{
		Degraded: true,
		Analysis: models.DocumentAnalysis{
			FileName:     req.FileName,
			FilePath:     req.FilePath,
			UploadedAt:   time.Now(),
			DocumentTag:  req.DocumentTag,
			KeyEventsTag: req.KeyEventsTag,
			Parties:      models.Parties{Plaintiff: "Unknown", Defendant: "Unknown"},
			Timeline: []models.TimelineEvent{{
				DocumentDate: time.Now().Format("January 2, 2006"),
				Summary:      fmt.Sprintf("Error processing %s", req.FileName),
				Important:    false,
			}},
			Issues: models.PartyLists{
				Plaintiff: []string{"Error identifying issues"},
				Defendant: []string{"Error identifying issues"},
			},
			Grounds: models.PartyLists{
				Plaintiff: []string{"Error identifying grounds"},
				Defendant: []string{"Error identifying grounds"},
			},
			Mismatches: []string{"Error analyzing mismatches"},
		},
	}
}

// analysisSchema validates only the presence of the five top-level keys.
// Shape problems below the top level degrade into the fallback record
// instead of failing the request, so the schema stays deliberately loose.
var analysisSchema = map[string]any{
	"type":     "object",
	"required": []string{"parties", "timeline", "issues", "grounds", "mismatches"},
}

func validateAnalysisShape(data []byte) error {
	b, err := json.Marshal(analysisSchema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: unmarshal data: %v", errMalformedResponse, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("missing required keys: %w", err)
	}
	return nil
}

func buildAnalysisPrompt(content, documentTag, keyEventsTag string) string {
	return fmt.Sprintf(`
You are an expert legal document analyzer with deep knowledge of Indian law. Analyze the following legal document content and extract the requested information in JSON format. The document may have varied structures, so do not rely on specific patterns. Use your understanding of Indian legal context to identify:

1. **Parties**: Identify the plaintiff and defendant (e.g., from case titles like "Party1 v. Party2" or mentions of "plaintiff"/"defendant"). Use "Unknown Plaintiff" or "Unknown Defendant" if not found.
2. **Timeline**: Extract a unified timeline of events with dates in "Month DD, YYYY" format (e.g., "January 15, 2025") for specific dates or "YYYY" format (e.g., "2025") for year-only events. Ensure all dates are consistently formatted and represent the event's occurrence accurately. There might be some events that contain only month and year. Display that in the format Month, YYYY. For example, if you see something like "in the month of novemmber, 2023", then the output must be "November, 2023". Or if you see anything like "nov, 2025", then output must be "November, 2025". some example are - for "2015-Apr", output is "April, 2015". for "Oct, 2020", the output must be "October, 2020". "for 01-01-2020" or "01/01/2020", the output must be "January 01, 2020". Use these examples to extract correct dates. The dates MUST BE in sorted order from oldest to latest.
3. **Legal Issues**: For each party (plaintiff and defendant), identify legal issues, clearly stating:
   - What the party is doing wrong (specific actions or omissions).
   - Applicable Indian laws they might face (e.g., Indian Contract Act, 1872; Indian Penal Code, 1860; Trade Marks Act, 1999; or specific constitutional articles). Include section numbers where relevant.
   - Summarize each issue in a full sentence (e.g., "Plaintiff failed to deliver goods as per contract, violating Section 55 of the Indian Contract Act, 1872").
4. **Grounds for Winning**: Determine grounds on which each party could win, based on evidence or defenses mentioned in the document.
5. **Mismatches**: Identify any conflicting events in the timeline (e.g., multiple events on the same date with contradictory summaries). Additionally, analyze the timeline for any facts that conflict with the Indian Constitution (e.g., violations of fundamental rights under Articles 14, 19, or 21). If no constitutional conflicts are found, state "No facts identified that conflict with the Indian Constitution."

Consider the document tag (%s) and key events tag (%s) to contextualize your analysis, but do not include them in the output JSON unless explicitly relevant to the issues or grounds.

Return the response in JSON with the following structure:
{
  "parties": {"plaintiff": "string", "defendant": "string"},
  "timeline": [{"document_date": "string", "summary": "string"}],
  "issues": {"plaintiff": ["string"], "defendant": ["string"]},
  "grounds": {"plaintiff": ["string"], "defendant": ["string"]},
  "mismatches": ["string"]
}

Document content:
%s
`, documentTag, keyEventsTag, content)
}
