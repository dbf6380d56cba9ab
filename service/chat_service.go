package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"casebuilder-backend/models"
	"casebuilder-backend/repository"
)

// chatFailureReply is returned when the chat exchange fails for any
// reason other than an explicit service error from the collaborator.
const chatFailureReply = "Error processing your request. Please try again."

const chatSystemInstruction = "You are a legal assistant with expertise in Indian law."

// ChatService answers free-text questions about a case. It builds a
// context block from the case's accumulated per-document analyses (in
// storage order, not the reconciled view) and forwards it with the
// question to the LLM collaborator.
type ChatService struct {
	caseRepo *repository.CaseRepository
	llm      LLMClient
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithCaseRepository sets the case repository
func ChatWithCaseRepository(repo *repository.CaseRepository) ChatServiceOption {
	return func(s *ChatService) {
		s.caseRepo = repo
	}
}

// ChatWithLLMClient sets the LLM collaborator
func ChatWithLLMClient(client LLMClient) ChatServiceOption {
	return func(s *ChatService) {
		s.llm = client
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask forwards the user's question plus the case context to the LLM and
// returns its answer verbatim. ErrCaseNotFound and ErrLLMService
// propagate; any other failure is absorbed into a generic apology.
func (s *ChatService) Ask(ctx context.Context, caseID, question string) (string, error) {
	if s.caseRepo == nil {
		return "", errors.New("case repository not set")
	}
	if s.llm == nil {
		return "", errors.New("llm client not set")
	}

	docs, err := s.caseRepo.GetDocuments(caseID)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", repository.ErrCaseNotFound
	}

	prompt := fmt.Sprintf(`
You are a legal assistant with expertise in Indian law. The user is asking about a case with the following details:
%s

User's question: %s

Provide a clear, concise, and accurate response based on the case data and your legal expertise. If the question is unrelated to the case, respond appropriately but keep the answer relevant to Indian legal context if possible.
`, buildCaseContext(docs), question)

	answer, err := s.llm.Generate(ctx, chatSystemInstruction, prompt, false)
	if err != nil {
		if errors.Is(err, ErrLLMService) {
			return "", err
		}
		log.Printf("Warning: chat processing error for case %s: %v", caseID, err)
		return chatFailureReply, nil
	}
	return answer, nil
}

// buildCaseContext enumerates every document's analysis in storage
// order: tags, parties and the raw timeline/issues/grounds/mismatches.
func buildCaseContext(docs []models.DocumentAnalysis) string {
	var b strings.Builder
	b.WriteString("Case Context:\n")
	for _, doc := range docs {
		fmt.Fprintf(&b, "File: %s, Document Tag: %s, Key Events Tag: %s\n", doc.FileName, doc.DocumentTag, doc.KeyEventsTag)
		fmt.Fprintf(&b, "Parties: %s vs %s\n", doc.Parties.Plaintiff, doc.Parties.Defendant)
		fmt.Fprintf(&b, "Timeline: %s\n", mustIndentJSON(doc.Timeline))
		fmt.Fprintf(&b, "Issues: %s\n", mustIndentJSON(doc.Issues))
		fmt.Fprintf(&b, "Grounds: %s\n", mustIndentJSON(doc.Grounds))
		fmt.Fprintf(&b, "Mismatches: %s\n\n", mustIndentJSON(doc.Mismatches))
	}
	return b.String()
}

func mustIndentJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
