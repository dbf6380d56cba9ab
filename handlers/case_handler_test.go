package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casebuilder-backend/repository"
	"casebuilder-backend/service"
	"casebuilder-backend/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedLLM pops one reply (or error) per Generate call.
type scriptedLLM struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, systemInstruction, prompt string, jsonOutput bool) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", fmt.Errorf("unexpected LLM call %d", i)
}

func analysisReply(plaintiff, date, summary string) string {
	b, _ := json.Marshal(map[string]any{
		"parties": map[string]string{"plaintiff": plaintiff, "defendant": "Verma"},
		"timeline": []map[string]string{
			{"document_date": date, "summary": summary},
		},
		"issues":     map[string]any{"plaintiff": []string{"non-payment"}, "defendant": []string{}},
		"grounds":    map[string]any{"plaintiff": []string{}, "defendant": []string{}},
		"mismatches": []string{},
	})
	return string(b)
}

func newTestRouter(t *testing.T, llm service.LLMClient) *gin.Engine {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	caseRepo := repository.NewCaseRepository()
	h := NewCaseHandler(
		caseRepo,
		service.NewExtractService(),
		service.NewAnalysisService(service.AnalysisWithLLMClient(llm)),
		service.NewTimelineService(service.TimelineWithCaseRepository(caseRepo)),
		service.NewChatService(service.ChatWithCaseRepository(caseRepo), service.ChatWithLLMClient(llm)),
		store,
	)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/cases", h.CreateCase)
	api.GET("/cases", h.ListCases)
	api.POST("/cases/:id/documents", h.AddDocument)
	api.GET("/cases/:id/documents/:index/file", h.DownloadDocument)
	api.GET("/cases/:id/timeline", h.GetTimeline)
	api.POST("/cases/:id/timeline/:index/toggle", h.ToggleEvent)
	api.POST("/cases/:id/chat", h.Chat)
	return r
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("document_tag", "Agreement"))
	require.NoError(t, w.WriteField("key_events_tag", "Execution"))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, r *gin.Engine, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec, parsed
}

func errorCode(t *testing.T, parsed map[string]any) string {
	t.Helper()
	require.Equal(t, false, parsed["success"])
	return parsed["error"].(map[string]any)["code"].(string)
}

func createCase(t *testing.T, r *gin.Engine) string {
	t.Helper()
	body, ct := multipartUpload(t, "contract.txt", "Contract signed in 2020.")
	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code)
	return parsed["data"].(map[string]any)["case_id"].(string)
}

func TestCreateCase_Success(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)

	body, ct := multipartUpload(t, "contract.txt", "Contract signed in 2020.")
	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)

	require.Equal(t, http.StatusCreated, rec.Code)
	data := parsed["data"].(map[string]any)
	assert.True(t, strings.HasPrefix(data["case_id"].(string), "CASE_"))
	assert.Equal(t, "Case created successfully", data["message"])
	assert.Equal(t, false, data["degraded"])
}

func TestCreateCase_UppercaseExtensionAccepted(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)

	body, ct := multipartUpload(t, "CONTRACT.TXT", "Contract signed in 2020.")
	rec, _ := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateCase_MissingFile(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("document_tag", "Agreement"))
	require.NoError(t, w.Close())

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", &buf, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FILE", errorCode(t, parsed))
}

func TestCreateCase_UnsupportedExtension(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	body, ct := multipartUpload(t, "malware.exe", "MZ")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FILE_TYPE", errorCode(t, parsed))
}

func TestCreateCase_EmptyFile(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	body, ct := multipartUpload(t, "empty.txt", "")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EMPTY_FILE", errorCode(t, parsed))
}

func TestCreateCase_WhitespaceOnlyFile(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	body, ct := multipartUpload(t, "blank.txt", "   \n")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EXTRACTION_FAILED", errorCode(t, parsed))
}

func TestCreateCase_LLMServiceError(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{errs: []error{service.ErrLLMService}})
	body, ct := multipartUpload(t, "contract.txt", "Contract signed in 2020.")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "LLM_ERROR", errorCode(t, parsed))
}

func TestCreateCase_SchemaError(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{replies: []string{`{"parties": {}}`}})
	body, ct := multipartUpload(t, "contract.txt", "Contract signed in 2020.")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SCHEMA_ERROR", errorCode(t, parsed))
}

func TestAddDocument_UnknownCase(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	body, ct := multipartUpload(t, "contract.txt", "Contract signed in 2020.")

	rec, parsed := do(t, r, http.MethodPost, "/api/cases/CASE_19700101000000/documents", body, ct)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CASE_NOT_FOUND", errorCode(t, parsed))
}

func TestListCases(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	rec, parsed := do(t, r, http.MethodGet, "/api/cases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cases := parsed["data"].(map[string]any)["cases"].([]any)
	assert.Contains(t, cases, caseID)
}

func TestTimeline_MergesDocumentsChronologically(t *testing.T) {
	// The later event is uploaded first; the merged view must still come
	// back oldest first.
	llm := &scriptedLLM{replies: []string{
		analysisReply("Sharma", "January 10, 2021", "Breach occurred"),
		analysisReply("Sharma", "2020", "Contract signed"),
	}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	body, ct := multipartUpload(t, "agreement.txt", "Executed in 2020.")
	rec, _ := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/documents", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, parsed := do(t, r, http.MethodGet, "/api/cases/"+caseID+"/timeline", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := parsed["data"].(map[string]any)
	timeline := data["timeline"].([]any)
	require.Len(t, timeline, 2)
	assert.Equal(t, "Contract signed", timeline[0].(map[string]any)["summary"])
	assert.Equal(t, "Breach occurred", timeline[1].(map[string]any)["summary"])
	assert.Equal(t, []any{"non-payment"}, data["plaintiff_issues"])

	// Neither analysis reported mismatches, so the merged view carries
	// the default wording rather than an empty list.
	assert.Equal(t, []any{"No facts identified that conflict with the Indian Constitution."}, data["mismatches"])
}

func TestTimeline_UnknownCase(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	rec, parsed := do(t, r, http.MethodGet, "/api/cases/CASE_19700101000000/timeline", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CASE_NOT_FOUND", errorCode(t, parsed))
}

func TestToggleEvent_RoundTrip(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	rec, parsed := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/timeline/0/toggle", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, parsed["data"].(map[string]any)["is_important"])

	rec, parsed = do(t, r, http.MethodGet, "/api/cases/"+caseID+"/timeline", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	timeline := parsed["data"].(map[string]any)["timeline"].([]any)
	assert.Equal(t, true, timeline[0].(map[string]any)["is_important"])

	rec, parsed = do(t, r, http.MethodPost, "/api/cases/"+caseID+"/timeline/0/toggle", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, parsed["data"].(map[string]any)["is_important"])
}

func TestToggleEvent_BadIndex(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	rec, parsed := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/timeline/abc/toggle", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_EVENT_INDEX", errorCode(t, parsed))

	rec, parsed = do(t, r, http.MethodPost, "/api/cases/"+caseID+"/timeline/5/toggle", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_EVENT_INDEX", errorCode(t, parsed))
}

func TestDownloadDocument_RoundTrip(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	req := httptest.NewRequest(http.MethodGet, "/api/cases/"+caseID+"/documents/0/file", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Contract signed in 2020.", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "contract.txt")
}

func TestDownloadDocument_Errors(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	rec, parsed := do(t, r, http.MethodGet, "/api/cases/"+caseID+"/documents/abc/file", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_DOCUMENT_INDEX", errorCode(t, parsed))

	rec, parsed = do(t, r, http.MethodGet, "/api/cases/"+caseID+"/documents/3/file", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", errorCode(t, parsed))

	rec, parsed = do(t, r, http.MethodGet, "/api/cases/CASE_19700101000000/documents/0/file", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CASE_NOT_FOUND", errorCode(t, parsed))
}

func TestChat_RoundTrip(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		analysisReply("Sharma", "2020", "Contract signed"),
		"The suit is maintainable.",
	}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	payload := bytes.NewBufferString(`{"message": "Is the suit maintainable?"}`)
	rec, parsed := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/chat", payload, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The suit is maintainable.", parsed["data"].(map[string]any)["response"])
}

func TestChat_FormField(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		analysisReply("Sharma", "2020", "Contract signed"),
		"Yes.",
	}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	payload := bytes.NewBufferString("message=Is+the+suit+maintainable%3F")
	rec, parsed := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/chat", payload, "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Yes.", parsed["data"].(map[string]any)["response"])
}

func TestChat_MissingMessage(t *testing.T) {
	llm := &scriptedLLM{replies: []string{analysisReply("Sharma", "2020", "Contract signed")}}
	r := newTestRouter(t, llm)
	caseID := createCase(t, r)

	payload := bytes.NewBufferString(`{}`)
	rec, parsed := do(t, r, http.MethodPost, "/api/cases/"+caseID+"/chat", payload, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_MESSAGE", errorCode(t, parsed))
}

func TestChat_UnknownCase(t *testing.T) {
	r := newTestRouter(t, &scriptedLLM{})
	payload := bytes.NewBufferString(`{"message": "hello"}`)
	rec, parsed := do(t, r, http.MethodPost, "/api/cases/CASE_19700101000000/chat", payload, "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CASE_NOT_FOUND", errorCode(t, parsed))
}
