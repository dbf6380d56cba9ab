package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"casebuilder-backend/repository"
	"casebuilder-backend/service"
	"casebuilder-backend/storage"

	"github.com/gin-gonic/gin"
)

// CaseHandler handles HTTP requests for case operations
type CaseHandler struct {
	caseRepo    *repository.CaseRepository
	extractSvc  *service.ExtractService
	analysisSvc *service.AnalysisService
	timelineSvc *service.TimelineService
	chatSvc     *service.ChatService
	storage     storage.Storage
	maxFileSize int64
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(caseRepo *repository.CaseRepository, extractSvc *service.ExtractService, analysisSvc *service.AnalysisService, timelineSvc *service.TimelineService, chatSvc *service.ChatService, store storage.Storage) *CaseHandler {
	return &CaseHandler{
		caseRepo:    caseRepo,
		extractSvc:  extractSvc,
		analysisSvc: analysisSvc,
		timelineSvc: timelineSvc,
		chatSvc:     chatSvc,
		storage:     store,
		maxFileSize: 10 * 1024 * 1024, // 10MB
	}
}

// CreateCase handles POST /api/cases
func (h *CaseHandler) CreateCase(c *gin.Context) {
	outcome, ok := h.ingestDocument(c, "")
	if !ok {
		return
	}

	caseRecord := h.caseRepo.CreateCase()
	if err := h.caseRepo.AppendDocument(caseRecord.ID, outcome.Analysis); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": fmt.Sprintf("Failed to record document: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"case_id":  caseRecord.ID,
			"message":  "Case created successfully",
			"degraded": outcome.Degraded,
		},
	})
}

// AddDocument handles POST /api/cases/:id/documents
func (h *CaseHandler) AddDocument(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := h.caseRepo.GetDocuments(caseID); err != nil {
		h.writeCaseError(c, err)
		return
	}

	outcome, ok := h.ingestDocument(c, caseID)
	if !ok {
		return
	}

	if err := h.caseRepo.AppendDocument(caseID, outcome.Analysis); err != nil {
		h.writeCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"case_id":  caseID,
			"message":  "Case updated successfully",
			"degraded": outcome.Degraded,
		},
	})
}

// ListCases handles GET /api/cases
func (h *CaseHandler) ListCases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"cases": h.caseRepo.ListCases(),
		},
	})
}

// GetTimeline handles GET /api/cases/:id/timeline
func (h *CaseHandler) GetTimeline(c *gin.Context) {
	view, err := h.timelineSvc.BuildTimeline(c.Param("id"))
	if err != nil {
		h.writeCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}

// ToggleEvent handles POST /api/cases/:id/timeline/:index/toggle
func (h *CaseHandler) ToggleEvent(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_EVENT_INDEX",
				"message": "Event index must be an integer",
			},
		})
		return
	}

	important, err := h.timelineSvc.ToggleImportant(c.Param("id"), position)
	if err != nil {
		h.writeCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"message":      "Event importance updated",
			"is_important": important,
		},
	})
}

// DownloadDocument handles GET /api/cases/:id/documents/:index/file
func (h *CaseHandler) DownloadDocument(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_DOCUMENT_INDEX",
				"message": "Document index must be a non-negative integer",
			},
		})
		return
	}

	docs, err := h.caseRepo.GetDocuments(c.Param("id"))
	if err != nil {
		h.writeCaseError(c, err)
		return
	}
	if index >= len(docs) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOCUMENT_NOT_FOUND",
				"message": "Document not found",
			},
		})
		return
	}
	doc := docs[index]

	reader, err := h.storage.Download(c.Request.Context(), doc.FilePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": fmt.Sprintf("Failed to download file: %v", err),
			},
		})
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": fmt.Sprintf("Failed to read file: %v", err),
			},
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	c.Data(http.StatusOK, contentTypeFor(doc.FileName), data)
}

// contentTypeFor maps an accepted filename to its MIME type.
func contentTypeFor(filename string) string {
	switch service.NormalizeExt(filepath.Ext(filename)) {
	case "pdf":
		return "application/pdf"
	case "txt":
		return "text/plain"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}

// Chat handles POST /api/cases/:id/chat
func (h *CaseHandler) Chat(c *gin.Context) {
	message := c.PostForm("message")
	if message == "" {
		// JSON bodies are accepted as well as form fields.
		var req struct {
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&req); err == nil {
			message = req.Message
		}
	}
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_MESSAGE",
				"message": "Message is required",
			},
		})
		return
	}

	answer, err := h.chatSvc.Ask(c.Request.Context(), c.Param("id"), message)
	if err != nil {
		h.writeCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"response": answer,
		},
	})
}

// ingestDocument runs the shared upload pipeline: validate the multipart
// file, persist it, extract its text, and analyze it. On failure it writes
// the error response itself and returns ok=false.
func (h *CaseHandler) ingestDocument(c *gin.Context, caseID string) (*service.AnalysisOutcome, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "File is required",
			},
		})
		return nil, false
	}

	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize),
			},
		})
		return nil, false
	}

	format := service.NormalizeExt(filepath.Ext(fileHeader.Filename))
	if !service.SupportedFormat(format) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FILE_TYPE",
				"message": "File type not allowed. Allowed types: PDF, TXT, DOCX",
			},
		})
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_OPEN_ERROR",
				"message": err.Error(),
			},
		})
		return nil, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_OPEN_ERROR",
				"message": err.Error(),
			},
		})
		return nil, false
	}

	if len(content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EMPTY_FILE",
				"message": "Uploaded file is empty",
			},
		})
		return nil, false
	}

	storageKey := caseID
	if storageKey == "" {
		storageKey = "incoming"
	}
	storagePath, err := h.storage.Upload(c.Request.Context(), storageKey, fileHeader.Filename, bytes.NewReader(content))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPLOAD_FAILED",
				"message": fmt.Sprintf("Failed to upload file: %v", err),
			},
		})
		return nil, false
	}

	text, err := h.extractSvc.ExtractText(c.Request.Context(), content, format)
	if err != nil {
		h.storage.Delete(c.Request.Context(), storagePath)
		h.writeCaseError(c, err)
		return nil, false
	}

	outcome, err := h.analysisSvc.Analyze(c.Request.Context(), service.AnalyzeRequest{
		Text:         text,
		FileName:     fileHeader.Filename,
		FilePath:     storagePath,
		DocumentTag:  c.PostForm("document_tag"),
		KeyEventsTag: c.PostForm("key_events_tag"),
	})
	if err != nil {
		h.storage.Delete(c.Request.Context(), storagePath)
		h.writeCaseError(c, err)
		return nil, false
	}

	return outcome, true
}

// writeCaseError maps service and repository errors to the wire envelope.
func (h *CaseHandler) writeCaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CASE_NOT_FOUND",
				"message": "Case not found",
			},
		})
	case errors.Is(err, service.ErrInvalidPosition), errors.Is(err, repository.ErrEventNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_EVENT_INDEX",
				"message": "Event index out of range",
			},
		})
	case errors.Is(err, service.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FILE_TYPE",
				"message": "File type not allowed. Allowed types: PDF, TXT, DOCX",
			},
		})
	case errors.Is(err, service.ErrEmptyInput), errors.Is(err, service.ErrExtraction):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EXTRACTION_FAILED",
				"message": fmt.Sprintf("Could not extract text: %v", err),
			},
		})
	case errors.Is(err, service.ErrSchemaValidation):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "SCHEMA_ERROR",
				"message": "Analysis response failed validation",
			},
		})
	case errors.Is(err, service.ErrLLMService):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LLM_ERROR",
				"message": "Language model service unavailable",
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
	}
}
