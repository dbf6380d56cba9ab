package main

import (
	"context"
	"log"
	"os"

	"casebuilder-backend/handlers"
	"casebuilder-backend/repository"
	"casebuilder-backend/service"
	"casebuilder-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	// Try current directory first, then project root
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	// Initialize storage
	fileStorage, err := storage.NewStorageFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Println("Storage initialized")

	// Initialize case registry
	caseRepo := repository.NewCaseRepository()

	// Initialize Gemini client
	geminiClient, err := initGemini()
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}
	llmOpts := []service.GeminiOption{service.GeminiWithClient(geminiClient)}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		llmOpts = append(llmOpts, service.GeminiWithModel(model))
	}
	llm := service.NewGeminiClient(os.Getenv("GEMINI_API_KEY"), llmOpts...)

	// Initialize services
	extractService := service.NewExtractService(
		service.ExtractWithBinaries(
			os.Getenv("PDFTOTEXT_BIN"),
			os.Getenv("PDFTOPPM_BIN"),
			os.Getenv("TESSERACT_BIN"),
		),
	)

	analysisService := service.NewAnalysisService(
		service.AnalysisWithLLMClient(llm),
	)

	timelineService := service.NewTimelineService(
		service.TimelineWithCaseRepository(caseRepo),
	)

	chatService := service.NewChatService(
		service.ChatWithCaseRepository(caseRepo),
		service.ChatWithLLMClient(llm),
	)

	// Initialize handlers
	caseHandler := handlers.NewCaseHandler(caseRepo, extractService, analysisService, timelineService, chatService, fileStorage)

	// Setup Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		// Case endpoints
		api.POST("/cases", caseHandler.CreateCase)
		api.GET("/cases", caseHandler.ListCases)
		api.POST("/cases/:id/documents", caseHandler.AddDocument)
		api.GET("/cases/:id/documents/:index/file", caseHandler.DownloadDocument)
		api.GET("/cases/:id/timeline", caseHandler.GetTimeline)
		api.POST("/cases/:id/timeline/:index/toggle", caseHandler.ToggleEvent)
		api.POST("/cases/:id/chat", caseHandler.Chat)
	}

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initGemini() (*genai.Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	log.Println("Gemini client initialized")
	return client, nil
}
