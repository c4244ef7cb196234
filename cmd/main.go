package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/beacon-core/auth"
	"github.com/beacon-core/config"
	"github.com/beacon-core/handlers"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
	"github.com/beacon-core/services/impl"
	"github.com/beacon-core/services/memory"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schema. The pgvector extension, the beacon
	// schema and the ANN index are created by scripts/create_tables.go.
	if err := db.AutoMigrate(
		&models.Institution{},
		&models.User{},
		&models.Document{},
		&models.DocumentMetadata{},
		&models.DocumentText{},
		&models.EmbeddingChunk{},
		&models.AuditEvent{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis client for retrieval cache and thread memory
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Printf("Warning: Redis connection failed, caching and threads disabled: %v", err)
			redisClient = nil
		} else {
			log.Println("Redis connection established")
		}
	}

	cacheService := impl.NewCacheServiceWithRedis(redisClient, &cfg.Redis)
	threadMemory := memory.NewThreadMemoryService(redisClient, cfg.Redis.ThreadTTL)

	// Initialize services
	auditService := impl.NewAuditService(db)
	identityService := impl.NewIdentityService(db, auditService)
	institutionService := impl.NewInstitutionService(db, auditService)
	vectorStore := impl.NewVectorStore(db, cfg.Embedder.Dimension)
	documentService := impl.NewDocumentService(db, vectorStore, auditService, cacheService,
		time.Duration(cfg.Embedding.ReclaimAfter)*time.Second)

	objectStore := impl.NewObjectStoreFetcher(&cfg.ObjectStore)
	chunker := impl.NewChunker(cfg.Embedding.ChunkSize, cfg.Embedding.ChunkOverlap)
	embedder := impl.NewEmbedder(&cfg.Embedder)
	coordinator := impl.NewEmbeddingCoordinator(documentService, objectStore, chunker, embedder, vectorStore,
		cfg.Embedding.MaxConcurrentBuilds)

	retriever := impl.NewRetriever(db, embedder, vectorStore, coordinator, cacheService,
		&cfg.Retrieval, cfg.Redis.RetrievalCacheTTL)
	llmService := impl.NewLLMService(&cfg.LLM)
	answerer := impl.NewAnswerer(retriever, documentService, llmService, threadMemory, &cfg.LLM)

	// Initialize handlers
	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)
	institutionHandlers := handlers.NewInstitutionHandlers(institutionService, identityService, jwtValidator)
	documentHandlers := handlers.NewDocumentHandlers(documentService, coordinator, auditService)
	queryHandlers := handlers.NewQueryHandlers(answerer, retriever, threadMemory)

	// Setup router
	router := setupRouter(institutionHandlers, documentHandlers, queryHandlers, jwtValidator, identityService, cfg)

	// Start server
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Beacon server starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

func setupRouter(
	institutionHandlers *handlers.InstitutionHandlers,
	documentHandlers *handlers.DocumentHandlers,
	queryHandlers *handlers.QueryHandlers,
	jwtValidator *auth.JWTValidator,
	identityService services.IdentityService,
	cfg *config.Config,
) *gin.Engine {
	// Set gin mode based on environment
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "beacon",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(jwtValidator, identityService))

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", institutionHandlers.RegisterUser)
		authRoutes.GET("/me", institutionHandlers.GetCurrentUser)
	}

	v1.POST("/users/:id/approve", institutionHandlers.ApproveUser)

	ministries := v1.Group("/ministries")
	{
		ministries.POST("", institutionHandlers.CreateMinistry)
		ministries.GET("", institutionHandlers.ListMinistries)
		ministries.GET("/:id/institutions", institutionHandlers.ListInstitutions)
	}

	institutions := v1.Group("/institutions")
	{
		institutions.POST("", institutionHandlers.CreateInstitution)
		institutions.GET("/:id", institutionHandlers.GetInstitution)
		institutions.DELETE("/:id", institutionHandlers.DeleteInstitution)
	}

	documents := v1.Group("/documents")
	{
		documents.POST("", documentHandlers.CreateDocument)
		documents.GET("", documentHandlers.ListDocuments)
		documents.GET("/:id", documentHandlers.GetDocument)
		documents.DELETE("/:id", documentHandlers.DeleteDocument)
		documents.POST("/:id/transition", documentHandlers.TransitionDocument)
		documents.POST("/:id/embed", documentHandlers.EmbedDocument)
		documents.GET("/:id/access", documentHandlers.EvaluateAccess)
		documents.GET("/:id/metadata", documentHandlers.GetDocumentMetadata)
		documents.GET("/:id/audit", documentHandlers.GetDocumentAudit)
	}

	v1.POST("/query", queryHandlers.Query)
	v1.POST("/retrieve", queryHandlers.Retrieve)
	threads := v1.Group("/threads")
	{
		threads.GET("/:id", queryHandlers.GetThread)
		threads.DELETE("/:id", queryHandlers.ClearThread)
	}

	return router
}

// authMiddleware resolves the request's viewer. A missing Authorization
// header yields the anonymous public viewer; a present but invalid token is
// rejected. Role and institution always come from the database, not the
// token, so revocations apply immediately.
func authMiddleware(validator *auth.JWTValidator, identityService services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Set("viewer", models.Viewer{
				UserID: uuid.Nil,
				Role:   models.RolePublicViewer,
			})
			c.Next()
			return
		}

		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		userID, err := validator.ExtractUserID(claims)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			c.Abort()
			return
		}

		viewer, err := identityService.ResolveViewer(c.Request.Context(), userID)
		if err != nil {
			// A valid token for an unapproved account is a permission
			// problem, not an authentication one.
			status := http.StatusUnauthorized
			if errors.Is(err, models.ErrUnauthorized) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": "Account not usable", "details": err.Error()})
			c.Abort()
			return
		}

		c.Set("viewer", viewer)
		c.Next()
	}
}
