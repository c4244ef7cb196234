package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Auth        AuthConfig        `json:"auth"`
	Logging     LoggingConfig     `json:"logging"`
	Embedder    EmbedderConfig    `json:"embedder"`
	LLM         LLMConfig         `json:"llm"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Redis       RedisConfig       `json:"redis"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Retrieval   RetrievalConfig   `json:"retrieval"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	JWTExpiration  int      `json:"jwt_expiration"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// EmbedderConfig holds configuration for the embedding provider API
type EmbedderConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	Timeout   int    `json:"timeout"`
	Dimension int    `json:"dimension"`
	BatchSize int    `json:"batch_size"`
}

// LLMConfig holds configuration for the answer-generation model API
type LLMConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	Model             string `json:"model"`
	Timeout           int    `json:"timeout"`
	MaxRetries        int    `json:"max_retries"`
	MaxTokens         int    `json:"max_tokens"`
	MaxToolIterations int    `json:"max_tool_iterations"`
}

// ObjectStoreConfig holds configuration for fetching raw document objects
type ObjectStoreConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	Timeout        int    `json:"timeout"`
	MaxObjectBytes int64  `json:"max_object_bytes"`
	MaxRetries     int    `json:"max_retries"` // extra attempts after a transient failure
}

// RedisConfig holds configuration for retrieval caching and thread memory
type RedisConfig struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	Password             string `json:"password"`
	DB                   int    `json:"db"`
	RetrievalCacheTTL    int    `json:"retrieval_cache_ttl"` // seconds
	EnableRetrievalCache bool   `json:"enable_retrieval_cache"`
	ThreadTTL            int    `json:"thread_ttl"` // seconds
}

// EmbeddingConfig tunes the lazy embedding pipeline
type EmbeddingConfig struct {
	MaxConcurrentBuilds int `json:"max_concurrent_builds"`
	ReclaimAfter        int `json:"reclaim_after"` // seconds before a stale claim is taken over
	ChunkSize           int `json:"chunk_size"`    // characters per window
	ChunkOverlap        int `json:"chunk_overlap"` // characters shared between neighbours
}

// RetrievalConfig tunes the hybrid retriever
type RetrievalConfig struct {
	TopK                  int  `json:"top_k"`
	CandidateLimit        int  `json:"candidate_limit"`          // documents considered for lazy embedding per query
	VectorLimit           int  `json:"vector_limit"`             // rows fetched by the vector leg before fusion
	KeywordLimit          int  `json:"keyword_limit"`            // rows fetched by the keyword leg before fusion
	RRFConstant           int  `json:"rrf_constant"`             // rank dampening constant for fusion
	AllowPendingInResults bool `json:"allow_pending_in_results"` // serve pending/under_review content
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "beacon"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "beacon"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			JWTExpiration:  getEnvAsInt("JWT_EXPIRATION", 3600),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Embedder: EmbedderConfig{
			BaseURL:   getEnv("EMBEDDER_BASE_URL", "http://localhost:8090"),
			APIKey:    getEnv("EMBEDDER_API_KEY", ""),
			Model:     getEnv("EMBEDDER_MODEL", "bge-m3"),
			Timeout:   getEnvAsInt("EMBEDDER_TIMEOUT", 60),
			Dimension: getEnvAsInt("EMBEDDER_DIMENSION", 1024),
			BatchSize: getEnvAsInt("EMBEDDER_BATCH_SIZE", 32),
		},
		LLM: LLMConfig{
			BaseURL:           getEnv("LLM_BASE_URL", "http://localhost:8091"),
			APIKey:            getEnv("LLM_API_KEY", ""),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout:           getEnvAsInt("LLM_TIMEOUT", 60),
			MaxRetries:        getEnvAsInt("LLM_MAX_RETRIES", 3),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 2048),
			MaxToolIterations: getEnvAsInt("LLM_MAX_TOOL_ITERATIONS", 4),
		},
		ObjectStore: ObjectStoreConfig{
			BaseURL:        getEnv("OBJECT_STORE_BASE_URL", ""),
			APIKey:         getEnv("OBJECT_STORE_API_KEY", ""),
			Timeout:        getEnvAsInt("OBJECT_STORE_TIMEOUT", 30),
			MaxObjectBytes: int64(getEnvAsInt("OBJECT_STORE_MAX_BYTES", 50*1024*1024)),
			MaxRetries:     getEnvAsInt("OBJECT_STORE_MAX_RETRIES", 2),
		},
		Redis: RedisConfig{
			Host:                 getEnv("REDIS_HOST", "localhost"),
			Port:                 getEnvAsInt("REDIS_PORT", 6379),
			Password:             getEnv("REDIS_PASSWORD", ""),
			DB:                   getEnvAsInt("REDIS_DB", 0),
			RetrievalCacheTTL:    getEnvAsInt("REDIS_RETRIEVAL_CACHE_TTL", 300),
			EnableRetrievalCache: getEnvAsBool("REDIS_ENABLE_RETRIEVAL_CACHE", true),
			ThreadTTL:            getEnvAsInt("REDIS_THREAD_TTL", 3600),
		},
		Embedding: EmbeddingConfig{
			MaxConcurrentBuilds: getEnvAsInt("EMBEDDING_MAX_CONCURRENT_BUILDS", 4),
			ReclaimAfter:        getEnvAsInt("EMBEDDING_RECLAIM_AFTER", 1800),
			ChunkSize:           getEnvAsInt("EMBEDDING_CHUNK_SIZE", 1600),
			ChunkOverlap:        getEnvAsInt("EMBEDDING_CHUNK_OVERLAP", 200),
		},
		Retrieval: RetrievalConfig{
			TopK:                  getEnvAsInt("RETRIEVAL_TOP_K", 5),
			CandidateLimit:        getEnvAsInt("RETRIEVAL_CANDIDATE_LIMIT", 16),
			VectorLimit:           getEnvAsInt("RETRIEVAL_VECTOR_LIMIT", 20),
			KeywordLimit:          getEnvAsInt("RETRIEVAL_KEYWORD_LIMIT", 20),
			RRFConstant:           getEnvAsInt("RETRIEVAL_RRF_CONSTANT", 60),
			AllowPendingInResults: getEnvAsBool("ACCESS_ALLOW_PENDING_IN_RESULTS", true),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	if config.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive (EMBEDDER_DIMENSION)")
	}

	if config.Embedding.ChunkOverlap >= config.Embedding.ChunkSize {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	if config.Embedding.MaxConcurrentBuilds < 1 {
		return fmt.Errorf("at least one concurrent embedding build is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
