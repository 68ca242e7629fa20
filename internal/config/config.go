package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// 支持的大模型提供方。
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// 支持的存储后端。
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	LLM    LLMConfig
	Store  StoreConfig
	Model  ModelConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	store := loadStoreConfig()

	modelCfg, err := loadModelConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		LLM:    llm,
		Store:  store,
		Model:  modelCfg,
		Log:    loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string
}

// Addr 返回监听地址；未设置 PORT 时使用各服务自己的默认端口。
func (c ServerConfig) Addr(defaultPort string) string {
	port := c.Port
	if port == "" {
		port = defaultPort
	}
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port
	}
	return ":" + port
}

// loadServerConfig 解析服务器监听端口。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Port: port}, nil
}

// LLMConfig 描述大模型相关配置。
type LLMConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Region      string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c LLMConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c LLMConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("LLM credentials or model missing: set NVIDIA_API_KEY (or LLM_API_KEY) and LLM_MODEL")
	}

	temperature := c.Temperature
	topP := c.TopP
	maxTokens := c.MaxTokens

	switch c.Provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Timeout:     c.Timeout,
			Temperature: &temperature,
			TopP:        &topP,
			MaxTokens:   &maxTokens,
		})
	case ProviderArk:
		timeout := c.Timeout
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			Timeout:     &timeout,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadLLMConfig() (LLMConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return LLMConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature := 0.4
	if override, err := parseOptionalFloatEnv("LLM_TEMPERATURE"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	topP := 0.7
	if override, err := parseOptionalFloatEnv("LLM_TOP_P"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		topP = *override
	}

	maxTokens := 1500
	if override, err := parseOptionalIntEnv("LLM_MAX_TOKENS"); err != nil {
		return LLMConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return LLMConfig{}, fmt.Errorf("invalid LLM_MAX_TOKENS value %d", *override)
		}
		maxTokens = *override
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 2*time.Minute)
	if err != nil {
		return LLMConfig{}, err
	}

	cfg := LLMConfig{
		Provider:    provider,
		Temperature: float32(temperature),
		TopP:        float32(topP),
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}

	if provider == ProviderArk {
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		cfg.BaseURL = getEnvOrDefault("LLM_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
		return cfg, nil
	}

	cfg.APIKey = getEnvOrDefault("LLM_API_KEY", strings.TrimSpace(os.Getenv("NVIDIA_API_KEY")))
	cfg.BaseURL = getEnvOrDefault("LLM_BASE_URL", "https://integrate.api.nvidia.com/v1")
	cfg.Model = getEnvOrDefault("LLM_MODEL", "writer/palmyra-med-70b-32k")
	return cfg, nil
}

// StoreConfig 描述会话与报告存储配置。
type StoreConfig struct {
	Driver          string
	CredentialsPath string
	ProjectID       string
	DatabaseURL     string
}

// Validate 检查存储配置；只有使用存储的服务才需要调用。
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case DriverFirestore, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER value %q", c.Driver)
	}
	return nil
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:          strings.ToLower(getEnvOrDefault("STORE_DRIVER", DriverFirestore)),
		CredentialsPath: strings.TrimSpace(os.Getenv("FIRESTORE_CREDENTIALS")),
		ProjectID:       strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

// ModelConfig 描述肺炎分类模型配置。
type ModelConfig struct {
	Path             string
	RuntimeLibrary   string
	GradCAMLayer     string
	RequireGrayscale bool
	MaxUploadBytes   int64
}

func loadModelConfig() (ModelConfig, error) {
	grayscale, err := parseBoolEnv("PREDICT_REQUIRE_GRAYSCALE", false)
	if err != nil {
		return ModelConfig{}, err
	}

	maxUpload := int64(32 << 20)
	if override, err := parseOptionalIntEnv("PREDICT_MAX_UPLOAD_BYTES"); err != nil {
		return ModelConfig{}, err
	} else if override != nil && *override > 0 {
		maxUpload = int64(*override)
	}

	return ModelConfig{
		Path:             getEnvOrDefault("MODEL_PATH", "pneumonia_xray_classifier.onnx"),
		RuntimeLibrary:   strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB")),
		GradCAMLayer:     getEnvOrDefault("MODEL_GRADCAM_LAYER", "mixed8"),
		RequireGrayscale: grayscale,
		MaxUploadBytes:   maxUpload,
	}, nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
