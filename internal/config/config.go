package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/reallychenchi/Mapijing/internal/service/dialog"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	E2E     E2EConfig
	AI      AIConfig
	ASR     ASRConfig
	TTS     TTSConfig
	Context ContextConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	e2e, err := loadE2EConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	asr := loadASRConfig()
	tts := loadTTSConfig()

	contextCfg, err := loadContextConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		E2E:     e2e,
		AI:      ai,
		ASR:     asr,
		TTS:     tts,
		Context: contextCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// E2EConfig 描述端到端实时语音对话服务配置。
type E2EConfig struct {
	AppID             string
	AccessKey         string
	BaseURL           string
	Model             string
	Speaker           string
	BotName           string
	SystemRole        string
	SpeakingStyle     string
	AudioFormat       string
	SampleRate        int
	EndSmoothWindowMs int
	RecvTimeout       int
	StrictAudit       bool
}

// Enabled 表示是否提供了必需的凭证。
func (c E2EConfig) Enabled() bool {
	return c.AppID != "" && c.AccessKey != ""
}

// DialogConfig 转换为对话服务配置。
func (c E2EConfig) DialogConfig() *dialog.Config {
	cfg := dialog.NewConfig(c.AppID, c.AccessKey)
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.Model != "" {
		cfg.Model = c.Model
	}
	if c.Speaker != "" {
		cfg.Speaker = c.Speaker
	}
	if c.BotName != "" {
		cfg.BotName = c.BotName
	}
	if c.SystemRole != "" {
		cfg.SystemRole = c.SystemRole
	}
	if c.SpeakingStyle != "" {
		cfg.SpeakingStyle = c.SpeakingStyle
	}
	if c.AudioFormat != "" {
		cfg.OutputAudioFormat = c.AudioFormat
	}
	if c.SampleRate > 0 {
		cfg.OutputSampleRate = c.SampleRate
	}
	if c.EndSmoothWindowMs > 0 {
		cfg.EndSmoothWindowMs = c.EndSmoothWindowMs
	}
	if c.RecvTimeout > 0 {
		cfg.RecvTimeout = c.RecvTimeout
	}
	cfg.StrictAudit = c.StrictAudit
	return cfg
}

func loadE2EConfig() (E2EConfig, error) {
	sampleRate, err := parseOptionalIntEnv("VOLC_E2E_SAMPLE_RATE")
	if err != nil {
		return E2EConfig{}, err
	}
	endSmooth, err := parseOptionalIntEnv("VOLC_E2E_END_SMOOTH_WINDOW_MS")
	if err != nil {
		return E2EConfig{}, err
	}
	recvTimeout, err := parseOptionalIntEnv("VOLC_E2E_RECV_TIMEOUT")
	if err != nil {
		return E2EConfig{}, err
	}
	strictAudit, err := parseBoolEnv("VOLC_E2E_STRICT_AUDIT", false)
	if err != nil {
		return E2EConfig{}, err
	}

	cfg := E2EConfig{
		AppID:         strings.TrimSpace(os.Getenv("VOLC_E2E_APP_ID")),
		AccessKey:     strings.TrimSpace(os.Getenv("VOLC_E2E_ACCESS_KEY")),
		BaseURL:       getEnvOrDefault("VOLC_E2E_URL", dialog.DefaultBaseURL),
		Model:         getEnvOrDefault("VOLC_E2E_MODEL", dialog.DefaultModel),
		Speaker:       getEnvOrDefault("VOLC_E2E_SPEAKER", dialog.DefaultSpeaker),
		BotName:       getEnvOrDefault("VOLC_E2E_BOT_NAME", dialog.DefaultBotName),
		SystemRole:    getEnvOrDefault("VOLC_E2E_SYSTEM_ROLE", dialog.DefaultSystemRole),
		SpeakingStyle: getEnvOrDefault("VOLC_E2E_SPEAKING_STYLE", dialog.DefaultSpeakingStyle),
		AudioFormat:   getEnvOrDefault("VOLC_E2E_AUDIO_FORMAT", dialog.DefaultAudioFormat),
		SampleRate:    dialog.DefaultSampleRate,
		StrictAudit:   strictAudit,
	}
	if sampleRate != nil {
		cfg.SampleRate = *sampleRate
	}
	if endSmooth != nil {
		cfg.EndSmoothWindowMs = *endSmooth
	}
	if recvTimeout != nil {
		cfg.RecvTimeout = *recvTimeout
	}
	return cfg, nil
}

// AIConfig 描述大模型相关配置（分阶段流水线的LLM）。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// ASRConfig 描述分阶段流水线的语音识别服务配置。
type ASRConfig struct {
	AppID     string
	AccessKey string
	URL       string
}

// Enabled 表示是否提供了必需的凭证。
func (c ASRConfig) Enabled() bool {
	return c.AppID != "" && c.AccessKey != ""
}

func loadASRConfig() ASRConfig {
	return ASRConfig{
		AppID:     strings.TrimSpace(os.Getenv("VOLC_ASR_APP_ID")),
		AccessKey: strings.TrimSpace(os.Getenv("VOLC_ASR_ACCESS_KEY")),
		URL:       getEnvOrDefault("VOLC_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"),
	}
}

// TTSConfig 描述分阶段流水线的语音合成服务配置。
type TTSConfig struct {
	AppID     string
	AccessKey string
	Voice     string
	URL       string
}

// Enabled 表示是否提供了必需的凭证。
func (c TTSConfig) Enabled() bool {
	return c.AppID != "" && c.AccessKey != ""
}

func loadTTSConfig() TTSConfig {
	return TTSConfig{
		AppID:     strings.TrimSpace(os.Getenv("VOLC_TTS_APP_ID")),
		AccessKey: strings.TrimSpace(os.Getenv("VOLC_TTS_ACCESS_KEY")),
		Voice:     getEnvOrDefault("VOLC_TTS_VOICE", "zh_female_cancan_mars_bigtts"),
		URL:       getEnvOrDefault("VOLC_TTS_URL", "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"),
	}
}

// ContextConfig 描述对话历史裁剪配置。
type ContextConfig struct {
	MaxTokens       int
	CharsPerToken   float64
	MinHistoryCount int
}

func loadContextConfig() (ContextConfig, error) {
	maxTokens, err := parseOptionalIntEnv("CONTEXT_MAX_TOKENS")
	if err != nil {
		return ContextConfig{}, err
	}
	charsPerToken, err := parseOptionalFloatEnv("CONTEXT_CHARS_PER_TOKEN")
	if err != nil {
		return ContextConfig{}, err
	}
	minHistory, err := parseOptionalIntEnv("CONTEXT_MIN_HISTORY_COUNT")
	if err != nil {
		return ContextConfig{}, err
	}

	cfg := ContextConfig{
		MaxTokens:       50000,
		CharsPerToken:   1.5,
		MinHistoryCount: 2,
	}
	if maxTokens != nil {
		cfg.MaxTokens = *maxTokens
	}
	if charsPerToken != nil {
		cfg.CharsPerToken = *charsPerToken
	}
	if minHistory != nil {
		cfg.MinHistoryCount = *minHistory
	}
	return cfg, nil
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
