package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when CHATBUDDY_CONFIG is unset. A missing file is not an error.
const DefaultConfigPath = "config/config.yaml"

type Config struct {
	ServiceName string `yaml:"service_name" json:"service_name"`

	Bot          BotConfig          `yaml:"bot" json:"bot"`
	NATS         NATSConfig         `yaml:"nats" json:"nats"`
	Redis        RedisConfig        `yaml:"redis" json:"redis"`
	Database     DatabaseConfig     `yaml:"database" json:"database"`
	LLM          LLMConfig          `yaml:"llm" json:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding" json:"embedding"`
	Search       SearchConfig       `yaml:"search" json:"search"`
	Conversation ConversationConfig `yaml:"conversation" json:"conversation"`
	Memory       MemoryConfig       `yaml:"memory" json:"memory"`
	Intent       IntentConfig       `yaml:"intent" json:"intent"`
	StateMachine StateMachineConfig `yaml:"state_machine" json:"state_machine"`
	Proactive    ProactiveConfig    `yaml:"proactive" json:"proactive"`
	SmartReply   SmartReplyConfig   `yaml:"smart_reply" json:"smart_reply"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// BotConfig describes the persona.
type BotConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Nickname    string   `yaml:"nickname" json:"nickname"`
	AdminID     string   `yaml:"admin_id" json:"admin_id"`
	Personality []string `yaml:"personality" json:"personality"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

type NATSConfig struct {
	URL             string        `yaml:"url" json:"url"`
	InboundSubject  string        `yaml:"inbound_subject" json:"inbound_subject"`
	OutboundSubject string        `yaml:"outbound_subject" json:"outbound_subject"`
	QueueGroup      string        `yaml:"queue_group" json:"queue_group"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LLMConfig targets any OpenAI-compatible chat endpoint (DeepSeek, Qwen compatible mode).
type LLMConfig struct {
	Provider    string          `yaml:"provider" json:"provider"`
	BaseURL     string          `yaml:"base_url" json:"base_url"`
	APIKey      string          `yaml:"api_key" json:"api_key"`
	Model       string          `yaml:"model" json:"model"`
	Temperature float64         `yaml:"temperature" json:"temperature"`
	MaxTokens   int             `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration   `yaml:"timeout" json:"timeout"`
	RetryDelays []time.Duration `yaml:"retry_delays" json:"retry_delays"`
}

type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type SearchConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Endpoint     string        `yaml:"endpoint" json:"endpoint"`
	APIKey       string        `yaml:"api_key" json:"api_key"`
	Model        string        `yaml:"model" json:"model"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	UseJudge     bool          `yaml:"use_judge" json:"use_judge"`
	JudgeTimeout time.Duration `yaml:"judge_timeout" json:"judge_timeout"`
	Keywords     []string      `yaml:"keywords" json:"keywords"`
}

type ConversationConfig struct {
	MaxMessages int           `yaml:"max_messages" json:"max_messages"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	CacheSize   int           `yaml:"cache_size" json:"cache_size"`
}

type MemoryConfig struct {
	Backend         string  `yaml:"backend" json:"backend"`
	SemanticEnabled bool    `yaml:"semantic_enabled" json:"semantic_enabled"`
	SearchResults   int     `yaml:"search_results" json:"search_results"`
	DistanceCutoff  float64 `yaml:"distance_cutoff" json:"distance_cutoff"`
}

type IntentConfig struct {
	CounterQuestion    bool          `yaml:"counter_question" json:"counter_question"`
	Sarcasm            bool          `yaml:"sarcasm" json:"sarcasm"`
	TopicTracking      bool          `yaml:"topic_tracking" json:"topic_tracking"`
	StackSize          int           `yaml:"stack_size" json:"stack_size"`
	QuestionWindow     time.Duration `yaml:"question_window" json:"question_window"`
	SarcasmThreshold   float64       `yaml:"sarcasm_threshold" json:"sarcasm_threshold"`
	PunctuationWeight  float64       `yaml:"punctuation_weight" json:"punctuation_weight"`
	ToneWeight         float64       `yaml:"tone_weight" json:"tone_weight"`
	PatternWeight      float64       `yaml:"pattern_weight" json:"pattern_weight"`
	SwitchThreshold    int           `yaml:"switch_threshold" json:"switch_threshold"`
	RelevanceThreshold float64       `yaml:"relevance_threshold" json:"relevance_threshold"`
	HistorySize        int           `yaml:"history_size" json:"history_size"`
	Precedence         []string      `yaml:"precedence" json:"precedence"`
	LexiconFile        string        `yaml:"lexicon_file" json:"lexicon_file"`
}

type StateMachineConfig struct {
	StatePrompts      bool          `yaml:"state_prompts" json:"state_prompts"`
	OpeningMessages   int           `yaml:"opening_messages" json:"opening_messages"`
	ClosingTimeout    time.Duration `yaml:"closing_timeout" json:"closing_timeout"`
	SwitchingDwell    time.Duration `yaml:"switching_dwell" json:"switching_dwell"`
	SwitchingMessages int           `yaml:"switching_messages" json:"switching_messages"`
}

type ProactiveConfig struct {
	Enabled           bool            `yaml:"enabled" json:"enabled"`
	Schedule          string          `yaml:"schedule" json:"schedule"`
	ConversationKeys  []string        `yaml:"conversation_keys" json:"conversation_keys"`
	ColdThresholds    []time.Duration `yaml:"cold_thresholds" json:"cold_thresholds"`
	ColdProbabilities []float64       `yaml:"cold_probabilities" json:"cold_probabilities"`
	WhenMentioned     float64         `yaml:"when_mentioned" json:"when_mentioned"`
	WhenRelevant      float64         `yaml:"when_relevant" json:"when_relevant"`
	WhenCold          float64         `yaml:"when_cold" json:"when_cold"`
	Cooldown          time.Duration   `yaml:"cooldown" json:"cooldown"`
	MaxPerHour        int             `yaml:"max_per_hour" json:"max_per_hour"`
	Topics            []string        `yaml:"topics" json:"topics"`
	RecentTopics      int             `yaml:"recent_topics" json:"recent_topics"`
}

type SmartReplyConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	TriggerRate float64       `yaml:"trigger_rate" json:"trigger_rate"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServiceName: "chatbuddy",
		Bot: BotConfig{
			Name:     "沉舟",
			Nickname: "舟舟",
			Personality: []string{
				"说话简短随意，像群里的普通朋友",
				"偶尔吐槽，但不刻薄",
				"不知道的事情直接说不知道，不要编造",
			},
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			InboundSubject:  "chat.inbound",
			OutboundSubject: "chat.outbound",
			QueueGroup:      "chatbuddy",
			Timeout:         30 * time.Second,
		},
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		Database: DatabaseConfig{Path: "data/chatbuddy.db"},
		LLM: LLMConfig{
			Provider:    "deepseek",
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			Temperature: 0.7,
			MaxTokens:   500,
			Timeout:     20 * time.Second,
			RetryDelays: []time.Duration{time.Second, 3 * time.Second, 5 * time.Second},
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:   "text-embedding-v3",
			Timeout: 10 * time.Second,
		},
		Search: SearchConfig{
			Enabled:      false,
			Endpoint:     "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation",
			Model:        "qwen-plus",
			Timeout:      20 * time.Second,
			UseJudge:     true,
			JudgeTimeout: 5 * time.Second,
			Keywords: []string{
				"天气", "气温", "温度", "下雨", "晴天", "阴天",
				"时间", "几点", "现在", "日期", "星期",
				"新闻", "热搜", "最新", "今天",
				"笑话", "段子",
				"股票", "金价", "油价", "汇率", "美元", "人民币",
			},
		},
		Conversation: ConversationConfig{
			MaxMessages: 30,
			Timeout:     30 * time.Minute,
			CacheSize:   10,
		},
		Memory: MemoryConfig{
			Backend:         "redis",
			SemanticEnabled: true,
			SearchResults:   5,
			DistanceCutoff:  0.5,
		},
		Intent: IntentConfig{
			CounterQuestion:    true,
			Sarcasm:            true,
			TopicTracking:      true,
			StackSize:          3,
			QuestionWindow:     5 * time.Minute,
			SarcasmThreshold:   0.6,
			PunctuationWeight:  0.25,
			ToneWeight:         0.35,
			PatternWeight:      0.35,
			SwitchThreshold:    3,
			RelevanceThreshold: 0.3,
			HistorySize:        10,
			Precedence:         []string{"sarcasm", "counter_question"},
		},
		StateMachine: StateMachineConfig{
			StatePrompts:      true,
			OpeningMessages:   2,
			ClosingTimeout:    5 * time.Minute,
			SwitchingDwell:    30 * time.Second,
			SwitchingMessages: 2,
		},
		Proactive: ProactiveConfig{
			Enabled:           false,
			Schedule:          "@every 1m",
			ColdThresholds:    []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute},
			ColdProbabilities: []float64{0.2, 0.5, 0.8},
			WhenMentioned:     0.8,
			WhenRelevant:      0.4,
			WhenCold:          0.6,
			Cooldown:          10 * time.Minute,
			MaxPerHour:        3,
			RecentTopics:      10,
		},
		SmartReply: SmartReplyConfig{
			Enabled:     true,
			TriggerRate: 0.5,
			MinInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			File:  "logs/chatbuddy.log",
		},
	}
}

// Load reads .env, the optional YAML file and environment overrides, in that order.
// It does not validate; callers run Validate before constructing components.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := Default()

	path := getEnv("CHATBUDDY_CONFIG", DefaultConfigPath)
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads a single YAML file over the defaults, without env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)

	c.Bot.Name = getEnv("BOT_NAME", c.Bot.Name)
	c.Bot.Nickname = getEnv("BOT_NICKNAME", c.Bot.Nickname)
	c.Bot.AdminID = getEnv("ADMIN_ID", c.Bot.AdminID)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.InboundSubject = getEnv("NATS_INBOUND_SUBJECT", c.NATS.InboundSubject)
	c.NATS.OutboundSubject = getEnv("NATS_OUTBOUND_SUBJECT", c.NATS.OutboundSubject)
	c.NATS.Timeout = getDurationEnv("NATS_TIMEOUT", c.NATS.Timeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getFloatEnv("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getIntEnv("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Timeout = getDurationEnv("LLM_TIMEOUT", c.LLM.Timeout)

	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)

	c.Search.Enabled = getBoolEnv("SEARCH_ENABLED", c.Search.Enabled)
	c.Search.APIKey = getEnv("DASHSCOPE_API_KEY", c.Search.APIKey)
	c.Search.Model = getEnv("SEARCH_MODEL", c.Search.Model)

	c.Conversation.MaxMessages = getIntEnv("MAX_MESSAGES", c.Conversation.MaxMessages)
	c.Conversation.Timeout = getDurationEnv("CONVERSATION_TIMEOUT", c.Conversation.Timeout)

	c.Memory.Backend = getEnv("MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.SemanticEnabled = getBoolEnv("SEMANTIC_MEMORY_ENABLED", c.Memory.SemanticEnabled)

	c.Proactive.Enabled = getBoolEnv("PROACTIVE_ENABLED", c.Proactive.Enabled)
	if keys := getEnv("PROACTIVE_CONVERSATION_KEYS", ""); keys != "" {
		c.Proactive.ConversationKeys = splitList(keys)
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
