package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"gptqual/internal/prompt"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

// Disabled turns off an optional surface (http_addr, db_path).
const Disabled = "off"

// ScheduledRun is one batch analysis executed on a cron schedule.
type ScheduledRun struct {
	Name         string `yaml:"name"`
	Schedule     string `yaml:"schedule"`
	InputPath    string `yaml:"input_path"`
	Column       string `yaml:"column"`
	Mode         string `yaml:"mode"`
	Prompt       string `yaml:"prompt"`
	OutputColumn string `yaml:"output_column"`
	Preview      bool   `yaml:"preview"`
}

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMMaxTokens    int    `yaml:"llm_max_tokens"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	AuditLogPath               string `yaml:"audit_log_path"`
	DBPath                     string `yaml:"db_path"`
	HTTPAddr                   string `yaml:"http_addr"`
	ExportDir                  string `yaml:"export_dir"`
	MaxUploadBytes             int    `yaml:"max_upload_bytes"`
	SessionTTLMinutes          int    `yaml:"session_ttl_minutes"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAppToken   string `yaml:"slack_app_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	Timezone      string         `yaml:"timezone"`
	ScheduledRuns []ScheduledRun `yaml:"scheduled_runs"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.AuditLogPath, "AUDIT_LOG_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.ExportDir, "EXPORT_DIR")
	envOverrideInt(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	envOverrideInt(&cfg.SessionTTLMinutes, "SESSION_TTL_MINUTES")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverrideAllowEmpty(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 100
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "gpt_qual.log"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./gptqual.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "./exports"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.SessionTTLMinutes == 0 {
		cfg.SessionTTLMinutes = 60
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Printf("WARNING: openai_api_key is not set. Web callers must send their own key in the X-API-Key header.")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		for name, val := range map[string]string{"slack_bot_token": cfg.SlackBotToken, "slack_app_token": cfg.SlackAppToken} {
			if val == "" {
				log.Fatalf("Partial Slack config: '%s' is not set (slack_bot_token and slack_app_token are required together)", name)
			}
		}
	}
	if !cfg.HTTPEnabled() && !cfg.SlackConfigured() && len(cfg.ScheduledRuns) == 0 {
		log.Fatalf("Nothing to run: http_addr is off, Slack is not configured and scheduled_runs is empty")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMMaxTokens < 1 {
		log.Fatalf("invalid llm_max_tokens '%d': must be >= 1", cfg.LLMMaxTokens)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.MaxUploadBytes < 1 {
		log.Fatalf("invalid max_upload_bytes '%d': must be >= 1", cfg.MaxUploadBytes)
	}
	if cfg.SessionTTLMinutes < 1 {
		log.Fatalf("invalid session_ttl_minutes '%d': must be >= 1", cfg.SessionTTLMinutes)
	}
	for i := range cfg.ScheduledRuns {
		run := &cfg.ScheduledRuns[i]
		if run.Name == "" {
			run.Name = fmt.Sprintf("run-%d", i+1)
		}
		if err := validateScheduledRun(*run); err != nil {
			log.Fatalf("invalid scheduled_runs entry '%s': %v", run.Name, err)
		}
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) HTTPEnabled() bool {
	return !strings.EqualFold(c.HTTPAddr, Disabled)
}

func (c Config) HistoryEnabled() bool {
	return !strings.EqualFold(c.DBPath, Disabled)
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func validateScheduledRun(run ScheduledRun) error {
	if _, err := cron.ParseStandard(run.Schedule); err != nil {
		return fmt.Errorf("schedule %q: %w", run.Schedule, err)
	}
	if strings.TrimSpace(run.InputPath) == "" {
		return fmt.Errorf("input_path is required")
	}
	if strings.TrimSpace(run.Column) == "" {
		return fmt.Errorf("column is required")
	}
	if _, err := prompt.ParseMode(run.Mode, run.Prompt); err != nil {
		return err
	}
	return nil
}
