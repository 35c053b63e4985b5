package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (zai, deepseek, openai, siliconflow, ollama) use the same config.
	AIProvider string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	AIAPIKey   string // LLM API key
	AIBaseURL  string // LLM base URL (optional, has default per provider)
	AIModel    string // Model name: glm-4.7, deepseek-chat, gpt-4o, etc.
	AITimeout  int    // LLM request timeout in seconds (default: 120)

	// AI participation triggers. Each clause of the reply decision can be
	// switched off independently; keywords are case-insensitive substrings.
	AITriggerPrivate  bool
	AITriggerMention  bool
	AITriggerKeywords bool
	AIKeywords        []string
	AISystemPrompt    string
	AIContextWindow   int // rolling history messages handed to the LLM
	AIWorkers         int // reply worker pool size
	AIQueueSize       int // pending reply queue; overflow is dropped

	// Other configurations
	Mode          string
	Addr          string
	Port          int
	MetricsAddr   string // diagnostics HTTP listen address, empty disables
	Data          string
	Driver        string
	DSN           string
	Version       string
	AdminPassword string // initial password of the reserved admin user

	// File transfer
	FileRoot     string   // blob storage root, defaults under Data
	MaxFileMB    int64
	FileExts     []string // allowed upload extensions, without dot
	MaxConns     int      // accepted TCP connection cap
	HistoryLimit int      // messages replayed on entering a group

	// Flood control for chat_message frames, per connection.
	ChatRatePerSec float64
	ChatBurst      int

	AIEnabled bool
}

// Provider default configurations for LLM.
// Used when the base URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

const defaultAdminPassword = "admin123"

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the AI participant should run.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != ""
}

// MaxFileBytes returns the configured upload size limit in bytes.
func (p *Profile) MaxFileBytes() int64 {
	return p.MaxFileMB << 20
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.AIProvider = getEnvOrDefault("PARLEY_AI_LLM_PROVIDER", "zai")
	p.AIAPIKey = getEnvOrDefault("PARLEY_AI_LLM_API_KEY", "")
	p.AIBaseURL = getEnvOrDefault("PARLEY_AI_LLM_BASE_URL", "")
	p.AIModel = getEnvOrDefault("PARLEY_AI_LLM_MODEL", "")
	p.AITimeout = getEnvOrDefaultInt("PARLEY_AI_LLM_TIMEOUT_SECONDS", 120)

	// AI is enabled if API key is configured
	p.AIEnabled = p.AIAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.AIProvider != "" {
		if _, ok := llmProviderDefaults[p.AIProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: zai", "provider", p.AIProvider)
			p.AIProvider = "zai"
		}
	}
	if p.AIBaseURL == "" || p.AIModel == "" {
		if defaults, ok := llmProviderDefaults[p.AIProvider]; ok {
			if p.AIBaseURL == "" {
				p.AIBaseURL = defaults.BaseURL
			}
			if p.AIModel == "" {
				p.AIModel = defaults.Model
			}
		}
	}

	// Reply triggers
	p.AITriggerPrivate = getEnvOrDefaultBool("PARLEY_AI_TRIGGER_PRIVATE", true)
	p.AITriggerMention = getEnvOrDefaultBool("PARLEY_AI_TRIGGER_MENTION", true)
	p.AITriggerKeywords = getEnvOrDefaultBool("PARLEY_AI_TRIGGER_KEYWORDS", true)
	p.AIKeywords = splitList(getEnvOrDefault("PARLEY_AI_TRIGGER_KEYWORD_LIST", ""))
	p.AISystemPrompt = getEnvOrDefault("PARLEY_AI_SYSTEM_PROMPT", "")
	p.AIContextWindow = getEnvOrDefaultInt("PARLEY_AI_CONTEXT_WINDOW", 20)
	p.AIWorkers = getEnvOrDefaultInt("PARLEY_AI_WORKERS", 2)
	p.AIQueueSize = getEnvOrDefaultInt("PARLEY_AI_QUEUE_SIZE", 32)

	// Admin bootstrap
	p.AdminPassword = getEnvOrDefault("PARLEY_ADMIN_PASSWORD", defaultAdminPassword)

	// Transfer and flood-control limits
	p.MaxFileMB = int64(getEnvOrDefaultInt("PARLEY_MAX_FILE_MB", 100))
	p.FileRoot = getEnvOrDefault("PARLEY_FILE_ROOT", "")
	if exts := getEnvOrDefault("PARLEY_FILE_EXTENSIONS", ""); exts != "" {
		p.FileExts = splitList(strings.ToLower(exts))
	}
	p.MaxConns = getEnvOrDefaultInt("PARLEY_MAX_CONNECTIONS", 1024)
	p.HistoryLimit = getEnvOrDefaultInt("PARLEY_HISTORY_LIMIT", 50)
	p.ChatRatePerSec = float64(getEnvOrDefaultInt("PARLEY_CHAT_RATE_PER_SECOND", 10))
	p.ChatBurst = getEnvOrDefaultInt("PARLEY_CHAT_BURST", 20)
	p.MetricsAddr = getEnvOrDefault("PARLEY_METRICS_ADDR", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "parley")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/parley"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("parley_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.FileRoot == "" {
		p.FileRoot = filepath.Join(dataDir, "files")
	}
	if err := os.MkdirAll(p.FileRoot, 0770); err != nil {
		return errors.Wrapf(err, "unable to create file root %s", p.FileRoot)
	}

	if len(p.FileExts) == 0 {
		p.FileExts = []string{
			"txt", "md", "pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
			"png", "jpg", "jpeg", "gif", "webp", "mp3", "mp4", "zip", "tar", "gz",
		}
	}

	if p.Mode == "prod" && p.AdminPassword == defaultAdminPassword {
		slog.Warn("admin account is using the default password, set PARLEY_ADMIN_PASSWORD")
	}

	return nil
}
