package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// TestFromEnvDefaults 测试未设置环境变量时的默认配置。
func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"AIProvider default", "zai", profile.AIProvider},
		{"AIBaseURL default", "https://open.bigmodel.cn/api/paas/v4", profile.AIBaseURL},
		{"AIModel default", "glm-4.7", profile.AIModel},
		{"AIAPIKey default", "", profile.AIAPIKey},
		{"AITimeout default", "120", strconv.Itoa(profile.AITimeout)},
		{"AIContextWindow default", "20", strconv.Itoa(profile.AIContextWindow)},
		{"AIWorkers default", "2", strconv.Itoa(profile.AIWorkers)},
		{"AIQueueSize default", "32", strconv.Itoa(profile.AIQueueSize)},
		{"AdminPassword default", "admin123", profile.AdminPassword},
		{"MaxFileMB default", "100", strconv.FormatInt(profile.MaxFileMB, 10)},
		{"MaxConns default", "1024", strconv.Itoa(profile.MaxConns)},
		{"HistoryLimit default", "50", strconv.Itoa(profile.HistoryLimit)},
		{"ChatBurst default", "20", strconv.Itoa(profile.ChatBurst)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.AIEnabled {
		t.Error("AIEnabled: expected false without an API key")
	}
	if !profile.AITriggerPrivate || !profile.AITriggerMention || !profile.AITriggerKeywords {
		t.Error("reply triggers: expected all enabled by default")
	}
	if len(profile.AIKeywords) != 0 {
		t.Errorf("AIKeywords: expected empty, got %v", profile.AIKeywords)
	}
	if profile.ChatRatePerSec != 10 {
		t.Errorf("ChatRatePerSec: expected 10, got %v", profile.ChatRatePerSec)
	}
	if profile.MetricsAddr != "" {
		t.Errorf("MetricsAddr: expected empty, got %q", profile.MetricsAddr)
	}
}

// TestFromEnvOverrides 测试从环境变量读取配置。
func TestFromEnvOverrides(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("PARLEY_AI_LLM_PROVIDER", "deepseek")
	os.Setenv("PARLEY_AI_LLM_API_KEY", "test-key")
	os.Setenv("PARLEY_AI_TRIGGER_MENTION", "false")
	os.Setenv("PARLEY_AI_TRIGGER_KEYWORD_LIST", " 帮我 , help ,,翻译 ")
	os.Setenv("PARLEY_FILE_EXTENSIONS", "TXT, Pdf ,jpg")
	os.Setenv("PARLEY_MAX_FILE_MB", "8")
	os.Setenv("PARLEY_CHAT_BURST", "5")

	profile := &Profile{}
	profile.FromEnv()

	if profile.AIProvider != "deepseek" {
		t.Errorf("AIProvider: expected deepseek, got %q", profile.AIProvider)
	}
	if profile.AIBaseURL != "https://api.deepseek.com" {
		t.Errorf("AIBaseURL: expected deepseek default, got %q", profile.AIBaseURL)
	}
	if profile.AIModel != "deepseek-chat" {
		t.Errorf("AIModel: expected deepseek-chat, got %q", profile.AIModel)
	}
	if !profile.AIEnabled {
		t.Error("AIEnabled: expected true with an API key")
	}
	if profile.AITriggerMention {
		t.Error("AITriggerMention: expected disabled")
	}
	if !profile.AITriggerPrivate {
		t.Error("AITriggerPrivate: expected still enabled")
	}

	wantKeywords := []string{"帮我", "help", "翻译"}
	if len(profile.AIKeywords) != len(wantKeywords) {
		t.Fatalf("AIKeywords: expected %v, got %v", wantKeywords, profile.AIKeywords)
	}
	for i, kw := range wantKeywords {
		if profile.AIKeywords[i] != kw {
			t.Errorf("AIKeywords[%d]: expected %q, got %q", i, kw, profile.AIKeywords[i])
		}
	}

	wantExts := []string{"txt", "pdf", "jpg"}
	if len(profile.FileExts) != len(wantExts) {
		t.Fatalf("FileExts: expected %v, got %v", wantExts, profile.FileExts)
	}
	for i, ext := range wantExts {
		if profile.FileExts[i] != ext {
			t.Errorf("FileExts[%d]: expected %q, got %q", i, ext, profile.FileExts[i])
		}
	}

	if profile.MaxFileMB != 8 {
		t.Errorf("MaxFileMB: expected 8, got %d", profile.MaxFileMB)
	}
	if profile.MaxFileBytes() != 8<<20 {
		t.Errorf("MaxFileBytes: expected %d, got %d", 8<<20, profile.MaxFileBytes())
	}
	if profile.ChatBurst != 5 {
		t.Errorf("ChatBurst: expected 5, got %d", profile.ChatBurst)
	}
}

// TestFromEnvUnknownProvider 测试未知 provider 回退到 zai。
func TestFromEnvUnknownProvider(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("PARLEY_AI_LLM_PROVIDER", "banana")

	profile := &Profile{}
	profile.FromEnv()

	if profile.AIProvider != "zai" {
		t.Errorf("AIProvider: expected fallback zai, got %q", profile.AIProvider)
	}
	if profile.AIBaseURL != "https://open.bigmodel.cn/api/paas/v4" {
		t.Errorf("AIBaseURL: expected zai default, got %q", profile.AIBaseURL)
	}
}

// TestFromEnvExplicitBaseURL 测试显式 base URL 与模型不被默认值覆盖。
func TestFromEnvExplicitBaseURL(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	os.Setenv("PARLEY_AI_LLM_PROVIDER", "openai")
	os.Setenv("PARLEY_AI_LLM_BASE_URL", "https://proxy.example.com/v1")
	os.Setenv("PARLEY_AI_LLM_MODEL", "gpt-4o-mini")

	profile := &Profile{}
	profile.FromEnv()

	if profile.AIBaseURL != "https://proxy.example.com/v1" {
		t.Errorf("AIBaseURL: expected explicit value kept, got %q", profile.AIBaseURL)
	}
	if profile.AIModel != "gpt-4o-mini" {
		t.Errorf("AIModel: expected explicit value kept, got %q", profile.AIModel)
	}
}

// TestIsAIEnabled 测试 IsAIEnabled 逻辑。
func TestIsAIEnabled(t *testing.T) {
	profile := &Profile{}
	if profile.IsAIEnabled() {
		t.Error("IsAIEnabled: expected false without an API key")
	}
	profile.AIAPIKey = "test-key"
	if !profile.IsAIEnabled() {
		t.Error("IsAIEnabled: expected true with an API key")
	}
}

// TestIsDev 测试运行模式判断。
func TestIsDev(t *testing.T) {
	tests := []struct {
		mode     string
		expected bool
	}{
		{"dev", true},
		{"demo", true},
		{"prod", false},
	}
	for _, tt := range tests {
		profile := &Profile{Mode: tt.mode}
		if profile.IsDev() != tt.expected {
			t.Errorf("IsDev(%q): expected %v", tt.mode, tt.expected)
		}
	}
}

// TestValidate 测试目录与默认值的收尾处理。
func TestValidate(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}

	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}

	if want := filepath.Join(dir, "parley_dev.db"); profile.DSN != want {
		t.Errorf("DSN: expected %q, got %q", want, profile.DSN)
	}
	if want := filepath.Join(dir, "files"); profile.FileRoot != want {
		t.Errorf("FileRoot: expected %q, got %q", want, profile.FileRoot)
	}
	if fi, err := os.Stat(profile.FileRoot); err != nil || !fi.IsDir() {
		t.Errorf("FileRoot: expected directory created, got err=%v", err)
	}
	if len(profile.FileExts) == 0 {
		t.Fatal("FileExts: expected defaults applied")
	}
	found := false
	for _, ext := range profile.FileExts {
		if ext == "png" {
			found = true
		}
	}
	if !found {
		t.Errorf("FileExts: expected png in defaults, got %v", profile.FileExts)
	}

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		dir := t.TempDir()
		profile := &Profile{Mode: "bogus", Driver: "sqlite", Data: dir}
		if err := profile.Validate(); err != nil {
			t.Fatalf("Validate: unexpected error: %v", err)
		}
		if profile.Mode != "demo" {
			t.Errorf("Mode: expected demo, got %q", profile.Mode)
		}
		if want := filepath.Join(dir, "parley_demo.db"); profile.DSN != want {
			t.Errorf("DSN: expected %q, got %q", want, profile.DSN)
		}
	})

	t.Run("explicit DSN and file root kept", func(t *testing.T) {
		dir := t.TempDir()
		fileRoot := filepath.Join(dir, "blobs")
		profile := &Profile{
			Mode:     "dev",
			Driver:   "sqlite",
			Data:     dir,
			DSN:      filepath.Join(dir, "custom.db"),
			FileRoot: fileRoot,
		}
		if err := profile.Validate(); err != nil {
			t.Fatalf("Validate: unexpected error: %v", err)
		}
		if want := filepath.Join(dir, "custom.db"); profile.DSN != want {
			t.Errorf("DSN: expected %q, got %q", want, profile.DSN)
		}
		if profile.FileRoot != fileRoot {
			t.Errorf("FileRoot: expected %q, got %q", fileRoot, profile.FileRoot)
		}
		if fi, err := os.Stat(fileRoot); err != nil || !fi.IsDir() {
			t.Errorf("FileRoot: expected directory created, got err=%v", err)
		}
	})
}

// TestValidateMissingDataDir 测试数据目录不存在时报错。
func TestValidateMissingDataDir(t *testing.T) {
	profile := &Profile{Mode: "dev", Driver: "sqlite", Data: filepath.Join(t.TempDir(), "missing")}
	if err := profile.Validate(); err == nil {
		t.Fatal("Validate: expected error for missing data directory")
	}
}

// clearEnvVars 清除所有 PARLEY_ 相关的环境变量。
func clearEnvVars() {
	suffixes := []string{
		"AI_LLM_PROVIDER",
		"AI_LLM_API_KEY",
		"AI_LLM_BASE_URL",
		"AI_LLM_MODEL",
		"AI_LLM_TIMEOUT_SECONDS",
		"AI_TRIGGER_PRIVATE",
		"AI_TRIGGER_MENTION",
		"AI_TRIGGER_KEYWORDS",
		"AI_TRIGGER_KEYWORD_LIST",
		"AI_SYSTEM_PROMPT",
		"AI_CONTEXT_WINDOW",
		"AI_WORKERS",
		"AI_QUEUE_SIZE",
		"ADMIN_PASSWORD",
		"MAX_FILE_MB",
		"FILE_ROOT",
		"FILE_EXTENSIONS",
		"MAX_CONNECTIONS",
		"HISTORY_LIMIT",
		"CHAT_RATE_PER_SECOND",
		"CHAT_BURST",
		"METRICS_ADDR",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("PARLEY_" + suffix)
	}
}
