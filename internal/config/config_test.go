package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901") // 32 bytes
}

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func newTestManager(t *testing.T) (*ConfigManager, string) {
	t.Helper()
	path := tempConfigPath(t)
	cm, err := NewConfigManagerWithKey(path, testKey())
	if err != nil {
		t.Fatalf("NewConfigManagerWithKey: %v", err)
	}
	cm.getenv = func(string) string { return "" }
	return cm, path
}

func TestNewConfigManagerWithKey_InvalidKeyLength(t *testing.T) {
	if _, err := NewConfigManagerWithKey("test.json", []byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoad_CreatesDefaultOnMissing(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal("config file was not created")
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	cfg := cm.Get()
	if cfg.Server.Port != 8080 || cfg.Server.MaxUploadMB != 20 || cfg.Server.GenerateRatePerMinute != 10 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.LLM.TimeoutSeconds != 60 || cfg.LLM.MaxTokens != 4096 {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Render.ImageTimeoutSeconds != 10 || cfg.Render.ImageCacheSize != 64 {
		t.Errorf("render defaults = %+v", cfg.Render)
	}
	if cfg.Log.Level != "info" || cfg.Log.RotationSizeMB != 10 {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.LLM.APIKey != "" {
		t.Error("default config must not carry an API key")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cm.config.LLM.APIKey = "sk-test-secret-key-12345"
	cm.config.LLM.Endpoint = "https://api.example.com/v1"
	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cm2, _ := NewConfigManagerWithKey(path, testKey())
	cm2.getenv = func(string) string { return "" }
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := cm2.Get()
	if cfg.LLM.APIKey != "sk-test-secret-key-12345" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Endpoint != "https://api.example.com/v1" {
		t.Errorf("LLM.Endpoint = %q", cfg.LLM.Endpoint)
	}
}

func TestSave_APIKeyEncryptedOnDisk(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cm.config.LLM.APIKey = "my-secret-llm-key"
	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "my-secret-llm-key") {
		t.Error("LLM API key found in plaintext on disk")
	}
	if !strings.Contains(string(data), encryptedPrefix) {
		t.Error("encrypted prefix not found in file")
	}
}

func TestLoad_WrongKeyFails(t *testing.T) {
	cm, path := newTestManager(t)
	cm.Load()
	cm.Update(map[string]interface{}{"llm.api_key": "secret"})

	other, _ := NewConfigManagerWithKey(path, []byte("abcdefghijabcdefghijabcdefghij12"))
	if err := other.Load(); err == nil {
		t.Error("expected decrypt error with a different key")
	}
}

func TestUpdate_AppliesAndPersists(t *testing.T) {
	cm, path := newTestManager(t)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	updates := map[string]interface{}{
		"llm.endpoint":                    "https://new-api.example.com",
		"llm.api_key":                     "new-key",
		"llm.model_name":                  "gpt-4o",
		"llm.temperature":                 0.2,
		"llm.max_tokens":                  1024,
		"llm.timeout_seconds":             json.Number("30"),
		"render.image_cache_size":         -1,
		"render.max_image_mb":             5,
		"render.font_path":                " auto ",
		"server.allowed_origins":          []interface{}{"https://a.example", "https://b.example"},
		"server.max_upload_mb":            50,
		"log.level":                       "DEBUG",
		"log.development":                 true,
		"server.generate_rate_per_minute": 3,
	}
	if err := cm.Update(updates); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cm2, _ := NewConfigManagerWithKey(path, testKey())
	cm2.getenv = func(string) string { return "" }
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := cm2.Get()
	if cfg.LLM.ModelName != "gpt-4o" || cfg.LLM.APIKey != "new-key" || cfg.LLM.TimeoutSeconds != 30 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 0.2 || cfg.LLM.MaxTokens != 1024 {
		t.Errorf("llm numbers = %+v", cfg.LLM)
	}
	if cfg.Render.ImageCacheSize != -1 || cfg.Render.MaxImageMB != 5 || cfg.Render.FontPath != "auto" {
		t.Errorf("render = %+v", cfg.Render)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.MaxUploadMB != 50 || cfg.Server.GenerateRatePerMinute != 3 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Development {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestUpdate_AccessPasswordIsHashed(t *testing.T) {
	cm, path := newTestManager(t)
	cm.Load()
	if err := cm.Update(map[string]interface{}{"server.access_password": "letmein"}); err != nil {
		t.Fatal(err)
	}
	hash := cm.Get().Server.AccessPasswordHash
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("letmein")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "letmein") {
		t.Error("plaintext password written to disk")
	}

	cm.Update(map[string]interface{}{"server.access_password": ""})
	if cm.Get().Server.AccessPasswordHash != "" {
		t.Error("empty password should disable the guard")
	}
}

func TestUpdate_StringValues(t *testing.T) {
	cm, _ := newTestManager(t)
	cm.Load()
	err := cm.Update(map[string]interface{}{
		"server.port":            "9090",
		"llm.temperature":        "0.5",
		"log.development":        "true",
		"server.allowed_origins": "https://a.example, https://b.example",
		"server.access_password": "123456",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	cfg := cm.Get()
	if cfg.Server.Port != 9090 || cfg.LLM.Temperature != 0.5 || !cfg.Log.Development {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
	if bcrypt.CompareHashAndPassword([]byte(cfg.Server.AccessPasswordHash), []byte("123456")) != nil {
		t.Error("numeric-looking password not stored as a hash")
	}

	for key, val := range map[string]string{
		"server.port":     "eighty",
		"log.development": "maybe",
	} {
		if err := cm.Update(map[string]interface{}{key: val}); err == nil {
			t.Errorf("%s=%q accepted", key, val)
		}
	}
}

func TestUpdate_Rejects(t *testing.T) {
	cases := map[string]interface{}{
		"unknown.key":            "value",
		"server.port":            70000,
		"llm.temperature":        5.0,
		"llm.max_tokens":         0,
		"llm.endpoint":           42,
		"log.level":              "loud",
		"log.development":        "yes",
		"server.allowed_origins": 3,
	}
	for key, val := range cases {
		cm, _ := newTestManager(t)
		cm.Load()
		before := cm.Get()
		if err := cm.Update(map[string]interface{}{key: val}); err == nil {
			t.Errorf("Update(%s=%v) should fail", key, val)
		}
		after := cm.Get()
		if after.Server.Port != before.Server.Port || after.LLM.Temperature != before.LLM.Temperature {
			t.Errorf("failed update of %s leaked partial changes", key)
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	cm, _ := newTestManager(t)
	cm.Load()

	cfg1 := cm.Get()
	cfg1.LLM.Endpoint = "modified"
	cfg1.Server.AllowedOrigins[0] = "modified"

	cfg2 := cm.Get()
	if cfg2.LLM.Endpoint == "modified" || cfg2.Server.AllowedOrigins[0] == "modified" {
		t.Error("Get did not return a copy")
	}
}

func TestLoad_PlaintextAPIKey(t *testing.T) {
	path := tempConfigPath(t)
	raw := map[string]interface{}{
		"llm": map[string]interface{}{"api_key": "plaintext-key"},
	}
	data, _ := json.Marshal(raw)
	os.WriteFile(path, data, 0600)

	cm, _ := NewConfigManagerWithKey(path, testKey())
	cm.getenv = func(string) string { return "" }
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := cm.Get()
	if cfg.LLM.APIKey != "plaintext-key" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 8080 || cfg.LLM.TimeoutSeconds != 60 {
		t.Error("defaults not applied to a partial file")
	}
}

func TestGet_EnvOverridesNotPersisted(t *testing.T) {
	cm, path := newTestManager(t)
	env := map[string]string{
		EnvAPIKey:   "env-key",
		EnvEndpoint: "https://env.example/v1",
		EnvModel:    "env-model",
		EnvPort:     "9090",
	}
	cm.getenv = func(k string) string { return env[k] }
	if err := cm.Load(); err != nil {
		t.Fatal(err)
	}

	cfg := cm.Get()
	if cfg.LLM.APIKey != "env-key" || cfg.LLM.Endpoint != "https://env.example/v1" || cfg.LLM.ModelName != "env-model" {
		t.Errorf("llm overrides = %+v", cfg.LLM)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port override = %d", cfg.Server.Port)
	}

	if err := cm.Save(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	for _, v := range env {
		if strings.Contains(string(data), v) {
			t.Errorf("override %q written back to disk", v)
		}
	}
}

func TestGet_InvalidPortOverrideIgnored(t *testing.T) {
	cm, _ := newTestManager(t)
	cm.getenv = func(k string) string {
		if k == EnvPort {
			return "not-a-port"
		}
		return ""
	}
	cm.Load()
	if cm.Get().Server.Port != 8080 {
		t.Error("invalid port override should be ignored")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("SLIDEGEN_TEST_DOTENV=from-file\n"), 0600)
	t.Setenv("SLIDEGEN_TEST_DOTENV", "")
	os.Unsetenv("SLIDEGEN_TEST_DOTENV")

	if err := LoadEnvFiles(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv("SLIDEGEN_TEST_DOTENV"); got != "from-file" {
		t.Errorf("env = %q", got)
	}
}

func TestNewConfigManager_KeyFile(t *testing.T) {
	t.Setenv(encryptionKeyEnvVar, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cm1, err := NewConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "encryption.key")); err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	cm2, err := NewConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(cm1.encryptionKey) != string(cm2.encryptionKey) {
		t.Error("second manager should reuse the persisted key")
	}
}

func TestEncryptDecrypt_RoundTripProperty(t *testing.T) {
	cm, _ := newTestManager(t)
	rapid.Check(t, func(rt *rapid.T) {
		secret := rapid.String().Draw(rt, "secret")
		enc := cm.encryptIfNeeded(secret)
		if secret != "" && !strings.HasPrefix(enc, encryptedPrefix) {
			rt.Fatalf("missing prefix: %q", enc)
		}
		dec, err := cm.decryptIfNeeded(enc)
		if err != nil {
			rt.Fatalf("decrypt: %v", err)
		}
		if dec != secret {
			rt.Fatalf("round trip: got %q, want %q", dec, secret)
		}
	})
}
