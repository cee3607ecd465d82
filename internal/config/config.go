// Package config provides configuration management with encrypted API key storage.
// It supports loading, saving, partial updates and environment overrides.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"slidegen/internal/llm"
)

// encryptionKeyEnvVar is the environment variable name for the AES encryption key.
const encryptionKeyEnvVar = "SLIDEGEN_ENCRYPTION_KEY"

// encryptedPrefix marks a value as AES-encrypted in the config file.
const encryptedPrefix = "enc:"

// Environment variables that override file values in memory only.
const (
	EnvAPIKey   = "SLIDEGEN_LLM_API_KEY"
	EnvEndpoint = "SLIDEGEN_LLM_ENDPOINT"
	EnvModel    = "SLIDEGEN_LLM_MODEL"
	EnvPort     = "SLIDEGEN_PORT"
)

// DefaultPath is where the config file lives unless told otherwise.
const DefaultPath = "./data/config.json"

// Config holds all system configuration.
type Config struct {
	Server ServerConfig `json:"server"`
	LLM    LLMConfig    `json:"llm"`
	Render RenderConfig `json:"render"`
	Log    LogConfig    `json:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `json:"port"`
	// AccessPasswordHash is a bcrypt hash; empty disables the password guard.
	AccessPasswordHash string `json:"access_password_hash"`
	MaxUploadMB        int    `json:"max_upload_mb"`
	// GenerateRatePerMinute limits presentation generation per client IP.
	GenerateRatePerMinute int      `json:"generate_rate_per_minute"`
	AllowedOrigins        []string `json:"allowed_origins"`
}

// LLMConfig holds AI backend configuration.
type LLMConfig struct {
	Endpoint       string  `json:"endpoint"`
	APIKey         string  `json:"api_key"`
	ModelName      string  `json:"model_name"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// RenderConfig holds image fetching and PDF rendering configuration.
type RenderConfig struct {
	ImageTimeoutSeconds int `json:"image_timeout_seconds"`
	MaxImageMB          int `json:"max_image_mb"`
	// ImageCacheSize is the number of image URLs kept in memory; negative disables.
	ImageCacheSize int    `json:"image_cache_size"`
	TempDir        string `json:"temp_dir"`
	// FontPath selects the text font: "" uses core Helvetica, "auto"
	// searches installed fonts, anything else is a .ttf path.
	FontPath     string `json:"font_path"`
	BoldFontPath string `json:"bold_font_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Dir            string `json:"dir"`
	Level          string `json:"level"`
	RotationSizeMB int    `json:"rotation_size_mb"`
	Development    bool   `json:"development"`
}

// ConfigManager manages loading, saving, and updating configuration.
type ConfigManager struct {
	configPath    string
	config        *Config
	mu            sync.RWMutex
	encryptionKey []byte // 32-byte AES-256 key
	getenv        func(string) string
}

// NewConfigManager creates a ConfigManager for the given config file path.
// The AES key comes from SLIDEGEN_ENCRYPTION_KEY, else from encryption.key
// next to the config file, else it is generated and written there.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	key, err := getOrCreateEncryptionKey(filepath.Dir(configPath))
	if err != nil {
		return nil, fmt.Errorf("encryption key error: %w", err)
	}
	return &ConfigManager{
		configPath:    configPath,
		encryptionKey: key,
		getenv:        os.Getenv,
	}, nil
}

// NewConfigManagerWithKey creates a ConfigManager with an explicit encryption key (for testing).
func NewConfigManagerWithKey(configPath string, key []byte) (*ConfigManager, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes for AES-256")
	}
	return &ConfigManager{
		configPath:    configPath,
		encryptionKey: key,
		getenv:        os.Getenv,
	}, nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  8080,
			MaxUploadMB:           20,
			GenerateRatePerMinute: 10,
			AllowedOrigins:        []string{"*"},
		},
		LLM: LLMConfig{
			Endpoint:       llm.DefaultEndpoint,
			ModelName:      llm.DefaultModel,
			Temperature:    0.7,
			MaxTokens:      4096,
			TimeoutSeconds: int(llm.DefaultTimeout.Seconds()),
		},
		Render: RenderConfig{
			ImageTimeoutSeconds: 10,
			MaxImageMB:          10,
			ImageCacheSize:      64,
		},
		Log: LogConfig{
			Dir:            "./data/logs",
			Level:          "info",
			RotationSizeMB: 10,
		},
	}
}

// Load reads the config file from disk and decrypts the API key.
// If the file does not exist, it initializes with default values and saves.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.config = DefaultConfig()
			return cm.saveLocked()
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if cfg.LLM.APIKey, err = cm.decryptIfNeeded(cfg.LLM.APIKey); err != nil {
		return fmt.Errorf("decrypt LLM API key: %w", err)
	}

	cm.applyDefaults(&cfg)
	cm.config = &cfg
	return nil
}

// Save writes the current config to disk with the API key encrypted.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.saveLocked()
}

// saveLocked writes config to disk. Caller must hold at least a read lock.
func (cm *ConfigManager) saveLocked() error {
	if cm.config == nil {
		return errors.New("no config loaded")
	}

	out := cm.config.clone()
	out.LLM.APIKey = cm.encryptIfNeeded(cm.config.LLM.APIKey)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(cm.configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration with environment
// overrides applied.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return nil
	}
	c := cm.config.clone()
	cm.applyEnv(c)
	return c
}

func (c *Config) clone() *Config {
	out := *c
	if c.Server.AllowedOrigins != nil {
		out.Server.AllowedOrigins = append([]string{}, c.Server.AllowedOrigins...)
	}
	return &out
}

// applyEnv overlays environment variables. Invalid port values are ignored.
func (cm *ConfigManager) applyEnv(c *Config) {
	getenv := cm.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvEndpoint)); v != "" {
		c.LLM.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		c.LLM.ModelName = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 65535 {
			c.Server.Port = n
		}
	}
}

// Update applies partial updates to the configuration and saves to disk.
// Keys are dotted paths such as "llm.api_key" or "server.port";
// "server.access_password" is stored as a bcrypt hash. Numeric and boolean
// keys also accept their string form, as typed on the command line.
func (cm *ConfigManager) Update(updates map[string]interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config == nil {
		cm.config = DefaultConfig()
	}

	next := cm.config.clone()
	for key, val := range updates {
		if err := applyUpdate(next, key, val); err != nil {
			return fmt.Errorf("update key %q: %w", key, err)
		}
	}
	cm.config = next
	return cm.saveLocked()
}

func applyUpdate(cfg *Config, key string, val interface{}) error {
	switch key {
	// Server fields
	case "server.port":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		if n < 1 || n > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.Server.Port = n
	case "server.max_upload_mb":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.Server.MaxUploadMB = n
	case "server.generate_rate_per_minute":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.Server.GenerateRatePerMinute = n
	case "server.allowed_origins":
		origins, err := toStrings(val)
		if err != nil {
			return err
		}
		cfg.Server.AllowedOrigins = origins
	case "server.access_password_hash":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.Server.AccessPasswordHash = s
	case "server.access_password":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		if s == "" {
			cfg.Server.AccessPasswordHash = ""
			return nil
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		cfg.Server.AccessPasswordHash = string(hash)

	// LLM fields
	case "llm.endpoint":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.LLM.Endpoint = s
	case "llm.api_key":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.LLM.APIKey = s
	case "llm.model_name":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.LLM.ModelName = s
	case "llm.temperature":
		f, err := toFloat64(val)
		if err != nil {
			return err
		}
		if f < 0 || f > 2 {
			return errors.New("temperature must be between 0 and 2")
		}
		cfg.LLM.Temperature = f
	case "llm.max_tokens":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.LLM.MaxTokens = n
	case "llm.timeout_seconds":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.LLM.TimeoutSeconds = n

	// Render fields
	case "render.image_timeout_seconds":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.Render.ImageTimeoutSeconds = n
	case "render.max_image_mb":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.Render.MaxImageMB = n
	case "render.image_cache_size":
		n, err := toInt(val)
		if err != nil {
			return err
		}
		cfg.Render.ImageCacheSize = n
	case "render.temp_dir":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.Render.TempDir = s
	case "render.font_path":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.Render.FontPath = strings.TrimSpace(s)
	case "render.bold_font_path":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.Render.BoldFontPath = strings.TrimSpace(s)

	// Log fields
	case "log.dir":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		cfg.Log.Dir = s
	case "log.level":
		s, ok := val.(string)
		if !ok {
			return errors.New("expected string")
		}
		switch strings.ToLower(s) {
		case "debug", "info", "warn", "error":
			cfg.Log.Level = strings.ToLower(s)
		default:
			return fmt.Errorf("unknown log level %q", s)
		}
	case "log.rotation_size_mb":
		n, err := positiveInt(val)
		if err != nil {
			return err
		}
		cfg.Log.RotationSizeMB = n
	case "log.development":
		b, err := toBool(val)
		if err != nil {
			return err
		}
		cfg.Log.Development = b

	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// applyDefaults fills in zero-value fields with defaults.
func (cm *ConfigManager) applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Server.GenerateRatePerMinute == 0 {
		cfg.Server.GenerateRatePerMinute = defaults.Server.GenerateRatePerMinute
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = defaults.Server.AllowedOrigins
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = defaults.LLM.Endpoint
	}
	if cfg.LLM.ModelName == "" {
		cfg.LLM.ModelName = defaults.LLM.ModelName
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = defaults.LLM.Temperature
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = defaults.LLM.TimeoutSeconds
	}
	if cfg.Render.ImageTimeoutSeconds == 0 {
		cfg.Render.ImageTimeoutSeconds = defaults.Render.ImageTimeoutSeconds
	}
	if cfg.Render.MaxImageMB == 0 {
		cfg.Render.MaxImageMB = defaults.Render.MaxImageMB
	}
	if cfg.Render.ImageCacheSize == 0 {
		cfg.Render.ImageCacheSize = defaults.Render.ImageCacheSize
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = defaults.Log.Dir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.RotationSizeMB == 0 {
		cfg.Log.RotationSizeMB = defaults.Log.RotationSizeMB
	}
}

// --- AES-GCM encryption helpers ---

// encrypt encrypts plaintext using AES-256-GCM.
func (cm *ConfigManager) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(cm.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// decrypt decrypts AES-256-GCM encrypted hex string.
func (cm *ConfigManager) decrypt(ciphertextHex string) (string, error) {
	if ciphertextHex == "" {
		return "", nil
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("hex decode: %w", err)
	}
	block, err := aes.NewCipher(cm.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// encryptIfNeeded encrypts a value and adds the "enc:" prefix.
// Empty strings are returned as-is.
func (cm *ConfigManager) encryptIfNeeded(value string) string {
	if value == "" {
		return ""
	}
	encrypted, err := cm.encrypt(value)
	if err != nil {
		return value
	}
	return encryptedPrefix + encrypted
}

// decryptIfNeeded decrypts a value if it has the "enc:" prefix.
// Unprefixed values (a hand-edited file) are returned as-is.
func (cm *ConfigManager) decryptIfNeeded(value string) (string, error) {
	if strings.HasPrefix(value, encryptedPrefix) && len(value) > len(encryptedPrefix) {
		return cm.decrypt(value[len(encryptedPrefix):])
	}
	return value, nil
}

// --- Encryption key management ---

func getOrCreateEncryptionKey(dataDir string) ([]byte, error) {
	if keyHex := os.Getenv(encryptionKeyEnvVar); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
		return key, nil
	}

	keyFile := filepath.Join(dataDir, "encryption.key")
	if data, err := os.ReadFile(keyFile); err == nil {
		if key, err := hex.DecodeString(strings.TrimSpace(string(data))); err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save encryption key: %w", err)
	}
	return key, nil
}

// --- Type conversion helpers ---

func toFloat64(val interface{}) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected numeric value, got %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", val)
	}
}

func toInt(val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected integer value, got %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", val)
	}
}

func toBool(val interface{}) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", val)
	}
}

func positiveInt(val interface{}) (int, error) {
	n, err := toInt(val)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("must be at least 1")
	}
	return n, nil
}

func toStrings(val interface{}) ([]string, error) {
	switch v := val.(type) {
	case []string:
		return append([]string{}, v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, got %T element", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", val)
	}
}
