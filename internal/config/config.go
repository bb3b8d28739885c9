package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort            = 2333
	defaultEnv             = "development"
	defaultDBHost          = "127.0.0.1"
	defaultDBPort          = 3306
	defaultDBUser          = "root"
	defaultDBName          = "prompt_ai"
	defaultDBCharset       = "utf8mb4"
	defaultRedisHost       = "localhost"
	defaultRedisPort       = 6379
	defaultThrottleSeconds = 5
	defaultImageMaxWidth   = 800
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int            `yaml:"port"`
	Env            string         `yaml:"env"` // "development" | "production"
	DSN            string         `yaml:"dsn"`
	RedisURL       string         `yaml:"redis_url"`
	Database       DatabaseConfig `yaml:"database"`
	Redis          RedisConfig    `yaml:"redis"`
	Paths          PathsConfig    `yaml:"paths"`
	Storage        StorageConfig  `yaml:"storage"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	JWTSecret      string         `yaml:"jwt_secret"`
	Timezone       string         `yaml:"timezone"`
	PromptAI       PromptAIConfig `yaml:"prompt_ai"`

	baseDir string
}

type DatabaseConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Charset  string            `yaml:"charset"`
	Loc      string            `yaml:"loc"`
	Params   map[string]string `yaml:"params"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

type PathsConfig struct {
	Logs   string `yaml:"logs"`
	Static string `yaml:"static"`
}

// StorageConfig selects where page files are read from.
type StorageConfig struct {
	Driver          string `yaml:"driver"` // "local" | "s3"
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
}

// PromptAIConfig carries the startup-time knobs of the prompt engine.
type PromptAIConfig struct {
	ThrottleSeconds *int             `yaml:"throttle_seconds"`
	ImageMaxWidth   int              `yaml:"image_max_width"`
	FieldTypes      FieldTypesConfig `yaml:"field_types"`
}

// FieldTypesConfig overrides the default field type tables. Empty lists keep the defaults.
type FieldTypesConfig struct {
	Text           []string `yaml:"text"`
	File           []string `yaml:"file"`
	Image          []string `yaml:"image"`
	Blocks         []string `yaml:"blocks"`
	Repeater       []string `yaml:"repeater"`
	AdminTemplates []string `yaml:"admin_templates"`
	RepeaterPrefix string   `yaml:"repeater_prefix"`
	BlockPrefix    string   `yaml:"block_prefix"`
	HiddenPrefix   string   `yaml:"hidden_prefix"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	cfg.baseDir = BaseDir(path)
	return cfg, nil
}

// Parse decodes YAML content on top of the defaults and validates the result.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	normalize(&cfg)

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		return nil, fmt.Errorf("invalid redis.db %d, expected >= 0", cfg.Redis.DB)
	}
	if *cfg.PromptAI.ThrottleSeconds < 0 {
		return nil, fmt.Errorf("invalid prompt_ai.throttle_seconds %d, expected >= 0", *cfg.PromptAI.ThrottleSeconds)
	}
	if cfg.PromptAI.ImageMaxWidth < 1 {
		return nil, fmt.Errorf("invalid prompt_ai.image_max_width %d, expected > 0", cfg.PromptAI.ImageMaxWidth)
	}
	switch cfg.Storage.Driver {
	case "local":
	case "s3":
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage.bucket is required for the s3 driver")
		}
	default:
		return nil, fmt.Errorf("unknown storage.driver %q, expected local or s3", cfg.Storage.Driver)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	throttle := defaultThrottleSeconds
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Host:    defaultDBHost,
			Port:    defaultDBPort,
			User:    defaultDBUser,
			Name:    defaultDBName,
			Charset: defaultDBCharset,
			Loc:     "Local",
		},
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Storage: StorageConfig{Driver: "local"},
		PromptAI: PromptAIConfig{
			ThrottleSeconds: &throttle,
			ImageMaxWidth:   defaultImageMaxWidth,
		},
	}
}

func normalize(cfg *AppConfig) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		cfg.DSN = cfg.Database.DSNValue()
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	if cfg.RedisURL != "" && !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		cfg.RedisURL = "redis://" + cfg.RedisURL
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = cfg.Redis.URLValue()
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	cfg.Storage.Prefix = strings.Trim(strings.TrimSpace(cfg.Storage.Prefix), "/")

	if cfg.PromptAI.ThrottleSeconds == nil {
		throttle := defaultThrottleSeconds
		cfg.PromptAI.ThrottleSeconds = &throttle
	}
	if cfg.PromptAI.ImageMaxWidth == 0 {
		cfg.PromptAI.ImageMaxWidth = defaultImageMaxWidth
	}
}

// DSNValue builds a MySQL DSN from the discrete database settings.
func (c DatabaseConfig) DSNValue() string {
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}

	mc := mysql.NewConfig()
	mc.User = strings.TrimSpace(c.User)
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(port))
	mc.DBName = strings.TrimSpace(c.Name)
	mc.ParseTime = true
	mc.Loc = time.Local
	if loc := strings.TrimSpace(c.Loc); loc != "" && loc != "Local" {
		if l, err := time.LoadLocation(loc); err == nil {
			mc.Loc = l
		}
	}
	mc.Params = map[string]string{"charset": charset}
	for k, v := range c.Params {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

// URLValue builds a redis:// URL from the discrete redis settings.
func (c RedisConfig) URLValue() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	switch {
	case c.Username != "" && c.Password != "":
		u.User = neturl.UserPassword(c.Username, c.Password)
	case c.Username != "":
		u.User = neturl.User(c.Username)
	case c.Password != "":
		u.User = neturl.UserPassword("", c.Password)
	}
	return u.String()
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

func (c *AppConfig) LogDir() string {
	return resolvePath(c.base(), c.Paths.Logs, "logs")
}

func (c *AppConfig) StaticDir() string {
	return resolvePath(c.base(), c.Paths.Static, "static")
}

// Throttle is the cool-down window between two page-mode runs of the same page.
func (c *AppConfig) Throttle() time.Duration {
	if c.PromptAI.ThrottleSeconds == nil {
		return defaultThrottleSeconds * time.Second
	}
	return time.Duration(*c.PromptAI.ThrottleSeconds) * time.Second
}

func (c *AppConfig) base() string {
	if c.baseDir != "" {
		return c.baseDir
	}
	return BaseDir("")
}
