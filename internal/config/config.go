package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for qqbridge.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Gateway  GatewayConfig  `json:"gateway"`
	Groups   GroupList      `json:"groups"`
	Features FeaturesConfig `json:"features"`
	Push     PushConfig     `json:"push"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Site     SiteConfig     `json:"site"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// GatewayConfig points at the OneBot HTTP API of the chat gateway.
type GatewayConfig struct {
	BaseURL        string  `json:"baseURL"`
	AccessToken    string  `json:"accessToken,omitempty"` // also the shared secret for inbound calls
	TimeoutSeconds int     `json:"timeoutSeconds"`
	SendsPerMinute float64 `json:"sendsPerMinute"` // 0 disables outbound throttling
	SendBurst      int     `json:"sendBurst"`
}

// FeaturesConfig holds the per-feature switches for inbound commands.
type FeaturesConfig struct {
	Interaction    bool `json:"interaction"`
	Bind           bool `json:"bind"`
	CheckIn        bool `json:"checkIn"`
	LatestPosts    bool `json:"latestPosts"`
	PointsTransfer bool `json:"pointsTransfer"`
}

// PushConfig controls outbound content notifications.
type PushConfig struct {
	NewPost         bool   `json:"newPost"`
	Update          bool   `json:"update"`
	Comment         bool   `json:"comment"`
	AtAll           bool   `json:"atAll"`
	CommentNoticeQQ string `json:"commentNoticeQQ,omitempty"`
	FaceID          int    `json:"faceID"`
	Debug           bool   `json:"debug"`
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	ReceivePath string `json:"receivePath"`
	EventsPath  string `json:"eventsPath"`
	MetricsPath string `json:"metricsPath"`
}

// StoreConfig selects the host store backend.
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	DSN    string `json:"dsn"`
}

// SiteConfig describes the host site.
type SiteConfig struct {
	ForumURL string        `json:"forumURL"`
	Timezone string        `json:"timezone"`
	CheckIn  CheckInConfig `json:"checkIn"`
}

// CheckInConfig configures the reference check-in subsystem of the embedded host.
type CheckInConfig struct {
	Enabled  bool  `json:"enabled"`
	Points   int64 `json:"points"`
	Integral int64 `json:"integral"`
}

// GroupList is the allow-list of group IDs. It unmarshals from a
// comma-separated string or from an array of strings and numbers.
type GroupList []string

func (g *GroupList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*g = SplitGroups(s)
		return nil
	}
	var flex FlexStringList
	if err := json.Unmarshal(data, &flex); err != nil {
		return err
	}
	*g = SplitGroups(strings.Join(flex, ","))
	return nil
}

// SplitGroups splits a comma-separated group list, trimming entries and
// dropping empty ones.
func SplitGroups(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, n.String())
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// GroupIDs returns the configured group allow-list.
func (c *Config) GroupIDs() []string {
	return SplitGroups(strings.Join(c.Groups, ","))
}

// Timeout returns the outbound request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// Location returns the site time zone. China Standard Time is used when
// the zone database is unavailable.
func (c *Config) Location() *time.Location {
	if c.Site.Timezone == "" {
		return cst
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return cst
	}
	return loc
}

var cst = time.FixedZone("CST", 8*60*60)

// DefaultConfigDir returns the default config directory (~/.qqbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qqbridge"
	}
	return filepath.Join(home, ".qqbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment so that ${VAR} references in the config resolve against them.
// Variables already set in the environment win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads a JSON or YAML config file (chosen by extension), expands
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	if cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = ExpandPath(cfg.Store.DSN)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes the config as JSON, or as YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		if data, err = jsonToYAML(data); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Gateway.TimeoutSeconds < 1 || cfg.Gateway.TimeoutSeconds > 300 {
		errs = append(errs, "gateway.timeoutSeconds must be between 1 and 300")
	}
	if cfg.Gateway.SendsPerMinute < 0 || cfg.Gateway.SendBurst < 0 {
		errs = append(errs, "gateway.sendsPerMinute and gateway.sendBurst must be >= 0")
	}
	if cfg.Gateway.BaseURL != "" {
		u, err := url.Parse(cfg.Gateway.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "gateway.baseURL must be an http(s) URL")
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	for name, p := range map[string]string{
		"server.receivePath": cfg.Server.ReceivePath,
		"server.eventsPath":  cfg.Server.EventsPath,
		"server.metricsPath": cfg.Server.MetricsPath,
	} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, name+" must start with /")
		}
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}

	if cfg.Push.FaceID < 0 {
		errs = append(errs, "push.faceID must be >= 0")
	}
	if cfg.Push.Comment && cfg.Push.CommentNoticeQQ == "" {
		errs = append(errs, "push.commentNoticeQQ is required when push.comment is enabled")
	}
	if cfg.Push.CommentNoticeQQ != "" {
		if _, err := strconv.ParseInt(cfg.Push.CommentNoticeQQ, 10, 64); err != nil {
			errs = append(errs, "push.commentNoticeQQ must be numeric")
		}
	}

	if cfg.Site.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Site.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("site.timezone: unknown zone %q", cfg.Site.Timezone))
		}
	}
	if cfg.Site.CheckIn.Points < 0 || cfg.Site.CheckIn.Integral < 0 {
		errs = append(errs, "site.checkIn rewards must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document as JSON so that a single set of
// struct tags (and the custom JSON unmarshalers) applies to both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var v map[string]any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}

func jsonToYAML(data []byte) ([]byte, error) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}
