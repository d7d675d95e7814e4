package internal

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds application settings
type Config struct {
	// User configurable settings
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterReferer string
	AppTitle          string

	Plan          Plan
	Lang          string
	Addr          string
	DBPath        string
	LLMRatePerSec float64
	JobTimeout    time.Duration

	// Model overrides; empty means the plan's default routing applies.
	ChaptersModel string
	WriterModel   string
	FeedbackModel string

	Verbose       bool
	Quiet         bool
	MCPLogEnabled bool

	// Fixed XDG paths (not configurable)
	ConfigDir string
	DataDir   string
	CacheDir  string
}

//go:embed config.toml
var defaultFS embed.FS

// EnsureDefaultConfig checks if a config file exists in the XDG config
// directory and creates it from the embedded default if it doesn't exist
func EnsureDefaultConfig(configDir string) error {
	filePath := filepath.Join(configDir, "config.toml")
	if FileExists(filePath) {
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultContent, err := defaultFS.ReadFile("config.toml")
	if err != nil {
		return fmt.Errorf("reading embedded default configuration: %w", err)
	}

	if err := os.WriteFile(filePath, defaultContent, 0644); err != nil {
		return fmt.Errorf("writing default configuration: %w", err)
	}

	fmt.Printf("Created default configuration at %s\n", filePath)
	return nil
}

// InitConfig initializes Viper and loads configuration
func InitConfig() *Config {
	// XDG standard directories
	configDir := filepath.Join(xdg.ConfigHome, "vid2md")
	dataDir := filepath.Join(xdg.DataHome, "vid2md")
	cacheDir := filepath.Join(xdg.CacheHome, "vid2md")

	v := viper.New()

	// Set default values for configurable settings
	v.SetDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter_referer", "")
	v.SetDefault("app_title", "vid2md")
	v.SetDefault("plan", string(PlanFree))
	v.SetDefault("lang", "en")
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", filepath.Join(dataDir, "vid2md.db"))
	v.SetDefault("llm_rate_per_sec", 2.0)
	v.SetDefault("job_timeout", 10*time.Minute)
	v.SetDefault("chapters_model", "")
	v.SetDefault("writer_model", "")
	v.SetDefault("feedback_model", "")
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("mcp_log", false)

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("VID2MD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("_", "_"))

	// Special case for the OpenRouter API key - check the direct env var too
	_ = v.BindEnv("openrouter_api_key", "OPENROUTER_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: Error reading config file: %v\n", err)
		}
	}

	config := &Config{
		OpenRouterAPIKey:  v.GetString("openrouter_api_key"),
		OpenRouterBaseURL: v.GetString("openrouter_base_url"),
		OpenRouterReferer: v.GetString("openrouter_referer"),
		AppTitle:          v.GetString("app_title"),
		Plan:              Plan(v.GetString("plan")),
		Lang:              v.GetString("lang"),
		Addr:              v.GetString("addr"),
		DBPath:            v.GetString("db_path"),
		LLMRatePerSec:     v.GetFloat64("llm_rate_per_sec"),
		JobTimeout:        v.GetDuration("job_timeout"),
		ChaptersModel:     v.GetString("chapters_model"),
		WriterModel:       v.GetString("writer_model"),
		FeedbackModel:     v.GetString("feedback_model"),
		Verbose:           v.GetBool("verbose"),
		Quiet:             v.GetBool("quiet"),
		MCPLogEnabled:     v.GetBool("mcp_log"),

		// Fixed XDG paths
		ConfigDir: configDir,
		DataDir:   dataDir,
		CacheDir:  cacheDir,
	}

	if config.Verbose {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	return config
}

// Policies returns the plan table with any configured model overrides
// applied to every tier.
func (c *Config) Policies() map[Plan]PlanPolicy {
	policies := DefaultPolicies()
	for plan, policy := range policies {
		if c.ChaptersModel != "" {
			policy.Models.Chapters = c.ChaptersModel
		}
		if c.WriterModel != "" {
			policy.Models.Writer = c.WriterModel
		}
		if c.FeedbackModel != "" {
			policy.Models.Feedback = c.FeedbackModel
		}
		policies[plan] = policy
	}
	return policies
}
