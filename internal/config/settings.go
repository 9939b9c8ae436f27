// Package config loads subtransd's settings via viper, following the same
// XDG-config-dir-plus-env-override convention the original media pipeline's
// internal/config/settings.go uses, re-keyed to the configuration surface
// this translation pipeline actually exposes (spec.md §6) instead of
// STT/translit/GUI settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// Settings is the full configuration surface, keyed exactly as spec.md §6
// names it (mapstructure tags match the YAML/env keys 1:1).
type Settings struct {
	DataDir string `mapstructure:"data_dir"`

	ServiceType string `mapstructure:"service_type"`
	Endpoint    string `mapstructure:"endpoint"`
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`

	MaxParallelTranslations int `mapstructure:"max_parallel_translations"`

	UseBatchTranslation   bool    `mapstructure:"use_batch_translation"`
	MaxBatchSize          int     `mapstructure:"max_batch_size"`
	BatchRetryMode        string  `mapstructure:"batch_retry_mode"`
	RepairContextRadius   int     `mapstructure:"repair_context_radius"`
	RepairMaxRetries      int     `mapstructure:"repair_max_retries"`
	ContextBefore         int     `mapstructure:"context_before"`
	ContextAfter          int     `mapstructure:"context_after"`
	MaxBatchSplitAttempts int     `mapstructure:"max_batch_split_attempts"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RetryDelay            int     `mapstructure:"retry_delay"`
	RetryDelayMultiplier  float64 `mapstructure:"retry_delay_multiplier"`
	RequestTimeout        int     `mapstructure:"request_timeout"`

	StripSubtitleFormatting    bool `mapstructure:"strip_subtitle_formatting"`
	IntegrityValidationEnabled bool `mapstructure:"integrity_validation_enabled"`

	SourceLanguages []domain.Lang `mapstructure:"source_languages"`
	TargetLanguages []domain.Lang `mapstructure:"target_languages"`

	SubtitleExtractionMode string `mapstructure:"subtitle_extraction_mode"`
	UseSubtitleTagging     bool   `mapstructure:"use_subtitle_tagging"`
	SubtitleTag            string `mapstructure:"subtitle_tag"`

	FFProbePath string `mapstructure:"ffprobe_path"`
	FFMpegPath  string `mapstructure:"ffmpeg_path"`

	IndexingCron    string `mapstructure:"indexing_cron"`
	TranslationCron string `mapstructure:"translation_cron"`

	// ProviderDailyQuota, when > 0, caps how many translation calls the
	// scheduler will admit against the configured provider per rolling day;
	// 0 means unbounded (the default localai backend is self-hosted and has
	// no such quota). ProviderQuotaBuffer is subtracted from the quota so the
	// scheduler stops dispatching a safety margin before the hard limit.
	ProviderDailyQuota  int `mapstructure:"provider_daily_quota"`
	ProviderQuotaBuffer int `mapstructure:"provider_quota_buffer"`

	// ProviderBreakerThreshold consecutive admission failures (daily-limit or
	// repeated 4xx) trip the per-provider circuit breaker for
	// ProviderBreakerCooldown seconds.
	ProviderBreakerThreshold int `mapstructure:"provider_breaker_threshold"`
	ProviderBreakerCooldown  int `mapstructure:"provider_breaker_cooldown"`
}

func getConfigPath() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "subtrans")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// InitConfig points viper at customPath, or the default XDG location when
// empty, sets every default from spec.md §6, and writes a fresh config file
// on first run.
func InitConfig(customPath string) error {
	if customPath != "" {
		viper.SetConfigFile(customPath)
	} else {
		configPath, err := getConfigPath()
		if err != nil {
			return err
		}
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
	}

	dataDir := filepath.Join(xdg.DataHome, "subtrans")
	viper.SetDefault("data_dir", dataDir)

	viper.SetDefault("service_type", "localai")
	viper.SetDefault("endpoint", "http://localhost:8080/v1/chat/completions")
	viper.SetDefault("model", "")
	viper.SetDefault("api_key", "")

	viper.SetDefault("max_parallel_translations", 1)

	viper.SetDefault("use_batch_translation", true)
	viper.SetDefault("max_batch_size", 180)
	viper.SetDefault("batch_retry_mode", "deferred")
	viper.SetDefault("repair_context_radius", 10)
	viper.SetDefault("repair_max_retries", 1)
	viper.SetDefault("context_before", 0)
	viper.SetDefault("context_after", 0)
	viper.SetDefault("max_batch_split_attempts", 3)
	viper.SetDefault("max_retries", 20)
	viper.SetDefault("retry_delay", 120)
	viper.SetDefault("retry_delay_multiplier", 1.0)
	viper.SetDefault("request_timeout", 15)

	viper.SetDefault("strip_subtitle_formatting", false)
	viper.SetDefault("integrity_validation_enabled", false)

	viper.SetDefault("source_languages", []map[string]string{})
	viper.SetDefault("target_languages", []map[string]string{})

	viper.SetDefault("subtitle_extraction_mode", "on_demand")
	viper.SetDefault("use_subtitle_tagging", false)
	viper.SetDefault("subtitle_tag", "[Lingarr]")

	viper.SetDefault("ffprobe_path", "ffprobe")
	viper.SetDefault("ffmpeg_path", "ffmpeg")

	viper.SetDefault("indexing_cron", "0 */6 * * *")
	viper.SetDefault("translation_cron", "*/5 * * * *")

	viper.SetDefault("provider_daily_quota", 0)
	viper.SetDefault("provider_quota_buffer", 0)
	viper.SetDefault("provider_breaker_threshold", 5)
	viper.SetDefault("provider_breaker_cooldown", 300)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := viper.SafeWriteConfig(); err != nil {
				return fmt.Errorf("config: writing default config: %w", err)
			}
		} else {
			return fmt.Errorf("config: reading config: %w", err)
		}
	}

	return nil
}

// LoadSettings unmarshals viper's current state, after InitConfig and any
// environment-variable bindings have been applied.
func LoadSettings() (Settings, error) {
	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return settings, nil
}

// SaveSettings persists settings back to the config file, e.g. after the
// out-of-scope settings CRUD layer mutates the language lists (which bumps
// language_settings_version through internal/store, not through this file).
func SaveSettings(settings Settings) error {
	viper.Set("data_dir", settings.DataDir)
	viper.Set("service_type", settings.ServiceType)
	viper.Set("endpoint", settings.Endpoint)
	viper.Set("model", settings.Model)
	viper.Set("api_key", settings.APIKey)
	viper.Set("max_parallel_translations", settings.MaxParallelTranslations)
	viper.Set("use_batch_translation", settings.UseBatchTranslation)
	viper.Set("max_batch_size", settings.MaxBatchSize)
	viper.Set("batch_retry_mode", settings.BatchRetryMode)
	viper.Set("repair_context_radius", settings.RepairContextRadius)
	viper.Set("repair_max_retries", settings.RepairMaxRetries)
	viper.Set("context_before", settings.ContextBefore)
	viper.Set("context_after", settings.ContextAfter)
	viper.Set("max_batch_split_attempts", settings.MaxBatchSplitAttempts)
	viper.Set("max_retries", settings.MaxRetries)
	viper.Set("retry_delay", settings.RetryDelay)
	viper.Set("retry_delay_multiplier", settings.RetryDelayMultiplier)
	viper.Set("request_timeout", settings.RequestTimeout)
	viper.Set("strip_subtitle_formatting", settings.StripSubtitleFormatting)
	viper.Set("integrity_validation_enabled", settings.IntegrityValidationEnabled)
	viper.Set("source_languages", settings.SourceLanguages)
	viper.Set("target_languages", settings.TargetLanguages)
	viper.Set("subtitle_extraction_mode", settings.SubtitleExtractionMode)
	viper.Set("use_subtitle_tagging", settings.UseSubtitleTagging)
	viper.Set("subtitle_tag", settings.SubtitleTag)
	viper.Set("ffprobe_path", settings.FFProbePath)
	viper.Set("ffmpeg_path", settings.FFMpegPath)
	viper.Set("indexing_cron", settings.IndexingCron)
	viper.Set("translation_cron", settings.TranslationCron)
	viper.Set("provider_daily_quota", settings.ProviderDailyQuota)
	viper.Set("provider_quota_buffer", settings.ProviderQuotaBuffer)
	viper.Set("provider_breaker_threshold", settings.ProviderBreakerThreshold)
	viper.Set("provider_breaker_cooldown", settings.ProviderBreakerCooldown)

	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	viper.SetConfigFile(configPath)
	return viper.WriteConfig()
}

// SourceLangCodes and TargetLangCodes project the configured language lists
// down to bare codes, the shape internal/mediastate and internal/lang want.
func (s Settings) SourceLangCodes() []string { return codes(s.SourceLanguages) }
func (s Settings) TargetLangCodes() []string { return codes(s.TargetLanguages) }

func codes(langs []domain.Lang) []string {
	out := make([]string, len(langs))
	for i, l := range langs {
		out[i] = l.Code
	}
	return out
}
