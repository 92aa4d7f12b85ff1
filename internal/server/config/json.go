package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/andrejsk/dropvault/internal/flagx"
	"github.com/andrejsk/dropvault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into the
// runtime Config.
type JsonConfig struct {
	DatabaseDSN string `json:"database_dsn"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	PresignExpiry timex.Duration `json:"presign_expiry"`

	CleanupInterval  timex.Duration `json:"cleanup_interval"`
	CleanupBatchSize int            `json:"cleanup_batch_size"`
	RetryMaxAttempts int            `json:"retry_max_attempts"`
	RetryDelay       timex.Duration `json:"retry_delay"`
	RetentionWindow  timex.Duration `json:"retention_window"`
	DefaultTTL       timex.Duration `json:"default_ttl"`
	StaleUploadAge   timex.Duration `json:"stale_upload_age"`

	AllowedMimeTypes   string `json:"allowed_mime_types"`
	MaxUploadSizeBytes int64  `json:"max_upload_size_bytes"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config
// command-line flags; if neither is set, no JSON file is loaded. If the
// file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	fileName := flagx.JsonConfigFlags()
	if fileName == "" {
		return
	}

	data, err := os.ReadFile(fileName)
	if err != nil {
		panic(err)
	}

	jc := &JsonConfig{}
	if err := json.Unmarshal(data, jc); err != nil {
		panic(err)
	}

	if jc.DatabaseDSN != "" {
		config.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.S3RootUser != "" {
		config.S3RootUser = jc.S3RootUser
	}
	if jc.S3RootPassword != "" {
		config.S3RootPassword = jc.S3RootPassword
	}
	if jc.S3Bucket != "" {
		config.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		config.S3Region = jc.S3Region
	}
	if jc.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.PresignExpiry.Duration != 0 {
		config.PresignExpiry = jc.PresignExpiry.Duration
	}
	if jc.CleanupInterval.Duration != 0 {
		config.CleanupInterval = jc.CleanupInterval.Duration
	}
	if jc.CleanupBatchSize != 0 {
		config.CleanupBatchSize = jc.CleanupBatchSize
	}
	if jc.RetryMaxAttempts != 0 {
		config.RetryMaxAttempts = jc.RetryMaxAttempts
	}
	if jc.RetryDelay.Duration != 0 {
		config.RetryDelay = jc.RetryDelay.Duration
	}
	if jc.RetentionWindow.Duration != 0 {
		config.RetentionWindow = jc.RetentionWindow.Duration
	}
	if jc.DefaultTTL.Duration != 0 {
		config.DefaultTTL = jc.DefaultTTL.Duration
	}
	if jc.StaleUploadAge.Duration != 0 {
		config.StaleUploadAge = jc.StaleUploadAge.Duration
	}
	if jc.AllowedMimeTypes != "" {
		config.AllowedMimeTypes = splitMimeList(jc.AllowedMimeTypes)
	}
	if jc.MaxUploadSizeBytes != 0 {
		config.MaxUploadSizeBytes = jc.MaxUploadSizeBytes
	}
}

// splitMimeList parses a comma-separated MIME allow-list.
func splitMimeList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
