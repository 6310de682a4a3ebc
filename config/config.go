// Package config loads the service's runtime configuration, generalizing
// the teacher's EnvConfig/Validator pattern onto github.com/spf13/viper so
// values can come from an optional YAML file, the ELIGIBILITY_-prefixed
// environment, and command-line flags bound by cmd/workflow-service's cobra
// command, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkflowConfig is every option named in spec §6 "Configuration", plus
// the ambient connection settings a deployable service needs.
type WorkflowConfig struct {
	OCRTimeout      time.Duration
	ExtractTimeout  time.Duration
	DecisionTimeout time.Duration
	MaxFileSizeByte int64
	MaxAttempts     int
	RetryBackoffMS  int
	LeaseTTL        time.Duration

	IncomeThreshold   float64
	BalanceThreshold  float64
	ConfidenceMin     float64
	AutoApproveMin    float64
	WorkerConcurrency int

	DatabaseURL      string
	RedisURL         string
	S3Bucket         string
	S3Endpoint       string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	JWTSecret        string
	ListenAddress    string
	LogLevel         string
	LogFormat        string
	OCRUpstream      string
	ExtractUpstream  string
	DecisionUpstream string
}

// Load reads a WorkflowConfig from v, which the caller has already wired up
// with AutomaticEnv/SetEnvPrefix, optional config file discovery, and flag
// bindings (see cli/root.go's initConfig for the pattern this follows).
func Load(v *viper.Viper) WorkflowConfig {
	return WorkflowConfig{
		OCRTimeout:      time.Duration(v.GetInt("ocr_timeout_s")) * time.Second,
		ExtractTimeout:  time.Duration(v.GetInt("extract_timeout_s")) * time.Second,
		DecisionTimeout: time.Duration(v.GetInt("decision_timeout_s")) * time.Second,
		MaxFileSizeByte: v.GetInt64("max_file_size_bytes"),
		MaxAttempts:     v.GetInt("max_attempts_per_stage"),
		RetryBackoffMS:  v.GetInt("retry_backoff_base_ms"),
		LeaseTTL:        time.Duration(v.GetInt("lease_ttl_s")) * time.Second,

		IncomeThreshold:   v.GetFloat64("income_threshold"),
		BalanceThreshold:  v.GetFloat64("balance_threshold"),
		ConfidenceMin:     v.GetFloat64("confidence_min"),
		AutoApproveMin:    v.GetFloat64("auto_approve_min"),
		WorkerConcurrency: v.GetInt("worker_concurrency"),

		DatabaseURL:      v.GetString("database_url"),
		RedisURL:         v.GetString("redis_url"),
		S3Bucket:         v.GetString("s3_bucket"),
		S3Endpoint:       v.GetString("s3_endpoint"),
		S3Region:         v.GetString("s3_region"),
		S3AccessKey:      v.GetString("s3_access_key"),
		S3SecretKey:      v.GetString("s3_secret_key"),
		JWTSecret:        v.GetString("jwt_secret"),
		ListenAddress:    v.GetString("listen_address"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		OCRUpstream:      v.GetString("ocr_upstream_url"),
		ExtractUpstream:  v.GetString("extract_upstream_url"),
		DecisionUpstream: v.GetString("decision_upstream_url"),
	}
}

// Defaults returns the literal defaults from spec §6 "Configuration",
// applied onto v before environment/flag/file values override them.
func Defaults() map[string]any {
	return map[string]any{
		"ocr_timeout_s":          60,
		"extract_timeout_s":      90,
		"decision_timeout_s":     60,
		"max_file_size_bytes":    52428800,
		"max_attempts_per_stage": 3,
		"retry_backoff_base_ms":  500,
		"lease_ttl_s":            30,
		"worker_concurrency":     2,
		"confidence_min":         0.7,
		"listen_address":         ":8080",
		"log_level":              "info",
		"log_format":             "text",
	}
}

// Validate enforces the required/positive constraints the
// teacher's config.Validator expressed generically, specialized to the
// fields a WorkflowConfig composition root cannot safely start without.
func Validate(cfg WorkflowConfig) error {
	v := newValidator()
	v.requirePositiveDuration("ocr_timeout_s", cfg.OCRTimeout)
	v.requirePositiveDuration("extract_timeout_s", cfg.ExtractTimeout)
	v.requirePositiveDuration("decision_timeout_s", cfg.DecisionTimeout)
	v.requirePositiveInt64("max_file_size_bytes", cfg.MaxFileSizeByte)
	v.requirePositiveInt("max_attempts_per_stage", cfg.MaxAttempts)
	v.requirePositiveDuration("lease_ttl_s", cfg.LeaseTTL)
	v.requirePositiveInt("worker_concurrency", cfg.WorkerConcurrency)
	v.requireString("database_url", cfg.DatabaseURL)
	v.requireString("redis_url", cfg.RedisURL)
	v.requireString("jwt_secret", cfg.JWTSecret)
	return v.err()
}

type validator struct{ errors []string }

func newValidator() *validator { return &validator{} }

func (v *validator) requireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *validator) requirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *validator) requirePositiveInt64(field string, value int64) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *validator) requirePositiveDuration(field string, value time.Duration) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *validator) err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}
