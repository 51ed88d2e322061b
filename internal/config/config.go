package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the worker process settings.
type Config struct {
	HTTPAddr string `validate:"required"`
	GRPCAddr string `validate:"required"`

	Redis    RedisConfig
	Queue    QueueConfig
	Database DatabaseConfig
	KYC      KYCServiceConfig
	Auth     AuthConfig
	API      APIConfig
	Log      LogConfig

	MediaRoot         string        `validate:"required"`
	AssessmentTimeout time.Duration `validate:"gt=0"`

	Liveness LivenessModelConfig
	Face     FaceModelConfig
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
}

type QueueConfig struct {
	Name     string `validate:"required"`
	MaxRetry int    `validate:"gte=0"`
}

type DatabaseConfig struct {
	DSN string `validate:"required"`
}

// KYCServiceConfig addresses the service that receives assessment results.
type KYCServiceConfig struct {
	BaseURL     string `validate:"required,url"`
	WorkerToken string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

// APIConfig bounds how fast one operator may enqueue assessments.
type APIConfig struct {
	EnqueueRate  float64 `validate:"gt=0"`
	EnqueueBurst int     `validate:"gt=0"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

// LivenessModelConfig describes the optional liveness classifier. An empty
// ModelPath disables it.
type LivenessModelConfig struct {
	ModelPath   string
	InputName   string  `validate:"required"`
	InputWidth  int     `validate:"gt=0"`
	InputHeight int     `validate:"gt=0"`
	Mean        float64 `validate:"gte=0"`
	Std         float64 `validate:"gt=0"`
	OutputIndex int     `validate:"gte=0"`
}

// FaceModelConfig describes the optional face embedding model. An empty
// ModelPath disables it.
type FaceModelConfig struct {
	ModelPath string
	InputName string `validate:"required"`
}

var defaults = map[string]any{
	"http_addr":             ":8080",
	"grpc_addr":             ":9090",
	"redis_addr":            "redis:6379",
	"redis_password":        "",
	"queue_name":            "kyc-processing",
	"queue_max_retry":       3,
	"database_dsn":          "host=postgres user=postgres password=postgres dbname=kyc port=5432 sslmode=disable",
	"kyc_service_base_url":  "http://kyc-service:8081",
	"worker_token":          "",
	"jwt_secret":            "",
	"jwt_audience":          "",
	"api_enqueue_rate":      5.0,
	"api_enqueue_burst":     10,
	"log_level":             "info",
	"log_file":              "",
	"media_root":            "/var/lib/gephub/kyc-media",
	"assessment_timeout":    "2m",
	"liveness_model_path":   "",
	"liveness_input_name":   "input",
	"liveness_input_w":      112,
	"liveness_input_h":      112,
	"liveness_mean":         0.5,
	"liveness_std":          0.5,
	"liveness_output_index": 0,
	"arcface_model_path":    "",
	"arcface_input_name":    "data",
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr: v.GetString("http_addr"),
		GRPCAddr: v.GetString("grpc_addr"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
		},
		Queue: QueueConfig{
			Name:     v.GetString("queue_name"),
			MaxRetry: v.GetInt("queue_max_retry"),
		},
		Database: DatabaseConfig{DSN: v.GetString("database_dsn")},
		KYC: KYCServiceConfig{
			BaseURL:     v.GetString("kyc_service_base_url"),
			WorkerToken: v.GetString("worker_token"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("jwt_secret"),
			JWTAudience: v.GetString("jwt_audience"),
		},
		API: APIConfig{
			EnqueueRate:  v.GetFloat64("api_enqueue_rate"),
			EnqueueBurst: v.GetInt("api_enqueue_burst"),
		},
		Log: LogConfig{
			Level: v.GetString("log_level"),
			File:  v.GetString("log_file"),
		},
		MediaRoot:         v.GetString("media_root"),
		AssessmentTimeout: v.GetDuration("assessment_timeout"),
		Liveness: LivenessModelConfig{
			ModelPath:   v.GetString("liveness_model_path"),
			InputName:   v.GetString("liveness_input_name"),
			InputWidth:  v.GetInt("liveness_input_w"),
			InputHeight: v.GetInt("liveness_input_h"),
			Mean:        v.GetFloat64("liveness_mean"),
			Std:         v.GetFloat64("liveness_std"),
			OutputIndex: v.GetInt("liveness_output_index"),
		},
		Face: FaceModelConfig{
			ModelPath: v.GetString("arcface_model_path"),
			InputName: v.GetString("arcface_input_name"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ModelAvailable reports whether path names an existing model file. An empty
// path means the model is not configured.
func ModelAvailable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
