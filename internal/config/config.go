package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the monitor. Trace sizing is fixed at
// start-up; nothing here is reloaded.
type Config struct {
	Env string

	TraceCapacity  int
	TraceWatermark int
	TracePeriod    time.Duration
	DumperTaskID   int64
	ResponseBase   string
	TasksFile      string
	DumpOutput     string
	ArchiveDir     string

	HTTPPort string
	LogLevel string
	// Interactive enables the s/q start menu on stdin.
	Interactive bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisMaxDumps int
	RedisDumpTTL  time.Duration

	PostgresDSN string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string

	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from environment variables with the reference
// trace settings as defaults.
func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		TraceCapacity:     getEnvInt("TRACE_CAPACITY", 500),
		TraceWatermark:    getEnvInt("TRACE_WATERMARK", 600),
		TracePeriod:       getEnvDuration("TRACE_PERIOD", 30*time.Second),
		DumperTaskID:      int64(getEnvInt("DUMPER_TASK_ID", 0)),
		ResponseBase:      getEnv("RESPONSE_BASE", "start"),
		TasksFile:         getEnv("TASKS_FILE", ""),
		DumpOutput:        getEnv("DUMP_OUTPUT", "stdout"),
		ArchiveDir:        getEnv("ARCHIVE_DIR", ""),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Interactive:       getEnvBool("MONITOR_INTERACTIVE", false),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisMaxDumps:     getEnvInt("REDIS_MAX_DUMPS", 100),
		RedisDumpTTL:      getEnvDuration("REDIS_DUMP_TTL", 24*time.Hour),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3PathStyle:       getEnvBool("S3_PATH_STYLE", false),
		S3Prefix:          getEnv("S3_PREFIX", "dumps/"),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),
	}
}

// Validate reports settings the monitor cannot run with. An invalid trace
// capacity is deliberately not reported here: it disables tracing instead.
func (c Config) Validate() error {
	var errs []error
	if c.TracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("TRACE_PERIOD must be positive, got %s", c.TracePeriod))
	}
	switch strings.ToLower(c.ResponseBase) {
	case "", "start", "wake":
	default:
		errs = append(errs, fmt.Errorf("RESPONSE_BASE must be start or wake, got %q", c.ResponseBase))
	}
	if c.DumperTaskID < 0 || c.DumperTaskID > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("DUMPER_TASK_ID must be between 0 and %d, got %d", uint32(math.MaxUint32), c.DumperTaskID))
	}
	if c.RedisMaxDumps < 0 {
		errs = append(errs, fmt.Errorf("REDIS_MAX_DUMPS must not be negative, got %d", c.RedisMaxDumps))
	}
	return errors.Join(errs...)
}

// WatermarkReachable reports whether the watermark can fire before capacity.
func (c Config) WatermarkReachable() bool {
	return c.TraceWatermark > 0 && c.TraceWatermark <= c.TraceCapacity
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
