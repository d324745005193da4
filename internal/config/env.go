package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env holds every knob the host and the workers read from the environment.
type Env struct {
	AppEnv   string
	LogLevel string
	APIHost  string
	APIPort  int

	MonitorInterval time.Duration
	ReadyRetries    int
	ReadyDelay      time.Duration
	StopGrace       time.Duration

	TickInterval    time.Duration
	AcquireTimeout  time.Duration
	CameraSourceDir string
	VisionEngine    string
	VisionURL       string
	Samples         int

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadEnv loads .env files into the process environment and reads Env.
// Variables already set win over the files; missing files are skipped.
func LoadEnv(appRoot string) (Env, error) {
	var files []string
	if appRoot != "" {
		files = append(files, filepath.Join(appRoot, ".env"))
	}
	files = append(files, ".env")

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, err
		}
	}

	port := envInt("API_PORT", 0)
	if port == 0 {
		port = envInt("PYTHON_API_PORT", 5000)
	}

	return Env{
		AppEnv:   envString("APP_ENV", "development"),
		LogLevel: envString("LOG_LEVEL", "debug"),
		APIHost:  envString("API_HOST", "127.0.0.1"),
		APIPort:  port,

		MonitorInterval: envMillis("SUPERVISOR_MONITOR_INTERVAL_MS", 1000),
		ReadyRetries:    envInt("SUPERVISOR_READY_RETRIES", 30),
		ReadyDelay:      envMillis("SUPERVISOR_READY_DELAY_MS", 200),
		StopGrace:       envMillis("SUPERVISOR_STOP_GRACE_MS", 5000),

		TickInterval:    envMillis("WORKER_TICK_INTERVAL_MS", 200),
		AcquireTimeout:  envMillis("CAMERA_ACQUIRE_TIMEOUT_MS", 2000),
		CameraSourceDir: os.Getenv("CAMERA_SOURCE_DIR"),
		VisionEngine:    envString("VISION_ENGINE", "static"),
		VisionURL:       os.Getenv("VISION_WS_URL"),
		Samples:         envInt("CALIBRATION_SAMPLES", 15),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
	}, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
