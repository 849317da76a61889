package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Call           CallConfig
	Upload         UploadConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CallConfig holds the knobs of the call negotiation subsystem.
type CallConfig struct {
	// STUNServers is the fixed list of public STUN URLs used for ICE.
	STUNServers []string
	// TURNServer is optional. Without one, calls between peers that are
	// both behind symmetric NAT can fail to connect.
	TURNServer     string
	TURNUsername   string
	TURNCredential string
	// RingTimeout is how long an unanswered outbound offer rings before
	// the caller cancels it.
	RingTimeout time.Duration
	// EndGrace is how long the terminal end-call record stays in the
	// signal channel before removal, so the remote observer can see it.
	EndGrace time.Duration
}

type UploadConfig struct {
	Dir     string
	BaseURL string
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	stunStr := getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Call: CallConfig{
			STUNServers:    strings.Split(stunStr, ","),
			TURNServer:     getEnv("TURN_SERVER", ""),
			TURNUsername:   getEnv("TURN_USERNAME", ""),
			TURNCredential: getEnv("TURN_CREDENTIAL", ""),
			RingTimeout:    getDuration("CALL_RING_TIMEOUT", 30*time.Second),
			EndGrace:       getDuration("CALL_END_GRACE", 2*time.Second),
		},
		Upload: UploadConfig{
			Dir:     getEnv("UPLOAD_DIR", "./uploads"),
			BaseURL: getEnv("UPLOAD_BASE_URL", "/media"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
