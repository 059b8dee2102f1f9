package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type HTTP struct {
	ListenAddr     string
	AllowedOrigins []string
	StaticDir      string // empty disables static file serving
}

type Admin struct {
	// Token guards the privileged endpoints (settle, reset, turn
	// controls, per-order cancel, CSV import). Empty disables them.
	Token string
}

type Config struct {
	HTTP    HTTP
	Admin   Admin
	LogFile string // empty logs to console only
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			StaticDir:      "web",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables.
// Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.HTTP.ListenAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(origins)
	}
	if dir, ok := os.LookupEnv("STATIC_DIR"); ok {
		cfg.HTTP.StaticDir = dir
	}
	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		cfg.Admin.Token = token
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}

	return cfg
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
