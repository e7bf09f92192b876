package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	Port           string
	AllowedOrigins []string
	DatabaseURL    string
	RedisURL       string

	// Gateway
	AdminGatewayToken string

	// Object storage (Cloudflare R2). Empty account = local uploads dir.
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string
	CDNBaseURL        string
	UploadDir         string

	ConfigCacheTTL       time.Duration
	SnapshotCronHour     int
	RecomputeMinInterval time.Duration
	ArchivePollInterval  time.Duration
}

// R2Enabled reports whether enough R2 settings are present to use it.
func (c *AppConfig) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                 "5200",
		AllowedOrigins:       []string{"http://localhost:3000"},
		UploadDir:            "uploads",
		ConfigCacheTTL:       5 * time.Minute,
		SnapshotCronHour:     4,
		RecomputeMinInterval: 2 * time.Second,
		ArchivePollInterval:  time.Minute,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.AdminGatewayToken = strings.TrimSpace(os.Getenv("ADMIN_GATEWAY_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Port = v
	}
	if v := splitList(os.Getenv("ALLOWED_ORIGINS")); len(v) > 0 {
		cfg.AllowedOrigins = v
	}

	cfg.R2AccountID = strings.TrimSpace(os.Getenv("CLOUDFLARE_ACCOUNT_ID"))
	cfg.R2AccessKeyID = strings.TrimSpace(os.Getenv("R2_ACCESS_KEY_ID"))
	cfg.R2AccessKeySecret = strings.TrimSpace(os.Getenv("R2_ACCESS_KEY_SECRET"))
	cfg.R2Bucket = strings.TrimSpace(os.Getenv("R2_BUCKET_NAME"))
	cfg.CDNBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CDN_BASE_URL")), "/")
	if v := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); v != "" {
		cfg.UploadDir = v
	}

	if d, ok := duration("CONFIG_CACHE_TTL"); ok {
		cfg.ConfigCacheTTL = d
	}
	if d, ok := duration("RECOMPUTE_MIN_INTERVAL"); ok {
		cfg.RecomputeMinInterval = d
	}
	if d, ok := duration("ARCHIVE_POLL_INTERVAL"); ok && d > 0 {
		cfg.ArchivePollInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_CRON_HOUR")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < 24 {
			cfg.SnapshotCronHour = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.AdminGatewayToken == "" {
		return nil, errors.New("ADMIN_GATEWAY_TOKEN is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// duration accepts Go durations ("90s") or bare seconds ("90").
func duration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
