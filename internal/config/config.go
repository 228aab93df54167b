package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Telemetry source. InputFile wins over the database when both are set.
	DatabaseURL   string
	Agency        string
	InputFile     string
	RouteMetaFile string
	Routes        []string
	WindowStart   time.Time
	WindowEnd     time.Time
	Location      *time.Location

	// Extraction
	MaxRadiusMeters        float64
	SessionGap             time.Duration
	ArrivalThresholdMeters float64
	Workers                int
	Directions             []string
	Stops                  []string

	// Outputs
	ArchiveFile     string
	SQLitePath      string
	NATSURL         string
	LogNATSSubjects bool
	MetricsAddr     string
	HTTPAddr        string
	CORSOrigins     []string

	// Replay
	PublishInterval time.Duration
	SpeedMultiplier float64
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Time zone first: the window bounds may omit an offset.
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	cfg.InputFile = os.Getenv("INPUT_FILE")
	cfg.RouteMetaFile = os.Getenv("ROUTE_META_FILE")
	cfg.Agency = getenvDefault("AGENCY", "muni")
	cfg.Routes = splitList(os.Getenv("ROUTES"))

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Only required when telemetry is not read from a file.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn
	if cfg.InputFile == "" && cfg.DatabaseURL == "" {
		return nil, errors.New("INPUT_FILE or DATABASE_URL (or PGDATABASE) must be set")
	}
	if cfg.InputFile == "" && len(cfg.Routes) == 0 {
		return nil, errors.New("ROUTES must be set when reading telemetry from the database")
	}

	var err error
	if cfg.WindowStart, err = parseTime("WINDOW_START", cfg.Location); err != nil {
		return nil, err
	}
	if cfg.WindowEnd, err = parseTime("WINDOW_END", cfg.Location); err != nil {
		return nil, err
	}
	if !cfg.WindowStart.IsZero() && !cfg.WindowEnd.IsZero() && !cfg.WindowEnd.After(cfg.WindowStart) {
		return nil, fmt.Errorf("WINDOW_END must be after WINDOW_START")
	}

	if cfg.MaxRadiusMeters, err = positiveFloat("MAX_RADIUS_METERS", 750); err != nil {
		return nil, err
	}
	if cfg.ArrivalThresholdMeters, err = positiveFloat("ARRIVAL_THRESHOLD_METERS", 100); err != nil {
		return nil, err
	}

	// Session gap (minutes)
	if v := os.Getenv("SESSION_GAP_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid SESSION_GAP_MIN: %q", v)
		}
		cfg.SessionGap = time.Duration(min) * time.Minute
	} else {
		cfg.SessionGap = 30 * time.Minute
	}

	if v := os.Getenv("EXTRACT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid EXTRACT_WORKERS: %q", v)
		}
		cfg.Workers = n
	} else {
		cfg.Workers = 4
	}

	cfg.Directions = splitList(os.Getenv("DIRECTIONS"))
	cfg.Stops = splitList(os.Getenv("STOPS"))

	cfg.ArchiveFile = os.Getenv("ARCHIVE_FILE")
	cfg.SQLitePath = os.Getenv("SQLITE_DATABASE")

	// Empty disables publishing.
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	cfg.CORSOrigins = splitList(getenvDefault("CORS_ORIGINS", "http://localhost:5173"))

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	// Speed multiplier
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	return cfg, nil
}

func parseTime(key string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q", key, v)
	}
	return t, nil
}

func positiveFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
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

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
