package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database    DatabaseConfig
	Ledger      LedgerConfig
	Embedding   EmbeddingConfig
	Match       MatchConfig
	Enrollment  EnrollmentConfig
	Recognition RecognitionConfig
	Log         LogConfig
	Web         WebConfig
}

type DatabaseConfig struct {
	Driver           string // postgres or sqlite (default sqlite)
	URL              string // PostgreSQL connection URL
	Path             string // SQLite file path, ":memory:" for a throwaway database
	MaxOpenConns     int    // Maximum open connections (default 25)
	MaxIdleConns     int    // Maximum idle connections (default 5)
	GalleryIndexPath string // Path to persist the gallery HNSW index (optional, rebuilt when missing or stale)
}

// LedgerConfig points attendance marking at an external MariaDB ledger.
// Empty DSN keeps attendance in the main database.
type LedgerConfig struct {
	MariaDBDSN string
}

type EmbeddingConfig struct {
	URL string // face server, defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type MatchConfig struct {
	Threshold          float64       `yaml:"threshold"`
	LowConfidenceFloor float64       `yaml:"low_confidence_floor"`
	MinEmbeddings      int           `yaml:"min_embeddings"`
	ShortlistSize      int           `yaml:"shortlist_size"` // 0 scores every identity
	GalleryTTL         time.Duration `yaml:"-"`
	GalleryTTLRaw      string        `yaml:"gallery_ttl"`
}

type EnrollmentConfig struct {
	MinQuality   float64 `yaml:"min_quality"`
	SizeWeight   float64 `yaml:"size_weight"`
	CenterWeight float64 `yaml:"center_weight"`
}

type RecognitionConfig struct {
	Cooldown    time.Duration `yaml:"-"`
	CooldownRaw string        `yaml:"cooldown"`
	OverlapIoU  float64       `yaml:"overlap_iou"`
	CameraID    string        `yaml:"-"`
}

type LogConfig struct {
	Mode          string `yaml:"-"` // prod selects JSON output
	RetentionDays int    `yaml:"retention_days"`
}

type defaults struct {
	Match       MatchConfig       `yaml:"match"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Embedding   struct {
		Dim int `yaml:"dim"`
	} `yaml:"embedding"`
	Log LogConfig `yaml:"log"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt that also accepts zero.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float, falling back on invalid input.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration ("5s") or a plain number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	return parseDuration(s, defaultVal)
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	d.Match.GalleryTTL = parseDuration(d.Match.GalleryTTLRaw, 30*time.Second)
	d.Recognition.Cooldown = parseDuration(d.Recognition.CooldownRaw, 5*time.Second)
	return d
}

func Load() *Config {
	d := loadDefaults()

	return &Config{
		Database: DatabaseConfig{
			Driver:           envString("DATABASE_DRIVER", "sqlite"),
			URL:              os.Getenv("DATABASE_URL"),
			Path:             envString("DATABASE_PATH", "attendance.db"),
			MaxOpenConns:     envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     envInt("DATABASE_MAX_IDLE_CONNS", 5),
			GalleryIndexPath: os.Getenv("GALLERY_INDEX_PATH"),
		},
		Ledger: LedgerConfig{
			MariaDBDSN: os.Getenv("LEDGER_MARIADB_DSN"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", d.Embedding.Dim),
		},
		Match: MatchConfig{
			Threshold:          envFloat("MATCH_THRESHOLD", d.Match.Threshold),
			LowConfidenceFloor: envFloat("MATCH_LOW_CONFIDENCE_FLOOR", d.Match.LowConfidenceFloor),
			MinEmbeddings:      envInt("MATCH_MIN_EMBEDDINGS", d.Match.MinEmbeddings),
			ShortlistSize:      envNonNegInt("MATCH_SHORTLIST_SIZE", d.Match.ShortlistSize),
			GalleryTTL:         envDuration("MATCH_GALLERY_TTL", d.Match.GalleryTTL),
		},
		Enrollment: EnrollmentConfig{
			MinQuality:   envFloat("ENROLL_MIN_QUALITY", d.Enrollment.MinQuality),
			SizeWeight:   envFloat("ENROLL_SIZE_WEIGHT", d.Enrollment.SizeWeight),
			CenterWeight: envFloat("ENROLL_CENTER_WEIGHT", d.Enrollment.CenterWeight),
		},
		Recognition: RecognitionConfig{
			Cooldown:   envDuration("RECOGNITION_COOLDOWN", d.Recognition.Cooldown),
			OverlapIoU: envFloat("RECOGNITION_OVERLAP_IOU", d.Recognition.OverlapIoU),
			CameraID:   envString("CAMERA_ID", "default"),
		},
		Log: LogConfig{
			Mode:          envString("LOG_MODE", "dev"),
			RetentionDays: envInt("LOG_RETENTION_DAYS", d.Log.RetentionDays),
		},
		Web: WebConfig{
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			FramesRoot:     os.Getenv("WEB_FRAMES_ROOT"),
		},
	}
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	APIToken       string   // bearer token required on /api/v1 when set
	AllowedOrigins []string // CORS origins in addition to localhost
	// FramesRoot is the only tree POST /sessions may read frame directories from.
	// Empty disables directory sources over HTTP.
	FramesRoot string
}

func envList(key string) []string {
	var out []string
	for v := range strings.SplitSeq(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold %v outside [0, 1]", c.Match.Threshold))
	}
	if c.Match.LowConfidenceFloor < 0 || c.Match.LowConfidenceFloor > c.Match.Threshold {
		errs = append(errs, fmt.Errorf("low confidence floor %v must be within [0, threshold]", c.Match.LowConfidenceFloor))
	}
	if c.Enrollment.MinQuality < 0 || c.Enrollment.MinQuality > 1 {
		errs = append(errs, fmt.Errorf("enrollment min quality %v outside [0, 1]", c.Enrollment.MinQuality))
	}
	if c.Enrollment.SizeWeight < 0 || c.Enrollment.CenterWeight < 0 || c.Enrollment.SizeWeight+c.Enrollment.CenterWeight <= 0 {
		errs = append(errs, errors.New("enrollment quality weights must be non-negative with a positive sum"))
	}
	if c.Embedding.Dim <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension %d must be positive", c.Embedding.Dim))
	}
	if c.Recognition.OverlapIoU <= 0 || c.Recognition.OverlapIoU > 1 {
		errs = append(errs, fmt.Errorf("overlap IoU %v outside (0, 1]", c.Recognition.OverlapIoU))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// RetentionCutoff returns the instant before which recognition logs are purged.
func (c *LogConfig) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.RetentionDays)
}
