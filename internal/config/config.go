package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server      ServerConfig
	Client      ClientConfig
	Recognition RecognitionConfig
	Camera      CameraConfig
	Dataset     DatasetConfig
	Database    DatabaseConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Workers         int           // session worker pool size
	QueueSize       int           // pending sessions admitted beyond the pool; 0 means 2x workers
	StatsPort       int           // HTTP stats endpoint port; 0 disables it
	IdleTimeout     time.Duration // per-read deadline used to recheck the stop flag
	ShutdownTimeout time.Duration // how long to wait for workers on shutdown
}

type ClientConfig struct {
	Host        string
	Port        int
	SaveDir     string // where images received from the server are written
	IdleTimeout time.Duration
	JoinTimeout time.Duration // grace period for the receive loop on disconnect
}

type RecognitionConfig struct {
	ModelsDir   string  // dlib model files for the encoding backend
	CascadeFile string  // pigo cascade for the detection-only fallback
	DataDir     string  // face database files, one per backend variant
	Tolerance   float64 // maximum accepted descriptor distance for a match
}

type CameraConfig struct {
	Dir string // directory of frame images served by the camera
}

type DatasetConfig struct {
	Dir string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; empty selects the file store
	MaxOpenConns int
	MaxIdleConns int
}

// defaults mirrors defaults.yaml, the embedded tuning baseline.
type defaults struct {
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	Workers           int     `yaml:"workers"`
	Tolerance         float64 `yaml:"tolerance"`
	IdleTimeoutMs     int     `yaml:"idle_timeout_ms"`
	JoinTimeoutMs     int     `yaml:"join_timeout_ms"`
	ShutdownTimeoutMs int     `yaml:"shutdown_timeout_ms"`
	ModelsDir         string  `yaml:"models_dir"`
	CascadeFile       string  `yaml:"cascade_file"`
	DataDir           string  `yaml:"data_dir"`
	CameraDir         string  `yaml:"camera_dir"`
	DatasetDir        string  `yaml:"dataset_dir"`
	SaveDir           string  `yaml:"save_dir"`
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

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envString reads an environment variable, falling back to a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// This is an embedded file so this error should never happen in practice.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	idle := time.Duration(envInt("FACEGATE_IDLE_TIMEOUT_MS", def.IdleTimeoutMs)) * time.Millisecond

	return &Config{
		Server: ServerConfig{
			Host:            envString("FACEGATE_HOST", def.Host),
			Port:            envInt("FACEGATE_PORT", def.Port),
			Workers:         envInt("FACEGATE_WORKERS", def.Workers),
			QueueSize:       envInt("FACEGATE_QUEUE_SIZE", 0),
			StatsPort:       envInt("FACEGATE_STATS_PORT", 0),
			IdleTimeout:     idle,
			ShutdownTimeout: time.Duration(envInt("FACEGATE_SHUTDOWN_TIMEOUT_MS", def.ShutdownTimeoutMs)) * time.Millisecond,
		},
		Client: ClientConfig{
			Host:        envString("FACEGATE_HOST", def.Host),
			Port:        envInt("FACEGATE_PORT", def.Port),
			SaveDir:     envString("FACEGATE_SAVE_DIR", def.SaveDir),
			IdleTimeout: idle,
			JoinTimeout: time.Duration(envInt("FACEGATE_JOIN_TIMEOUT_MS", def.JoinTimeoutMs)) * time.Millisecond,
		},
		Recognition: RecognitionConfig{
			ModelsDir:   envString("FACEGATE_MODELS_DIR", def.ModelsDir),
			CascadeFile: envString("FACEGATE_CASCADE_FILE", def.CascadeFile),
			DataDir:     envString("FACEGATE_DATA_DIR", def.DataDir),
			Tolerance:   envFloat("FACEGATE_TOLERANCE", def.Tolerance),
		},
		Camera: CameraConfig{
			Dir: envString("FACEGATE_CAMERA_DIR", def.CameraDir),
		},
		Dataset: DatasetConfig{
			Dir: envString("FACEGATE_DATASET_DIR", def.DatasetDir),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("FACEGATE_DATABASE_URL"),
			MaxOpenConns: envInt("FACEGATE_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("FACEGATE_DATABASE_MAX_IDLE_CONNS", 5),
		},
	}
}
