package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskdesk/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskdesk/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// SQLite settings (used when Type == "sqlite")
	SQLitePath string `envconfig:"SQLITE_PATH" default:".taskdesk/taskdesk.db"`
}

type DirectoryEnv struct {
	File string `envconfig:"DIRECTORY_FILE" default:".taskdesk/directory.yaml"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

func (e *VAPIDEnv) Configured() bool {
	return e.VAPIDPublicKey != "" && e.VAPIDPrivateKey != ""
}

// RelayEnv configures the cross-replica change feed. The relay is disabled
// when RedisURL is empty.
type RelayEnv struct {
	RedisURL     string `envconfig:"REDIS_URL"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"taskdesk:events"`
}

type Env struct {
	BaseEnv
	StorageEnv
	DirectoryEnv
	VAPIDEnv
	RelayEnv
}

const namespace = "TASKDESK"

const (
	StorageTypeLocal  = "local"
	StorageTypeS3     = "s3"
	StorageTypeSQLite = "sqlite"
)

// LoadEnv reads the given dotenv files (missing files are skipped) and then
// the TASKDESK_* environment. Variables already set in the process win over
// dotenv values.
func LoadEnv(dotenvFiles ...string) (*Env, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("dotenv file not loaded", "file", f, "error", err)
		}
	}
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	switch env.StorageEnv.Type {
	case StorageTypeLocal, StorageTypeS3, StorageTypeSQLite:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_TYPE %q", env.StorageEnv.Type)
	}
	if env.StorageEnv.Type == StorageTypeS3 && env.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_TYPE=s3")
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
