package config

import (
	"fmt"
	"log/slog"
	"time"

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
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".dispatch/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"dispatch/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// DispatchEnv tunes the reservation scheduler and the continuation chain.
type DispatchEnv struct {
	// LeaseDuration bounds how long a worker may hold a reserved work item
	// before the expiry sweep returns it to the pool.
	LeaseDuration time.Duration `envconfig:"LEASE_DURATION" default:"2h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	// ClaimAttempts is the number of reselection rounds a single claim call
	// makes after losing conditional-update races.
	ClaimAttempts int `envconfig:"CLAIM_ATTEMPTS" default:"3"`
	// DefaultModificationRounds is the rework budget for authoring task
	// types when the delegator does not override it.
	DefaultModificationRounds int `envconfig:"DEFAULT_MODIFICATION_ROUNDS" default:"3"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:ops@example.com"`
}

// PackageInstallEnv configures the package-installation collaborator.
type PackageInstallEnv struct {
	// InstallCommand is the command template run for a requested package.
	// The package name is appended as the final argument.
	InstallCommand string        `envconfig:"INSTALL_COMMAND" default:"npm install --no-save"`
	InstallDir     string        `envconfig:"INSTALL_DIR" default:".dispatch/sandbox"`
	InstallTimeout time.Duration `envconfig:"INSTALL_TIMEOUT" default:"5m"`
}

type Env struct {
	BaseEnv
	StorageEnv
	DispatchEnv
	VAPIDEnv
	PackageInstallEnv
}

const namespace = "DISPATCH"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
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

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func DispatchEnvFromEnv(env *Env) *DispatchEnv {
	return &env.DispatchEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}

func PackageInstallEnvFromEnv(env *Env) *PackageInstallEnv {
	return &env.PackageInstallEnv
}
