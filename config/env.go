package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvDataDir     = "RESCUE_DATA_DIR"
	EnvRPCAddr     = "RESCUE_RPC_ADDR"
	EnvLogLevel    = "RESCUE_LOG_LEVEL"
	EnvJWTSecret   = "RESCUE_JWT_SECRET"
	EnvRedisAddr   = "RESCUE_REDIS_ADDR"
	EnvRedisPass   = "RESCUE_REDIS_PASSWORD"
	EnvRedisDB     = "RESCUE_REDIS_DB"
	EnvPostgresDSN = "RESCUE_POSTGRES_DSN"
	EnvPassword    = "RESCUE_PASSWORD"
)

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug("Loaded env file", "path", p)
	}
	return nil
}

// ApplyEnv overrides cfg with any RESCUE_* variables that are set.
func (cfg *Config) ApplyEnv() {
	cfg.DataDir = getEnv(EnvDataDir, cfg.DataDir)
	cfg.RPCAddr = getEnv(EnvRPCAddr, cfg.RPCAddr)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	cfg.Auth.JWTSecret = getEnv(EnvJWTSecret, cfg.Auth.JWTSecret)
	cfg.Redis.Addr = getEnv(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = getEnv(EnvRedisPass, cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt(EnvRedisDB, cfg.Redis.DB)
	cfg.PostgresDSN = getEnv(EnvPostgresDSN, cfg.PostgresDSN)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("Ignoring non-integer env value", "key", key, "value", v)
		return fallback
	}
	return n
}
