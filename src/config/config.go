package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string
	DatabaseURL       string
	JWTSecret         string
	LogLevel          string
	BaseCurrency      string
	ClassifyChunkSize int
	ClassifyWorkers   int
	RuleSampleSize    int
	OptimizerMaxNodes int
	ReadOnly          bool
	MigrateOnStart    bool
	CacheMaxCost      int64
	CORSOrigins       []string
}

var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Load reads configuration from the environment, with a .env file and
// defaults underneath. Every key can be set as RECON_<KEY>; PORT,
// DATABASE_URL and JWT_SECRET are also read without the prefix.
func Load() (Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("base_currency", "GEL")
	v.SetDefault("classify_chunk_size", 500)
	v.SetDefault("classify_workers", 4)
	v.SetDefault("rule_sample_size", 20)
	v.SetDefault("optimizer_max_nodes", 20000)
	v.SetDefault("read_only", false)
	v.SetDefault("migrate_on_start", true)
	v.SetDefault("cache_max_cost", 10000)
	v.SetDefault("cors_origins", "http://localhost:3000")

	for _, key := range []string{"port", "database_url", "jwt_secret"} {
		_ = v.BindEnv(key, "RECON_"+strings.ToUpper(key), strings.ToUpper(key))
	}

	cfg := Config{
		Port:              v.GetString("port"),
		DatabaseURL:       v.GetString("database_url"),
		JWTSecret:         v.GetString("jwt_secret"),
		LogLevel:          v.GetString("log_level"),
		BaseCurrency:      strings.ToUpper(v.GetString("base_currency")),
		ClassifyChunkSize: v.GetInt("classify_chunk_size"),
		ClassifyWorkers:   v.GetInt("classify_workers"),
		RuleSampleSize:    v.GetInt("rule_sample_size"),
		OptimizerMaxNodes: v.GetInt("optimizer_max_nodes"),
		ReadOnly:          v.GetBool("read_only"),
		MigrateOnStart:    v.GetBool("migrate_on_start"),
		CacheMaxCost:      v.GetInt64("cache_max_cost"),
		CORSOrigins:       splitList(v.GetString("cors_origins")),
	}

	if cfg.DatabaseURL == "" {
		return cfg, ErrMissingDatabaseURL
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
