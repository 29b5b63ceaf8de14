package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "COMMISSIONS"

	flagDatabaseURL     = "database-url"
	flagStoreBackend    = "store-backend"
	flagHTTPListenAddr  = "http-listen-addr"
	flagGRPCListenAddr  = "grpc-listen-addr"
	flagAllowedOrigins  = "allowed-origins"
	flagJWTSigningKey   = "jwt-signing-key"
	flagJWTIssuer       = "jwt-issuer"
	flagJWTCookieName   = "jwt-cookie-name"
	flagGRPCTokenKey    = "grpc-token-key"
	flagGRPCTokenIssuer = "grpc-token-issuer"
	flagAdmins          = "admins"
	flagSuperadmins     = "superadmins"
	flagSweepInterval   = "sweep-interval"
	flagSweepBatchSize  = "sweep-batch-size"
	flagRedisAddr       = "redis-addr"
	flagRedisPassword   = "redis-password"
	flagLogLevel        = "log-level"
	flagActor           = "actor"

	backendGorm = "gorm"
	backendPgx  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/commissions.db"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultSweepBatchSize = 100
	defaultTokenIssuer    = "commissions"
)

type runtimeConfig struct {
	DatabaseURL     string
	StoreBackend    string
	HTTPListenAddr  string
	GRPCListenAddr  string
	AllowedOrigins  []string
	JWTSigningKey   string
	JWTIssuer       string
	JWTCookieName   string
	GRPCTokenKey    string
	GRPCTokenIssuer string
	Admins          []string
	Superadmins     []string
	SweepInterval   time.Duration
	SweepBatchSize  int
	RedisAddr       string
	RedisPassword   string
	LogLevel        string
	Actor           string
}

func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite:// path")
	flags.String(flagStoreBackend, backendGorm, "store implementation: gorm or pgx (pgx requires PostgreSQL)")
	flags.String(flagHTTPListenAddr, defaultHTTPListenAddr, "admin HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address (empty disables gRPC)")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "session cookie signing key")
	flags.String(flagJWTIssuer, "tauth", "session cookie issuer")
	flags.String(flagJWTCookieName, "app_session", "session cookie name")
	flags.String(flagGRPCTokenKey, "", "HS256 key for gRPC bearer tokens")
	flags.String(flagGRPCTokenIssuer, defaultTokenIssuer, "issuer of gRPC bearer tokens")
	flags.String(flagAdmins, "", "comma-separated admin emails or user ids")
	flags.String(flagSuperadmins, "", "comma-separated superadmin emails or user ids")
	flags.Duration(flagSweepInterval, 0, "auto-release interval (0 disables the sweeper)")
	flags.Int(flagSweepBatchSize, defaultSweepBatchSize, "orders released per sweep pass")
	flags.String(flagRedisAddr, "", "Redis address for the sweep lock (empty runs unlocked)")
	flags.String(flagRedisPassword, "", "Redis password")
	flags.String(flagLogLevel, "info", "log level: debug or info")
	flags.String(flagActor, "", "actor recorded in the audit trail for CLI mutations")
}

// loadConfig resolves flags, COMMISSIONS_* environment variables and .env in
// that order of precedence.
func loadConfig(cmd *cobra.Command, store *viper.Viper, cfg *runtimeConfig) error {
	store.SetEnvPrefix(envPrefix)
	store.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	store.AutomaticEnv()
	if err := store.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(store.GetString(flagDatabaseURL))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(store.GetString(flagStoreBackend)))
	cfg.HTTPListenAddr = store.GetString(flagHTTPListenAddr)
	cfg.GRPCListenAddr = store.GetString(flagGRPCListenAddr)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(store.GetString(flagAllowedOrigins))
	cfg.JWTSigningKey = store.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = store.GetString(flagJWTIssuer)
	cfg.JWTCookieName = store.GetString(flagJWTCookieName)
	cfg.GRPCTokenKey = store.GetString(flagGRPCTokenKey)
	cfg.GRPCTokenIssuer = store.GetString(flagGRPCTokenIssuer)
	cfg.Admins = splitList(store.GetString(flagAdmins))
	cfg.Superadmins = splitList(store.GetString(flagSuperadmins))
	cfg.SweepInterval = store.GetDuration(flagSweepInterval)
	cfg.SweepBatchSize = store.GetInt(flagSweepBatchSize)
	cfg.RedisAddr = strings.TrimSpace(store.GetString(flagRedisAddr))
	cfg.RedisPassword = store.GetString(flagRedisPassword)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(store.GetString(flagLogLevel)))
	cfg.Actor = strings.TrimSpace(store.GetString(flagActor))

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = backendGorm
	}
	if cfg.StoreBackend != backendGorm && cfg.StoreBackend != backendPgx {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}
	return nil
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
