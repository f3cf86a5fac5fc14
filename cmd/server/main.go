// Command server runs the file management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/auth"
	"filevault/internal/blob"
	"filevault/internal/files"
	"filevault/internal/observability/logging"
	"filevault/internal/server"
	"filevault/internal/storage"
)

const (
	defaultAddr          = ":8080"
	defaultDataFile      = "data/filevault.json"
	defaultContentDir    = "/tmp/files_manager"
	defaultSessionTTL    = 24 * time.Hour
	defaultPurgeInterval = 15 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", firstNonEmpty(os.Getenv("FILEVAULT_ADDR"), defaultAddr), "listen address")
	logLevel := flag.String("log-level", firstNonEmpty(os.Getenv("FILEVAULT_LOG_LEVEL"), "info"), "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", firstNonEmpty(os.Getenv("FILEVAULT_LOG_FORMAT"), "json"), "log format (json or text)")

	storageDriver := flag.String("storage-driver", firstNonEmpty(os.Getenv("FILEVAULT_STORAGE_DRIVER"), "json"), "metadata store driver (json or postgres)")
	dataFile := flag.String("data", firstNonEmpty(os.Getenv("FILEVAULT_DATA_FILE"), defaultDataFile), "path of the json metadata file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("FILEVAULT_POSTGRES_DSN"), "postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", resolveInt(os.Getenv("FILEVAULT_POSTGRES_MAX_CONNS"), 0), "max postgres connections")
	postgresMinConns := flag.Int("postgres-min-conns", resolveInt(os.Getenv("FILEVAULT_POSTGRES_MIN_CONNS"), 0), "min postgres connections")
	postgresConnLifetime := flag.Duration("postgres-conn-lifetime", resolveDuration(os.Getenv("FILEVAULT_POSTGRES_CONN_LIFETIME"), 0), "max postgres connection lifetime")
	postgresConnIdle := flag.Duration("postgres-conn-idle", resolveDuration(os.Getenv("FILEVAULT_POSTGRES_CONN_IDLE"), 0), "max postgres connection idle time")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", resolveDuration(os.Getenv("FILEVAULT_POSTGRES_ACQUIRE_TIMEOUT"), 5*time.Second), "timeout for postgres operations")

	sessionStoreKind := flag.String("session-store", firstNonEmpty(os.Getenv("FILEVAULT_SESSION_STORE"), "memory"), "session store (memory or redis)")
	sessionTTL := flag.Duration("session-ttl", resolveDuration(os.Getenv("FILEVAULT_SESSION_TTL"), defaultSessionTTL), "bearer token lifetime")
	purgeInterval := flag.Duration("session-purge-interval", resolveDuration(os.Getenv("FILEVAULT_SESSION_PURGE_INTERVAL"), defaultPurgeInterval), "expired session purge interval")

	redisAddrs := flag.String("redis-addrs", firstNonEmpty(os.Getenv("FILEVAULT_REDIS_ADDRS"), "127.0.0.1:6379"), "comma separated redis addresses")
	redisMaster := flag.String("redis-master", os.Getenv("FILEVAULT_REDIS_MASTER"), "redis sentinel master name")
	redisUsername := flag.String("redis-username", os.Getenv("FILEVAULT_REDIS_USERNAME"), "redis username")
	redisPassword := flag.String("redis-password", os.Getenv("FILEVAULT_REDIS_PASSWORD"), "redis password")
	redisDB := flag.Int("redis-db", resolveInt(os.Getenv("FILEVAULT_REDIS_DB"), 0), "redis logical database")
	redisTLS := flag.Bool("redis-tls", resolveBool(os.Getenv("FILEVAULT_REDIS_TLS"), false), "enable tls for redis")
	redisTLSCA := flag.String("redis-tls-ca", os.Getenv("FILEVAULT_REDIS_TLS_CA"), "redis tls ca bundle")
	redisTLSCert := flag.String("redis-tls-cert", os.Getenv("FILEVAULT_REDIS_TLS_CERT"), "redis tls client certificate")
	redisTLSKey := flag.String("redis-tls-key", os.Getenv("FILEVAULT_REDIS_TLS_KEY"), "redis tls client key")
	redisTLSServerName := flag.String("redis-tls-server-name", os.Getenv("FILEVAULT_REDIS_TLS_SERVER_NAME"), "redis tls server name override")
	redisTLSInsecure := flag.Bool("redis-tls-insecure", resolveBool(os.Getenv("FILEVAULT_REDIS_TLS_INSECURE"), false), "skip redis tls verification")

	contentDriver := flag.String("content-driver", firstNonEmpty(os.Getenv("FILEVAULT_CONTENT_DRIVER"), "disk"), "content store driver (disk or s3)")
	contentDir := flag.String("content-dir", firstNonEmpty(os.Getenv("FILEVAULT_CONTENT_DIR"), os.Getenv("FOLDER_PATH"), defaultContentDir), "directory for content blobs")
	s3Bucket := flag.String("s3-bucket", os.Getenv("FILEVAULT_S3_BUCKET"), "s3 bucket for content blobs")
	s3Region := flag.String("s3-region", os.Getenv("FILEVAULT_S3_REGION"), "s3 region")
	s3Endpoint := flag.String("s3-endpoint", os.Getenv("FILEVAULT_S3_ENDPOINT"), "custom s3 endpoint")
	s3AccessKey := flag.String("s3-access-key", os.Getenv("FILEVAULT_S3_ACCESS_KEY"), "s3 access key id")
	s3SecretKey := flag.String("s3-secret-key", os.Getenv("FILEVAULT_S3_SECRET_KEY"), "s3 secret access key")
	s3KeyPrefix := flag.String("s3-key-prefix", os.Getenv("FILEVAULT_S3_KEY_PREFIX"), "prefix for s3 object keys")

	rateLimitEnabled := flag.Bool("rate-limit", resolveBool(os.Getenv("FILEVAULT_RATE_LIMIT"), true), "throttle token issue attempts")
	rateLimitLogin := flag.Int("rate-limit-login", resolveInt(os.Getenv("FILEVAULT_RATE_LIMIT_LOGIN"), 10), "login attempts allowed per window")
	rateLimitWindow := flag.Duration("rate-limit-window", resolveDuration(os.Getenv("FILEVAULT_RATE_LIMIT_WINDOW"), time.Minute), "login rate limit window")

	tlsCert := flag.String("tls-cert", os.Getenv("FILEVAULT_TLS_CERT"), "tls certificate for the api listener")
	tlsKey := flag.String("tls-key", os.Getenv("FILEVAULT_TLS_KEY"), "tls key for the api listener")
	shutdownTimeout := flag.Duration("shutdown-timeout", resolveDuration(os.Getenv("FILEVAULT_SHUTDOWN_TIMEOUT"), 10*time.Second), "graceful shutdown timeout")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	store, err := buildRepository(repositoryConfig{
		Driver:         *storageDriver,
		DataFile:       *dataFile,
		PostgresDSN:    *postgresDSN,
		MaxConns:       *postgresMaxConns,
		MinConns:       *postgresMinConns,
		ConnLifetime:   *postgresConnLifetime,
		ConnIdle:       *postgresConnIdle,
		AcquireTimeout: *postgresAcquireTimeout,
	})
	if err != nil {
		return err
	}

	sessionStore, err := buildSessionStore(sessionStoreConfig{
		Kind:          *sessionStoreKind,
		Addrs:         splitAndTrim(*redisAddrs),
		MasterName:    *redisMaster,
		Username:      *redisUsername,
		Password:      *redisPassword,
		DB:            *redisDB,
		TLSEnabled:    *redisTLS,
		TLSCAFile:     *redisTLSCA,
		TLSCertFile:   *redisTLSCert,
		TLSKeyFile:    *redisTLSKey,
		TLSServerName: *redisTLSServerName,
		TLSInsecure:   *redisTLSInsecure,
	})
	if err != nil {
		return err
	}
	sessions := auth.NewSessionManager(*sessionTTL, auth.WithStore(sessionStore))

	var rateLimitClient redis.UniversalClient
	if redisStore, ok := sessionStore.(*auth.RedisSessionStore); ok {
		rateLimitClient = redisStore.Client()
	}

	blobs, err := buildBlobStore(blobConfig{
		Driver:     *contentDriver,
		ContentDir: *contentDir,
		Bucket:     *s3Bucket,
		Region:     *s3Region,
		Endpoint:   *s3Endpoint,
		AccessKey:  *s3AccessKey,
		SecretKey:  *s3SecretKey,
		KeyPrefix:  *s3KeyPrefix,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:     *addr,
		Store:    store,
		Sessions: sessions,
		Files:    files.NewService(store, blobs),
		Logger:   logger,
		RateLimit: server.RateLimitConfig{
			Enabled:     *rateLimitEnabled,
			LoginLimit:  *rateLimitLogin,
			LoginWindow: *rateLimitWindow,
		},
		RateLimitClient: rateLimitClient,
		TLSCertFile:     *tlsCert,
		TLSKeyFile:      *tlsKey,
		ShutdownTimeout: *shutdownTimeout,
	})

	stopPurger := startSessionPurgeWorker(sessions, *purgeInterval, logger)
	defer stopPurger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if closeErr := closer.Close(closeCtx); closeErr != nil {
			logger.Warn("close metadata store failed", slog.String("error", closeErr.Error()))
		}
	}
	if closer, ok := sessionStore.(interface{ Close() error }); ok {
		if closeErr := closer.Close(); closeErr != nil {
			logger.Warn("close session store failed", slog.String("error", closeErr.Error()))
		}
	}
	return err
}

type repositoryConfig struct {
	Driver         string
	DataFile       string
	PostgresDSN    string
	MaxConns       int
	MinConns       int
	ConnLifetime   time.Duration
	ConnIdle       time.Duration
	AcquireTimeout time.Duration
}

func buildRepository(cfg repositoryConfig) (storage.Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "json":
		return storage.NewStorage(cfg.DataFile)
	case "postgres":
		opts := []storage.Option{
			storage.WithPostgresPoolLimits(int32(cfg.MaxConns), int32(cfg.MinConns)),
			storage.WithPostgresPoolDurations(cfg.ConnLifetime, cfg.ConnIdle, 0),
			storage.WithPostgresAcquireTimeout(cfg.AcquireTimeout),
			storage.WithPostgresApplicationName("filevault"),
		}
		return storage.NewPostgresRepository(cfg.PostgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type sessionStoreConfig struct {
	Kind          string
	Addrs         []string
	MasterName    string
	Username      string
	Password      string
	DB            int
	TLSEnabled    bool
	TLSCAFile     string
	TLSCertFile   string
	TLSKeyFile    string
	TLSServerName string
	TLSInsecure   bool
}

func buildSessionStore(cfg sessionStoreConfig) (auth.SessionStore, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "memory":
		return auth.NewMemorySessionStore(), nil
	case "redis":
		return auth.NewRedisSessionStore(auth.RedisSessionStoreConfig{
			Addrs:                 cfg.Addrs,
			MasterName:            cfg.MasterName,
			Username:              cfg.Username,
			Password:              cfg.Password,
			DB:                    cfg.DB,
			TLSEnabled:            cfg.TLSEnabled,
			TLSCAFile:             cfg.TLSCAFile,
			TLSCertFile:           cfg.TLSCertFile,
			TLSKeyFile:            cfg.TLSKeyFile,
			TLSServerName:         cfg.TLSServerName,
			TLSInsecureSkipVerify: cfg.TLSInsecure,
		})
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Kind)
	}
}

type blobConfig struct {
	Driver     string
	ContentDir string
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	KeyPrefix  string
}

func buildBlobStore(cfg blobConfig) (blob.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "disk":
		return blob.NewDiskStore(cfg.ContentDir)
	case "s3":
		return blob.NewS3Store(context.Background(), blob.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			KeyPrefix:       cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown content driver %q", cfg.Driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func resolveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}

func resolveDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}

func resolveBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
