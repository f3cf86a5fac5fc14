package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSessionKeyPrefix = "filevault:auth:"

// RedisSessionStoreConfig describes how to reach the Redis deployment that
// holds sessions shared between API replicas.
type RedisSessionStoreConfig struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int

	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	TLSEnabled            bool
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string
	TLSServerName         string
	TLSInsecureSkipVerify bool
}

// RedisSessionStore keeps sessions in Redis so token revocation takes
// effect across every replica. Expiry is delegated to Redis key TTLs.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opTimeout time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore connects to Redis and verifies the connection.
func NewRedisSessionStore(cfg RedisSessionStoreConfig) (*RedisSessionStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis session store requires at least one address")
	}

	tlsConfig, err := buildRedisTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})

	opTimeout := cfg.ReadTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}

	store := &RedisSessionStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: opTimeout,
	}
	if store.keyPrefix == "" {
		store.keyPrefix = defaultSessionKeyPrefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis session store: %w", err)
	}
	return store, nil
}

func (s *RedisSessionStore) key(token string) string {
	return s.keyPrefix + hashSessionToken(token)
}

func (s *RedisSessionStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *RedisSessionStore) Save(token, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Set(ctx, s.key(token), userID, ttl).Err(); err != nil {
		return fmt.Errorf("save session in redis: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	key := s.key(token)
	userID, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("load session from redis: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("load session ttl from redis: %w", err)
	}
	if ttl <= 0 {
		// Key vanished or carries no expiry; treat as revoked.
		return SessionRecord{}, false, nil
	}
	return SessionRecord{UserID: userID, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

func (s *RedisSessionStore) Delete(token string) (bool, error) {
	ctx, cancel := s.opContext()
	defer cancel()
	removed, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session from redis: %w", err)
	}
	return removed > 0, nil
}

// PurgeExpired is a no-op because Redis evicts expired keys itself.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping reports whether Redis is reachable.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client resources.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection so other subsystems, such as the
// login rate limiter, can share it.
func (s *RedisSessionStore) Client() redis.UniversalClient {
	return s.client
}

func buildRedisTLSConfig(cfg RedisSessionStoreConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.TLSServerName,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("redis ca bundle contains no certificates")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return nil, errors.New("redis tls requires both a certificate and key")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
