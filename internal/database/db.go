package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"
	"github.com/safar/go-cql-shop/internal/config"
)

// NewCluster builds the driver configuration. An empty keyspace yields a
// cluster suitable for bootstrap DDL.
func NewCluster(cfg *config.CassandraConfig, keyspace string, logger *slog.Logger) (*gocql.ClusterConfig, error) {
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("%w: consistency %q", ErrInvalidInput, cfg.Consistency)
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.DisableInitialHostLookup = cfg.DisableInitialHostLookup
	if logger != nil {
		cluster.Logger = driverLogger{logger: logger.With("component", "gocql")}
	}

	return cluster, nil
}

func retryPolicyFrom(cfg *config.CassandraConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.ConnectAttempts,
		Interval:      cfg.ConnectRetryInterval,
		BackoffFactor: cfg.ConnectBackoffFactor,
		MaxInterval:   cfg.ConnectMaxInterval,
	}
}

// EnsureReady either returns a live session bound to a keyspace whose tables
// all exist, or an error wrapping ErrStoreUnavailable once the connect budget
// is spent. Callers own the returned session and must Close it.
func EnsureReady(ctx context.Context, cfg *config.CassandraConfig, logger *slog.Logger) (*gocql.Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !ValidKeyspace(cfg.Keyspace) {
		return nil, fmt.Errorf("%w: keyspace name %q", ErrInvalidInput, cfg.Keyspace)
	}

	bootstrap, err := NewCluster(cfg, "", logger)
	if err != nil {
		return nil, err
	}

	var session *gocql.Session
	err = WithRetry(ctx, retryPolicyFrom(cfg), func(context.Context) error {
		s, err := bootstrap.CreateSession()
		if err != nil {
			return err
		}
		session = s
		return nil
	}, func(attempt int, err error) {
		logger.Warn("cassandra not ready",
			"attempt", attempt,
			"max_attempts", cfg.ConnectAttempts,
			"hosts", cfg.Hosts,
			"error", err)
	})
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := EnsureSchema(ctx, session, cfg.Keyspace, cfg.ReplicationFactor); err != nil {
		return nil, err
	}
	logger.Info("schema ready", "keyspace", cfg.Keyspace, "replication_factor", cfg.ReplicationFactor)

	cluster, err := NewCluster(cfg, cfg.Keyspace, logger)
	if err != nil {
		return nil, err
	}
	ks, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open keyspace session: %v", ErrStoreUnavailable, err)
	}

	return ks, nil
}

type driverLogger struct {
	logger *slog.Logger
}

func (l driverLogger) Print(v ...interface{}) {
	l.logger.Info(fmt.Sprint(v...))
}

func (l driverLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l driverLogger) Println(v ...interface{}) {
	l.logger.Info(fmt.Sprint(v...))
}
