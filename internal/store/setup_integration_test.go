//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/safar/go-cql-shop/internal/config"
	"github.com/safar/go-cql-shop/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	cassandraOnce      sync.Once
	cassandraContainer testcontainers.Container
	cassandraHost      string
	cassandraPort      int
	cassandraErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if cassandraContainer != nil {
		if err := cassandraContainer.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate container: %v\n", err)
		}
	}
	os.Exit(code)
}

func startCassandra(t *testing.T) (string, int) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	cassandraOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "cassandra:4.1",
			ExposedPorts: []string{"9042/tcp"},
			Env: map[string]string{
				"MAX_HEAP_SIZE":        "512M",
				"HEAP_NEWSIZE":         "128M",
				"CASSANDRA_NUM_TOKENS": "1",
			},
			WaitingFor: wait.ForLog("Starting listening for CQL clients").
				WithStartupTimeout(3 * time.Minute),
		}

		cassandraContainer, cassandraErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if cassandraErr != nil {
			return
		}

		cassandraHost, cassandraErr = cassandraContainer.Host(ctx)
		if cassandraErr != nil {
			return
		}

		port, err := cassandraContainer.MappedPort(ctx, "9042/tcp")
		if err != nil {
			cassandraErr = err
			return
		}
		cassandraPort = port.Int()
	})

	if cassandraErr != nil {
		t.Fatalf("Failed to start cassandra container: %v", cassandraErr)
	}
	return cassandraHost, cassandraPort
}

func testConfig(t *testing.T) *config.CassandraConfig {
	host, port := startCassandra(t)
	return &config.CassandraConfig{
		Hosts:                    []string{host},
		Port:                     port,
		Keyspace:                 "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		ReplicationFactor:        1,
		Consistency:              "QUORUM",
		Timeout:                  10 * time.Second,
		ConnectTimeout:           10 * time.Second,
		DisableInitialHostLookup: true,
		ConnectAttempts:          20,
		ConnectRetryInterval:     2 * time.Second,
		ConnectBackoffFactor:     1,
	}
}

// setupTestSession returns a session bound to a fresh keyspace that is
// dropped when the test ends.
func setupTestSession(t *testing.T) *gocql.Session {
	t.Helper()
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	session, err := database.EnsureReady(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to connect to cassandra: %v", err)
	}

	t.Cleanup(func() {
		if err := session.Query(`DROP KEYSPACE IF EXISTS ` + cfg.Keyspace).Exec(); err != nil {
			t.Logf("Failed to drop keyspace %s: %v", cfg.Keyspace, err)
		}
		session.Close()
	})

	return session
}
