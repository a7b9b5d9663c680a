// Package testsupport starts throwaway infrastructure for integration tests.
package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SkipIfShort skips integration tests under `go test -short`.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func start(t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, string) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate %s: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve %s host: %v", req.Image, err)
	}
	return container, host
}

// StartPostgres runs postgres:15-alpine and returns its DSN.
func StartPostgres(t *testing.T) string {
	t.Helper()
	SkipIfShort(t)

	container, host := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "courier",
			"POSTGRES_PASSWORD": "courier",
			"POSTGRES_DB":       "courier",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})

	port, err := container.MappedPort(context.Background(), "5432")
	if err != nil {
		t.Fatalf("failed to resolve postgres port: %v", err)
	}
	return fmt.Sprintf("postgres://courier:courier@%s:%s/courier?sslmode=disable", host, port.Port())
}

// StartRedis runs redis:7-alpine and returns its host and port.
func StartRedis(t *testing.T) (string, int) {
	t.Helper()
	SkipIfShort(t)

	container, host := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	})

	port, err := container.MappedPort(context.Background(), "6379")
	if err != nil {
		t.Fatalf("failed to resolve redis port: %v", err)
	}
	return host, port.Int()
}
