//go:build integration

// Package testutil starts broker containers and runs the shared transport
// conformance suite against them.
package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/testcontainers/testcontainers-go/wait"
)

var tcLogger = log.New(os.Stdout, "[tc] ", log.LstdFlags)

func logHooks(l *log.Logger) tc.ContainerLifecycleHooks {
	return tc.ContainerLifecycleHooks{
		PostStarts: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("started %s", c.GetContainerID()[:12])
				return nil
			},
		},
		PreTerminates: []tc.ContainerHook{
			func(_ context.Context, c tc.Container) error {
				l.Printf("terminating %s", c.GetContainerID()[:12])
				return nil
			},
		},
	}
}

// startGeneric runs req and terminates the container when t ends
func startGeneric(t *testing.T, req tc.ContainerRequest) tc.Container {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker container in short mode")
	}
	ctx := context.Background()

	req.LifecycleHooks = append(req.LifecycleHooks, logHooks(tcLogger))
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = tc.TerminateContainer(container) })
	return container
}

// StartRabbitMQ returns an AMQP URL
func StartRabbitMQ(t *testing.T) string {
	c := startGeneric(t, tc.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5672/tcp"),
			wait.ForLog("Server startup complete"),
		).WithDeadline(90 * time.Second),
	})
	endpoint, err := c.PortEndpoint(context.Background(), "5672/tcp", "")
	if err != nil {
		t.Fatalf("failed to resolve rabbitmq endpoint: %v", err)
	}
	return fmt.Sprintf("amqp://guest:guest@%s/", endpoint)
}

// StartRedis returns a redis:// URL
func StartRedis(t *testing.T) string {
	c := startGeneric(t, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	endpoint, err := c.PortEndpoint(context.Background(), "6379/tcp", "")
	if err != nil {
		t.Fatalf("failed to resolve redis endpoint: %v", err)
	}
	return fmt.Sprintf("redis://%s/0", endpoint)
}

// StartNATS returns a nats:// URL for a JetStream enabled server
func StartNATS(t *testing.T) string {
	c := startGeneric(t, tc.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--js", "-m", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(60*time.Second),
		),
	})
	endpoint, err := c.PortEndpoint(context.Background(), "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("failed to resolve nats endpoint: %v", err)
	}
	return endpoint
}

// StartRedpanda returns the Kafka seed broker
func StartRedpanda(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	rp, err := redpanda.Run(ctx,
		"docker.redpanda.com/redpandadata/redpanda:v23.3.8",
		tc.WithLifecycleHooks(logHooks(tcLogger)),
		redpanda.WithAutoCreateTopics(),
	)
	if err != nil {
		t.Fatalf("failed to start redpanda: %v", err)
	}
	t.Cleanup(func() { _ = tc.TerminateContainer(rp) })

	seed, err := rp.KafkaSeedBroker(ctx)
	if err != nil {
		t.Fatalf("failed to resolve seed broker: %v", err)
	}
	return []string{seed}
}
