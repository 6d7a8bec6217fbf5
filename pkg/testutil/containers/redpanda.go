//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredpanda "github.com/testcontainers/testcontainers-go/modules/redpanda"
)

// RedpandaContainer wraps a kafka-compatible redpanda broker for publisher
// integration tests.
type RedpandaContainer struct {
	Container testcontainers.Container
	Broker    string
}

// NewRedpandaContainer starts a Redpanda container and registers cleanup.
func NewRedpandaContainer(t *testing.T) *RedpandaContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcredpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.2")
	if err != nil {
		t.Fatalf("failed to start redpanda container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		t.Fatalf("failed to get redpanda broker address: %v", err)
	}

	return &RedpandaContainer{Container: container, Broker: broker}
}
