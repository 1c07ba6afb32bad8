package emulators

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testRedisImage = "redis:7-alpine"
	testRedisPort  = "6379"
)

func GetDefaultRedisImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage: testRedisImage,
		EmulatorPort:  testRedisPort,
	}
}

// SetupRedisContainer starts a Redis server and returns its host:port.
func SetupRedisContainer(t *testing.T, ctx context.Context, cfg ImageContainer) (address string, cleanupFunc func()) {
	t.Helper()
	return startContainer(t, ctx, cfg, wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second))
}
