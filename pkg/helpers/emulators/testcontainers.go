package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ImageContainer names an emulator image and the port it serves on.
type ImageContainer struct {
	EmulatorImage string
	EmulatorPort  string
	Cmd           []string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator.
type GCImageContainer struct {
	ImageContainer
	ProjectID string
}

// startContainer runs the image, waits for its port and returns the mapped
// host:port with a cleanup func.
func startContainer(t *testing.T, ctx context.Context, image ImageContainer, waitFor wait.Strategy) (string, func()) {
	t.Helper()
	port := nat.Port(fmt.Sprintf("%s/tcp", image.EmulatorPort))
	if waitFor == nil {
		waitFor = wait.ForListeningPort(port)
	}
	req := testcontainers.ContainerRequest{
		Image:        image.EmulatorImage,
		ExposedPorts: []string{string(port)},
		Cmd:          image.Cmd,
		WaitingFor:   waitFor,
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	address := fmt.Sprintf("%s:%s", host, mapped.Port())
	t.Logf("%s container started, listening on: %s", image.EmulatorImage, address)

	return address, func() {
		if err := container.Terminate(ctx); err != nil {
			log.Warn().Err(err).Str("image", image.EmulatorImage).Msg("Failed to terminate emulator container")
		}
	}
}
