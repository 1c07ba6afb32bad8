package emulators

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testPubsubEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testPubsubEmulatorPort  = "8085"
)

type PubsubConfig struct {
	GCImageContainer
	Topics []string
}

func GetDefaultPubsubConfig(projectID string, topics ...string) PubsubConfig {
	return PubsubConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage: testPubsubEmulatorImage,
				EmulatorPort:  testPubsubEmulatorPort,
			},
			ProjectID: projectID,
		},
		Topics: topics,
	}
}

// SetupPubsubEmulator starts the Pub/Sub emulator and creates cfg.Topics.
// The returned address can be passed straight to the pubsub transport.
func SetupPubsubEmulator(t *testing.T, ctx context.Context, cfg PubsubConfig) (address string, clientOptions []option.ClientOption, cleanupFunc func()) {
	t.Helper()
	cfg.Cmd = []string{"gcloud", "beta", "emulators", "pubsub", "start",
		fmt.Sprintf("--project=%s", cfg.ProjectID),
		fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorPort)}
	address, cleanup := startContainer(t, ctx, cfg.ImageContainer, nil)

	clientOptions = []option.ClientOption{
		option.WithEndpoint(address),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	adminClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions...)
	require.NoError(t, err)
	defer adminClient.Close()

	for _, id := range cfg.Topics {
		topic := adminClient.Topic(id)
		exists, err := topic.Exists(ctx)
		require.NoError(t, err)
		if !exists {
			_, err = adminClient.CreateTopic(ctx, id)
			require.NoError(t, err, "Failed to create Pub/Sub topic")
		}
	}
	return address, clientOptions, cleanup
}
