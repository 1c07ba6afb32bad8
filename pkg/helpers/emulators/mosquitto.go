package emulators

import (
	"context"
	"testing"
)

const (
	testMosquittoImage = "eclipse-mosquitto:2.0"
	testMosquittoPort  = "1883"
)

func GetDefaultMosquittoConfig() ImageContainer {
	return ImageContainer{
		EmulatorImage: testMosquittoImage,
		EmulatorPort:  testMosquittoPort,
		// Mosquitto 2 refuses anonymous clients unless told otherwise.
		Cmd: []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
	}
}

// SetupMosquittoContainer starts an MQTT broker and returns its tcp:// URL.
func SetupMosquittoContainer(t *testing.T, ctx context.Context, cfg ImageContainer) (brokerURL string, cleanupFunc func()) {
	t.Helper()
	address, cleanup := startContainer(t, ctx, cfg, nil)
	return "tcp://" + address, cleanup
}
