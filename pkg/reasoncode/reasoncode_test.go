package reasoncode_test

import (
	"sync"
	"testing"

	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	expected := map[reasoncode.Code]string{
		reasoncode.Again:        "operation would block, retry later",
		reasoncode.Success:      "success",
		reasoncode.NoMem:        "out of memory",
		reasoncode.Protocol:     "protocol error",
		reasoncode.Inval:        "invalid argument",
		reasoncode.NoConn:       "no connection to broker",
		reasoncode.ConnRefused:  "connection refused",
		reasoncode.NotFound:     "not found",
		reasoncode.ConnLost:     "connection lost",
		reasoncode.TLS:          "TLS or security layer failure",
		reasoncode.PayloadSize:  "payload too large",
		reasoncode.NotSupported: "operation not supported",
		reasoncode.Auth:         "authentication failure",
		reasoncode.ACLDenied:    "access denied",
		reasoncode.Unknown:      "unknown error",
		reasoncode.Errno:        "low-level I/O error",
		reasoncode.QueueSize:    "message queue or quota exceeded",
	}

	t.Run("Every canonical code", func(t *testing.T) {
		for code, want := range expected {
			got, ok := reasoncode.Describe(code)
			require.True(t, ok, "code %d should be in the catalog", code)
			assert.Equal(t, want, got)
		}
		assert.Len(t, reasoncode.Codes(), len(expected))
	})

	t.Run("Unknown code is unclassified", func(t *testing.T) {
		for _, code := range []reasoncode.Code{-2, 16, 128, 255} {
			got, ok := reasoncode.Describe(code)
			assert.False(t, ok)
			assert.Empty(t, got)
			assert.Equal(t, "unclassified", code.Reason())
		}
		assert.Equal(t, "unclassified(42)", reasoncode.Code(42).String())
	})
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "MQTT_ERR_SUCCESS", reasoncode.Success.String())
	assert.Equal(t, "MQTT_ERR_QUEUE_SIZE", reasoncode.QueueSize.String())
	assert.True(t, reasoncode.Success.IsSuccess())
	assert.False(t, reasoncode.ConnRefused.IsSuccess())
}

func TestDescribe_ConcurrentReads(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range reasoncode.Codes() {
				_, ok := reasoncode.Describe(c)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}
