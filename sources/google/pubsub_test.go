package google_test

import (
	"context"
	"os"
	"testing"

	"github.com/gokit/trackstream/sources/google"
	"github.com/gokit/trackstream/sources/internal/stores"
)

func TestGooglePubSubBus(t *testing.T) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		t.Skip("pubsub emulator not configured")
	}

	bus, err := google.NewBus(context.Background(), google.Config{
		CreateMissingTopic: true,
	})
	if err != nil {
		t.Skipf("pubsub emulator unavailable: %s", err)
	}
	defer bus.Close()

	stores.Suite(t, bus)
}
