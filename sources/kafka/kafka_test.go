package kafka_test

import (
	"context"
	"testing"

	"github.com/gokit/trackstream/sources/internal/stores"
	"github.com/gokit/trackstream/sources/kafka"
)

func TestKafkaBus(t *testing.T) {
	bus, err := kafka.NewBus(context.Background(), kafka.Config{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Skipf("kafka broker unavailable: %s", err)
	}
	defer bus.Close()

	stores.Suite(t, bus)
}
