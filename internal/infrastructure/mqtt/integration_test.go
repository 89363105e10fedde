//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Reconnection-oriented tests, kept behind the integration tag because
// they need a controllable broker at 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func TestIntegration_CallbackRegistration(t *testing.T) {
	client := connectOrSkip(t, "cyncbridge-int-callbacks")
	defer client.Close() //nolint:errcheck // test cleanup

	// Registering, replacing, and clearing callbacks must never race
	// with the paho connection handlers.
	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(error) {})
	client.SetOnConnect(nil)
	client.SetOnDisconnect(nil)
}

func TestIntegration_LoggerSwap(t *testing.T) {
	client := connectOrSkip(t, "cyncbridge-int-logger")
	defer client.Close() //nolint:errcheck // test cleanup

	client.SetLogger(&captureLogger{})
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}
	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

func TestIntegration_RetainedMessageSurvivesResubscribe(t *testing.T) {
	pub := connectOrSkip(t, "cyncbridge-int-retain-pub")
	defer pub.Close() //nolint:errcheck // test cleanup

	const topic = "cync/int/retained-preset"
	if err := pub.PublishString(topic, "medium", 1, true); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// A subscriber that connects only after the publish must still see
	// the retained payload, the broker-side half of fan preset
	// persistence.
	sub := connectOrSkip(t, "cyncbridge-int-retain-sub")
	defer sub.Close() //nolint:errcheck // test cleanup

	received := make(chan string, 1)
	var once sync.Once
	err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		once.Do(func() { received <- string(payload) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "medium" {
			t.Errorf("retained payload = %q, want %q", got, "medium")
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained message")
	}
}
