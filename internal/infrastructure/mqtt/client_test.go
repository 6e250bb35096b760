package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/brollyhq/brolly-core/internal/infrastructure/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "brolly-test",
		},
		QoS: 1,
	}
}

// disconnectedClient builds a Client that has never connected, for
// exercising validation without a broker.
func disconnectedClient() *Client {
	cfg := testMQTTConfig()
	return &Client{
		cfg:    cfg,
		client: pahomqtt.NewClient(buildClientOptions(cfg)),
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("expected tcp://localhost:1883, got %s", got)
	}
	if opts.ClientID != "brolly-test" {
		t.Errorf("expected client ID brolly-test, got %s", opts.ClientID)
	}
	if opts.Username != "core" {
		t.Errorf("expected username core, got %s", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("expected auto-reconnect enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("expected ssl scheme with TLS enabled, got %s", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected TLS config")
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		got  string
		want string
	}{
		{topics.SessionEvent(EventSessionIssued), "brolly/event/session/issued"},
		{topics.SessionEvent(EventSessionReturned), "brolly/event/session/returned"},
		{topics.SessionEvent(EventSessionExpired), "brolly/event/session/expired"},
		{topics.SlotState("A3"), "brolly/slot/A3/state"},
		{topics.SystemStatus(), "brolly/system/status"},
		{topics.AllSessionEvents(), "brolly/event/session/+"},
		{topics.AllSlotStates(), "brolly/slot/+/state"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, tt.got)
		}
	}
}

func TestStatusPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"online":  buildOnlinePayload("brolly-test"),
		"offline": buildOfflinePayload("brolly-test"),
	} {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			t.Errorf("%s payload is not valid JSON: %v", name, err)
			continue
		}
		if decoded["status"] != name {
			t.Errorf("expected status %s, got %v", name, decoded["status"])
		}
		if decoded["client_id"] != "brolly-test" {
			t.Errorf("expected client_id brolly-test, got %v", decoded["client_id"])
		}
	}
}

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if err := c.Publish("brolly/test", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("expected ErrInvalidQoS, got %v", err)
	}

	oversized := []byte(strings.Repeat("a", maxPayloadSize+1))
	if err := c.Publish("brolly/test", oversized, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("expected ErrPublishFailed for oversized payload, got %v", err)
	}

	if err := c.Publish("brolly/test", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
