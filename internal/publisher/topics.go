// internal/publisher/topics.go
package publisher

import (
	"fmt"
	"strings"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
)

// Topics builds every MQTT topic below one device prefix.
type Topics struct {
	prefix string
}

func NewTopics(device string) Topics {
	return Topics{prefix: feature.Slug(device)}
}

func (t Topics) Prefix() string { return t.prefix }

// Availability carries online/offline and is the last will topic.
func (t Topics) Availability() string {
	return t.prefix + "/status"
}

// Status carries the health snapshot of one Modbus connection.
func (t Topics) Status(conn config.Connection) string {
	return fmt.Sprintf("%s/status/%s", t.prefix, conn)
}

// State is <device>/<name>[/<type>]/<circuit>/get.
func (t Topics) State(kind feature.Kind, circuit string) string {
	return t.base(kind, circuit) + "/get"
}

// Command is the set topic matching State.
func (t Topics) Command(kind feature.Kind, circuit string) string {
	return t.base(kind, circuit) + "/set"
}

func (t Topics) base(kind feature.Kind, circuit string) string {
	parts := []string{t.prefix, kind.TopicName()}
	if typ := kind.TopicType(); typ != "" {
		parts = append(parts, typ)
	}
	parts = append(parts, circuit)
	return strings.Join(parts, "/")
}

// CommandFilters covers set topics with and without a type segment.
func (t Topics) CommandFilters() []string {
	return []string{
		t.prefix + "/+/+/set",
		t.prefix + "/+/+/+/set",
	}
}

// CircuitFromCommand returns the circuit of a set topic below this prefix.
func (t Topics) CircuitFromCommand(topic string) (string, error) {
	segments := strings.Split(topic, "/")
	if len(segments) < 4 || len(segments) > 5 {
		return "", fmt.Errorf("publisher: malformed command topic %q", topic)
	}
	if segments[0] != t.prefix || segments[len(segments)-1] != "set" {
		return "", fmt.Errorf("publisher: unexpected command topic %q", topic)
	}
	circuit := segments[len(segments)-2]
	if circuit == "" {
		return "", fmt.Errorf("publisher: empty circuit in %q", topic)
	}
	return circuit, nil
}
