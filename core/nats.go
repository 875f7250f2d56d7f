package core

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsBroker wraps the NATS connection all messaging goes through. Agents,
// the directory and the API server share one broker per process.
type NatsBroker struct {
	conn *nats.Conn
}

// NatsBrokerInstance is the process-wide broker, set up once from main.
var NatsBrokerInstance *NatsBroker

// SetupNatsBroker connects the global broker instance to the given server.
func SetupNatsBroker(url string) error {
	broker, err := NewNatsBroker(url)
	if err != nil {
		return err
	}
	NatsBrokerInstance = broker
	return nil
}

// NewNatsBroker connects to a NATS server and returns a broker around it.
func NewNatsBroker(url string) (*NatsBroker, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NatsBroker{conn: conn}, nil
}

// Publish sends a fire-and-forget message to the given subject.
func (b *NatsBroker) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject.
func (b *NatsBroker) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, handler)
}

// Request performs a request/reply round-trip bounded by timeout.
func (b *NatsBroker) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return b.conn.Request(subject, data, timeout)
}

// Close drains and closes the underlying connection.
func (b *NatsBroker) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}
