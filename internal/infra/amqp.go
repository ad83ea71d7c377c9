package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP holds the broker connection and the channel the event consumer reads from.
type AMQP struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// DialAMQP opens a connection and a channel on url.
func DialAMQP(url string) (*AMQP, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQP{Conn: conn, Channel: ch}, nil
}

// Close closes the channel, then the connection.
func (a *AMQP) Close() error {
	chErr := a.Channel.Close()
	if err := a.Conn.Close(); err != nil {
		return err
	}
	return chErr
}
