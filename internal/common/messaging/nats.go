// Package messaging connects the dispatcher to the NATS event bus.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notification-dispatcher/internal/common/logger"

	"github.com/nats-io/nats.go"
)

// MessageHandler processes one inbound message body for a subject.
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// Conn is the subset of *nats.Conn the subscriber needs.
type Conn interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Reply is sent back to requesters that used request/reply.
type Reply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Connect dials the NATS server with reconnect settings suited to a long running service.
func Connect(url, name string, log logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", map[string]interface{}{"error": err})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subscriber fans NATS subjects into a MessageHandler using a queue group so
// that replicas share the load.
type Subscriber struct {
	conn    Conn
	queue   string
	timeout time.Duration
	logger  logger.Logger
	subs    []*nats.Subscription
}

func NewSubscriber(conn Conn, queue string, timeout time.Duration, log logger.Logger) *Subscriber {
	return &Subscriber{
		conn:    conn,
		queue:   queue,
		timeout: timeout,
		logger:  log.Component("nats-subscriber"),
	}
}

// Subscribe registers handler for subject.
func (s *Subscriber) Subscribe(subject string, handler MessageHandler) error {
	sub, err := s.conn.QueueSubscribe(subject, s.queue, s.wrap(handler))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if sub != nil {
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("subscribed", map[string]interface{}{"subject": subject, "queue": s.queue})
	return nil
}

func (s *Subscriber) wrap(handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := handler(ctx, msg.Subject, msg.Data)
		if err != nil {
			s.logger.Warn("message rejected", map[string]interface{}{
				"subject": msg.Subject,
				"error":   err,
			})
		}
		if msg.Reply == "" {
			return
		}

		reply := Reply{Accepted: err == nil}
		if err != nil {
			reply.Error = err.Error()
		}
		data, _ := json.Marshal(reply)
		if respErr := msg.Respond(data); respErr != nil {
			s.logger.Warn("failed to reply", map[string]interface{}{"subject": msg.Subject, "error": respErr})
		}
	}
}

// Close drains every subscription.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", map[string]interface{}{"subject": sub.Subject, "error": err})
		}
	}
	s.subs = nil
}
