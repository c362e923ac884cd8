package queue

import (
	nats "github.com/nats-io/go-nats"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "queue")
}

// NATS is a connection to a NATS server that hands out plain byte
// channels for subjects.
type NATS struct {
	conn    *nats.Conn
	onClose []func()
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	logger := logger.WithField("url", url)
	logger.Debug("connecting to NATS")

	conn, err := nats.Connect(url, nats.ErrorHandler(logAsyncErr))
	if err != nil {
		logger.WithError(err).Debug("unable to connect to NATS")
		return nil, err
	}

	return &NATS{conn: conn}, nil
}

// logAsyncErr reports errors NATS can't return to a caller, most notably
// messages dropped because a receiver fell behind.
func logAsyncErr(conn *nats.Conn, sub *nats.Subscription, err error) {
	logger := logger.WithError(err)
	if sub != nil {
		logger = logger.WithField("subject", sub.Subject)
	}

	if err == nats.ErrSlowConsumer {
		logger.Error("receiver fell behind, dropping messages")
		return
	}

	logger.Error("asynchronous NATS error")
}

// SenderOn returns a channel whose messages are published on subj.
func (q *NATS) SenderOn(subj string) chan<- []byte {
	send := make(chan []byte)

	go func() {
		logger := logger.WithField("subject", subj)

		for msg := range send {
			if err := q.conn.Publish(subj, msg); err != nil {
				logger.WithError(err).Error("unable to publish message")
			}
		}
	}()

	return send
}

// ReceiverOn returns a channel with the payloads of the messages published
// on subj. The channel is closed by Close.
func (q *NATS) ReceiverOn(subj string) (<-chan []byte, error) {
	logger := logger.WithField("subject", subj)

	msgs := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanSubscribe(subj, msgs)
	if err != nil {
		logger.WithError(err).Debug("unable to subscribe")
		return nil, err
	}

	recv := make(chan []byte)
	go func() {
		defer close(recv)

		for msg := range msgs {
			recv <- msg.Data
		}
	}()

	q.onClose = append(q.onClose, func() {
		sub.Unsubscribe()
		close(msgs)
	})

	logger.Debug("subscribed")

	return recv, nil
}

// Close unsubscribes every receiver and closes the connection.
func (q *NATS) Close() {
	for _, fn := range q.onClose {
		fn()
	}

	q.conn.Close()
}
