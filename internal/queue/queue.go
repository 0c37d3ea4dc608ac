// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package queue sits between the scheduler's Drive phase, which produces
// finished verdicts, and its Flush phase, which POSTs them to the
// coordinator. The default implementation is an in-process buffered
// channel; an AMQP-backed implementation keeps verdicts in a durable
// broker queue. With either one, the scheduler's own Flush phase drains
// the queue and pushes the batch within the same tick.
package queue

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/codepr/debussy/internal/model"
)

func encodeVerdict(v model.Verdict) ([]byte, error) {
	return json.Marshal(v)
}

func decodeVerdict(b []byte) (model.Verdict, error) {
	var v model.Verdict
	err := json.Unmarshal(b, &v)
	return v, err
}

// VerdictQueue decouples verdict production from verdict delivery.
type VerdictQueue interface {
	// Enqueue hands off a single finished verdict. It must not block
	// the caller indefinitely; a full queue is a configuration error.
	Enqueue(v model.Verdict) error

	// Drain returns and removes every verdict currently queued, up to
	// max (0 means unbounded). It never blocks waiting for more.
	Drain(max int) []model.Verdict

	// Close releases any underlying connection.
	Close() error
}

// MemoryQueue is the default VerdictQueue: an in-process buffered
// channel, adequate for a single daemon instance flushing its own
// backlog.
type MemoryQueue struct {
	ch chan model.Verdict
}

// NewMemoryQueue builds a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan model.Verdict, capacity)}
}

func (q *MemoryQueue) Enqueue(v model.Verdict) error {
	select {
	case q.ch <- v:
		return nil
	default:
		return errors.New("memory verdict queue full")
	}
}

func (q *MemoryQueue) Drain(max int) []model.Verdict {
	var out []model.Verdict
	for max <= 0 || len(out) < max {
		select {
		case v := <-q.ch:
			out = append(out, v)
		default:
			return out
		}
	}
	return out
}

func (q *MemoryQueue) Close() error {
	close(q.ch)
	return nil
}

// AMQPQueue publishes verdicts to a durable AMQP queue, generalized from
// the teacher's producer/consumer pair over the same library: Enqueue
// publishes, Drain consumes without blocking.
type AMQPQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
}

// NewAMQPQueue dials url and declares a durable queue named name.
func NewAMQPQueue(url, name string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dialing amqp broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "opening amqp channel")
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declaring amqp queue")
	}
	return &AMQPQueue{conn: conn, channel: ch, name: name}, nil
}

func (q *AMQPQueue) Enqueue(v model.Verdict) error {
	payload, err := encodeVerdict(v)
	if err != nil {
		return errors.Wrap(err, "encoding verdict")
	}
	err = q.channel.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return errors.Wrap(err, "publishing verdict")
	}
	return nil
}

// Drain consumes up to max pending deliveries without blocking on an
// empty queue. Each delivery is acknowledged as it is read.
func (q *AMQPQueue) Drain(max int) []model.Verdict {
	var out []model.Verdict
	for max <= 0 || len(out) < max {
		msg, ok, err := q.channel.Get(q.name, false)
		if err != nil || !ok {
			return out
		}
		v, err := decodeVerdict(msg.Body)
		if err != nil {
			msg.Nack(false, false)
			continue
		}
		msg.Ack(false)
		out = append(out, v)
	}
	return out
}

func (q *AMQPQueue) Close() error {
	q.channel.Close()
	return q.conn.Close()
}
