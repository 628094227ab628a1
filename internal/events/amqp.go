package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Exchange carries the mirrored event stream; routing key is the room.
const Exchange = "broadcast.events"

// mirrorBuffer bounds the outbound queue; a slow or dead broker costs
// drops, never a blocked publisher.
const mirrorBuffer = 256

// redialCooldown spaces reconnect attempts so a dead broker is not
// re-dialed on every envelope.
const redialCooldown = 5 * time.Second

// envelope is the wire form of a mirrored event.
type envelope struct {
	ID      string `json:"id"`
	Room    string `json:"room"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	SentAt  int64  `json:"sent_at"`
}

type outbound struct {
	room string
	body []byte
}

// AMQPPublisher mirrors room events to RabbitMQ so external dashboard
// consumers can follow along. Publish only enqueues: a single background
// goroutine owns the connection and drains the queue, so a stalled or
// unreachable broker never blocks the caller. Best-effort throughout;
// when the queue is full or the broker is down, envelopes are dropped.
type AMQPPublisher struct {
	url  string
	out  chan outbound
	quit chan struct{}
	once sync.Once
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	p := &AMQPPublisher{
		url:  url,
		out:  make(chan outbound, mirrorBuffer),
		quit: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AMQPPublisher) Publish(room, event string, payload any) {
	body, err := json.Marshal(envelope{
		ID:      uuid.NewString(),
		Room:    room,
		Event:   event,
		Payload: payload,
		SentAt:  Now(),
	})
	if err != nil {
		log.Println("⚠️ event mirror: marshal failed:", err)
		return
	}

	select {
	case p.out <- outbound{room: room, body: body}:
	default:
		// mirror backlog full, drop
	}
}

// run drains the outbound queue. It owns the broker connection end to
// end: dialing, publishing and teardown all happen on this goroutine.
func (p *AMQPPublisher) run() {
	var conn *amqp.Connection
	var ch *amqp.Channel
	var nextDial time.Time

	teardown := func() {
		if ch != nil {
			ch.Close()
			ch = nil
		}
		if conn != nil {
			conn.Close()
			conn = nil
		}
	}
	defer teardown()

	for {
		select {
		case <-p.quit:
			return
		case m := <-p.out:
			if ch == nil {
				if time.Now().Before(nextDial) {
					continue // broker recently down, drop
				}
				var err error
				conn, ch, err = dialMirror(p.url)
				if err != nil {
					log.Println("⚠️ event mirror: AMQP connect failed:", err)
					nextDial = time.Now().Add(redialCooldown)
					continue
				}
			}
			err := ch.Publish(Exchange, m.room, false, false, amqp.Publishing{
				ContentType: "application/json",
				Body:        m.body,
			})
			if err != nil {
				log.Println("⚠️ event mirror: publish failed:", err)
				teardown()
				nextDial = time.Now().Add(redialCooldown)
			}
		}
	}
}

func dialMirror(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Close stops the drain goroutine. Safe to call more than once.
func (p *AMQPPublisher) Close() {
	p.once.Do(func() { close(p.quit) })
}

var _ Publisher = (*AMQPPublisher)(nil)
