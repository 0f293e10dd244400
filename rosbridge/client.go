package rosbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Client speaks the rosbridge v2 JSON protocol over a websocket. One
// client multiplexes every topic and service the node uses; incoming
// publishes are dispatched to per-topic handlers on the read loop
// goroutine.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	pending  map[string]chan serviceResponse
	nextID   int
	closed   bool
}

type envelope struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	Service string          `json:"service,omitempty"`
	Latch   bool            `json:"latch,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Result  *bool           `json:"result,omitempty"`
}

type serviceResponse struct {
	values json.RawMessage
	ok     bool
}

// ServiceTimeout bounds how long a service call waits for the bridge.
const ServiceTimeout = 5 * time.Second

func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:     conn,
		handlers: map[string]func(json.RawMessage){},
		pending:  map[string]chan serviceResponse{},
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			if !closed {
				log.WithError(err).Error("rosbridge connection lost")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.WithError(err).Warn("rosbridge: bad frame")
			continue
		}

		switch env.Op {
		case "publish":
			c.mu.Lock()
			handler := c.handlers[env.Topic]
			c.mu.Unlock()
			if handler != nil {
				handler(env.Msg)
			}
		case "service_response":
			c.mu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ch != nil {
				ok := env.Result == nil || *env.Result
				ch <- serviceResponse{values: env.Values, ok: ok}
			}
		}
	}
}

func (c *Client) send(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// Advertise registers a publication. Latched topics replay the last
// message to new subscribers, which the state topic relies on.
func (c *Client) Advertise(topic, msgType string, latch bool) error {
	return c.send(envelope{Op: "advertise", Topic: topic, Type: msgType, Latch: latch})
}

func (c *Client) Publish(topic string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.send(envelope{Op: "publish", Topic: topic, Msg: raw})
}

// Subscribe routes incoming messages on topic to handler. The handler
// runs on the read loop goroutine and must hand off quickly.
func (c *Client) Subscribe(topic, msgType string, handler func(json.RawMessage)) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return c.send(envelope{Op: "subscribe", Topic: topic, Type: msgType})
}

// CallService performs a synchronous service call. A nil result
// discards the response values.
func (c *Client) CallService(service string, args, result interface{}) error {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("call:%s:%d", service, c.nextID)
	ch := make(chan serviceResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	env := envelope{Op: "call_service", ID: id, Service: service}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return err
		}
		env.Args = raw
	}
	if err := c.send(env); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp, open := <-ch:
		if !open {
			return errors.New("rosbridge: connection closed")
		}
		if !resp.ok {
			return fmt.Errorf("service %s failed", service)
		}
		if result != nil && len(resp.values) > 0 {
			return json.Unmarshal(resp.values, result)
		}
		return nil
	case <-time.After(ServiceTimeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("service %s timed out", service)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
