package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iancoleman/orderedmap"
)

// Client talks to a running supervisor over its control socket.
type Client struct {
	socketPath string

	mu sync.Mutex
	// +checklocks:mu
	conn net.Conn
	// +checklocks:mu
	encoder *json.Encoder
	// +checklocks:mu
	decoder *json.Decoder

	// ioMu serializes request/response cycles.
	// Must be acquired AFTER mu if both are needed.
	ioMu sync.Mutex

	reqID atomic.Uint64

	// Event streaming via dedicated connection
	eventMu sync.Mutex
	// +checklocks:eventMu
	eventConn net.Conn
	// +checklocks:eventMu
	eventDone chan struct{}
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	return &Client{
		socketPath: socketPath,
	}
}

// ConnectTimeout is the default timeout for connecting to the supervisor.
const ConnectTimeout = 5 * time.Second

// RequestTimeout is the default timeout for request/response operations.
const RequestTimeout = 30 * time.Second

// Connect establishes a connection to the supervisor.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, ConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial supervisor: %w", err)
	}

	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

// Close closes the connection and any event stream.
func (c *Client) Close() error {
	c.StopEventStream()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.encoder = nil
	c.decoder = nil
	return err
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SocketPath returns the socket path this client connects to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.reqID.Add(1))
}

// Send sends a request and waits for the response.
// On connection errors, the connection is closed so that IsConnected()
// returns false.
func (c *Client) Send(req *Request) (*Response, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	encoder := c.encoder
	decoder := c.decoder
	c.mu.Unlock()

	if req.ID == "" {
		req.ID = c.nextID()
	}

	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := conn.SetDeadline(time.Now().Add(RequestTimeout)); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if err := encoder.Encode(req); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}

// closeConn closes the main connection and clears connection state.
// Caller must NOT hold c.mu.
func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.encoder = nil
		c.decoder = nil
	}
}

// call sends a payload-less request and checks the response.
func (c *Client) call(typ MessageType) (*Response, error) {
	resp, err := c.Send(&Request{Type: typ})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, newServerError(typ, resp)
	}
	return resp, nil
}

// Ping checks that the supervisor is alive.
func (c *Client) Ping() (*PingResponse, error) {
	resp, err := c.call(MsgPing)
	if err != nil {
		return nil, err
	}
	return decodePayload[PingResponse](resp.Payload)
}

// Restart asks the supervisor to restart its child.
func (c *Client) Restart() error {
	_, err := c.call(MsgRestart)
	return err
}

// Stop asks the supervisor to quit and exit.
func (c *Client) Stop() error {
	_, err := c.call(MsgStop)
	return err
}

// Status returns the supervisor's status fields in the order the server sent them.
func (c *Client) Status() (*orderedmap.OrderedMap, error) {
	resp, err := c.call(MsgStatus)
	if err != nil {
		return nil, err
	}
	fields := orderedmap.New()
	fields.SetEscapeHTML(false)
	if len(resp.Payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(resp.Payload, fields); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return fields, nil
}

// EventResult contains either a stream event or an error.
type EventResult struct {
	Event *StreamEvent
	Err   error
}

// StreamEvents opens a dedicated connection, attaches it, and delivers
// events on the returned channel until an error occurs or
// StopEventStream is called.
func (c *Client) StreamEvents() (<-chan EventResult, error) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	if c.eventConn != nil {
		c.eventConn.Close()
		if c.eventDone != nil {
			close(c.eventDone)
		}
	}

	conn, err := net.DialTimeout("unix", c.socketPath, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial supervisor for events: %w", err)
	}

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	if err := encoder.Encode(&Request{ID: "event-stream", Type: MsgAttach}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode attach request: %w", err)
	}

	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode attach response: %w", err)
	}
	if !resp.Success {
		conn.Close()
		return nil, newServerError(MsgAttach, &resp)
	}

	c.eventConn = conn
	c.eventDone = make(chan struct{})
	done := c.eventDone

	events := make(chan EventResult, 16)

	go func() {
		defer close(events)
		defer conn.Close()

		for {
			var event StreamEvent
			if err := decoder.Decode(&event); err != nil {
				select {
				case <-done:
				case events <- EventResult{Err: fmt.Errorf("decode event: %w", err)}:
				}
				return
			}

			select {
			case <-done:
				return
			case events <- EventResult{Event: &event}:
			}
		}
	}()

	return events, nil
}

// StopEventStream stops the event stream and closes its connection.
func (c *Client) StopEventStream() {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	if c.eventDone != nil {
		close(c.eventDone)
		c.eventDone = nil
	}
	if c.eventConn != nil {
		c.eventConn.Close()
		c.eventConn = nil
	}
}
