package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

var ErrNotOpen = errors.New("channel not open")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler receives channel events. Calls are made outside the channel's
// lock and, for a given connection, from a single goroutine.
type Handler interface {
	OnOpen(clientID string)
	OnMessage(data []byte)
	// OnClose reports a lost connection. terminal is true when no retry
	// will follow.
	OnClose(code int, terminal bool)
	OnReconnecting(attempt int, delay time.Duration)
	// OnGiveUp follows a terminal OnClose once retries are exhausted.
	OnGiveUp()
	OnError(err error)
}

// Funcs adapts plain functions to Handler. Nil fields are skipped.
type Funcs struct {
	Open         func(clientID string)
	Message      func(data []byte)
	Closed       func(code int, terminal bool)
	Reconnecting func(attempt int, delay time.Duration)
	GiveUp       func()
	Error        func(err error)
}

func (f Funcs) OnOpen(clientID string) {
	if f.Open != nil {
		f.Open(clientID)
	}
}

func (f Funcs) OnMessage(data []byte) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f Funcs) OnClose(code int, terminal bool) {
	if f.Closed != nil {
		f.Closed(code, terminal)
	}
}

func (f Funcs) OnReconnecting(attempt int, delay time.Duration) {
	if f.Reconnecting != nil {
		f.Reconnecting(attempt, delay)
	}
}

func (f Funcs) OnGiveUp() {
	if f.GiveUp != nil {
		f.GiveUp()
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type Config struct {
	Name     string
	Endpoint string
	APIKey   string
	AgentID  string
	Backoff  Backoff
}

// URL builds {endpoint}/{clientId}/{apiKey}/{agentId}.
func (c Config) URL(clientID string) string {
	return strings.TrimRight(c.Endpoint, "/") + "/" +
		url.PathEscape(clientID) + "/" +
		url.PathEscape(c.APIKey) + "/" +
		url.PathEscape(c.AgentID)
}

// Channel is a socket that reconnects itself with bounded exponential
// backoff until closed explicitly or rejected with a terminal code.
type Channel struct {
	cfg     Config
	dialer  Dialer
	clock   clock.Clock
	handler Handler
	log     *Logger.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	conn     Conn
	clientID string
	attempts int
	timer    clock.Timer
	cancel   context.CancelFunc

	writeMu sync.Mutex
}

func New(cfg Config, dialer Dialer, clk clock.Clock, handler Handler, logger *Logger.Logger) *Channel {
	if clk == nil {
		clk = clock.System()
	}
	if handler == nil {
		handler = Funcs{}
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	name := cfg.Name
	if name == "" {
		name = "channel"
	}
	return &Channel{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clk,
		handler: handler,
		log:     logger.Named(name),
		state:   StateIdle,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsOpen() bool {
	return c.State() == StateOpen
}

// ClientID is the identifier used by the latest connection attempt.
func (c *Channel) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Attempts is the number of retries scheduled since the last open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect starts a connection attempt. It is a no-op while connecting or open.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.startLocked()
	c.mu.Unlock()
}

func (c *Channel) startLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting
	c.clientID = uuid.NewString()
	target := c.cfg.URL(c.clientID)
	clientID := c.clientID

	c.log.Debugf("dialing attempt=%d client=%s", c.attempts, clientID)
	go c.run(ctx, gen, target, clientID)
}

func (c *Channel) run(ctx context.Context, gen uint64, target, clientID string) {
	conn, err := c.dialer.Dial(ctx, target)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warnf("dial failed: %v", err)
		c.handler.OnError(err)
		c.lost(gen, CloseAbnormal)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.log.Infof("connected client=%s", clientID)
	c.handler.OnOpen(clientID)
	c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !c.current(gen) {
				return
			}
			code := CloseAbnormal
			var ce *CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			} else {
				c.log.Warnf("read failed: %v", err)
				c.handler.OnError(err)
			}
			c.lost(gen, code)
			return
		}
		if !c.current(gen) {
			return
		}
		c.handler.OnMessage(data)
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// lost applies the close policy for the connection of generation gen.
func (c *Channel) lost(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateClosed

	if IsTerminal(code) {
		c.mu.Unlock()
		c.closeConn(conn, code)
		c.log.Infof("closed code=%d, not retrying", code)
		c.handler.OnClose(code, true)
		return
	}

	if c.attempts >= c.cfg.Backoff.MaxAttempts {
		c.mu.Unlock()
		c.closeConn(conn, code)
		c.log.Errorf("giving up after %d attempts", c.cfg.Backoff.MaxAttempts)
		c.handler.OnClose(code, true)
		c.handler.OnGiveUp()
		return
	}

	delay := c.cfg.Backoff.Delay(c.attempts)
	c.attempts++
	attempt := c.attempts
	c.timer = c.clock.AfterFunc(delay, func() { c.retry(gen) })
	c.mu.Unlock()

	c.closeConn(conn, code)
	c.log.Infof("closed code=%d, retry %d in %s", code, attempt, delay)
	c.handler.OnClose(code, false)
	c.handler.OnReconnecting(attempt, delay)
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateClosed {
		return
	}
	c.timer = nil
	c.startLocked()
}

func (c *Channel) closeConn(conn Conn, code int) {
	if conn == nil {
		return
	}
	if code == CloseAbnormal {
		code = CloseNormal
	}
	_ = conn.Close(code, "")
}

// Send writes one frame. Writes are serialized.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// Close tears the channel down with a normal closure, cancelling any pending
// reconnect. Events from the old connection are dropped afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		err = conn.Close(CloseNormal, "client closing")
		c.writeMu.Unlock()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return err
}
