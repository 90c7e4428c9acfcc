package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClientClosed is returned by operations on a closed SlotClient.
var ErrClientClosed = errors.New("client closed")

// SlotSubscriber streams slot updates.
type SlotSubscriber interface {
	SubscribeSlots(ctx context.Context) (<-chan SlotNotification, error)
	Close() error
}

// SlotClientConfig tunes reconnects and deadlines. Reconnect delays double
// from ReconnectDelay up to MaxReconnectDelay.
type SlotClientConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration // wait for the subscription id
}

// DefaultSlotClientConfig suits a public Solana websocket endpoint.
func DefaultSlotClientConfig() SlotClientConfig {
	return SlotClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// SlotClient keeps slot subscriptions alive across reconnects.
type SlotClient struct {
	endpoint string
	config   SlotClientConfig
	logger   zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to channel. Slot streams are buffered and
	// drop on overflow: a consumer only needs the latest slot.
	subs   map[int64]chan SlotNotification
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// SlotClientOption configures a SlotClient.
type SlotClientOption func(*SlotClient)

// WithSlotLogger sets the logger.
func WithSlotLogger(l zerolog.Logger) SlotClientOption {
	return func(c *SlotClient) {
		c.logger = l
	}
}

// DialSlots connects to a Solana websocket endpoint. Subscriptions are
// made with SubscribeSlots.
func DialSlots(ctx context.Context, endpoint string, config *SlotClientConfig, opts ...SlotClientOption) (*SlotClient, error) {
	cfg := DefaultSlotClientConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 30 * time.Second
	}

	c := &SlotClient{
		endpoint:    endpoint,
		config:      cfg,
		logger:      zerolog.Nop(),
		subs:        make(map[int64]chan SlotNotification),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *SlotClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// SubscribeSlots subscribes to slot updates. The channel is closed when the
// client is closed.
func (c *SlotClient) SubscribeSlots(ctx context.Context) (<-chan SlotNotification, error) {
	subID, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan SlotNotification, 64)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()
	return ch, nil
}

// subscribe sends slotSubscribe and waits for the subscription id.
func (c *SlotClient) subscribe(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{JSONRPC: "2.0", ID: reqID, Method: "slotSubscribe"}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	forget := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return 0, errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		forget()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, ErrClientClosed
		}
		return subID, nil
	case <-timer.C:
		forget()
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		forget()
		return 0, ctx.Err()
	}
}

// Close ends every subscription and closes the connection. It is safe to
// call more than once.
func (c *SlotClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	return nil
}

// readLoop dispatches messages and triggers a reconnect on read errors,
// backing off while the connection stays down.
func (c *SlotClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("websocket read failed")

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect redials after delay and moves subscribers to new ids.
func (c *SlotClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("websocket reconnect failed")
		return
	}
	c.resubscribeAll()
}

// resubscribeAll moves every live channel to a fresh subscription id.
func (c *SlotClient) resubscribeAll() {
	c.subsMu.RLock()
	channels := make(map[int64]chan SlotNotification, len(c.subs))
	for id, ch := range c.subs {
		channels[id] = ch
	}
	c.subsMu.RUnlock()

	for oldSubID, ch := range channels {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := c.subscribe(ctx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Int64("subscription", oldSubID).Msg("resubscribe failed")
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldSubID)
		c.subs[newSubID] = ch
		c.subsMu.Unlock()
	}
}

// handleMessage routes subscribe confirmations and slot notifications.
func (c *SlotClient) handleMessage(message []byte) {
	var env struct {
		ID     *uint64         `json:"id"`
		Method string          `json:"method"`
		Result *int64          `json:"result"`
		Params json.RawMessage `json:"params"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug().Err(err).Msg("unparseable websocket message")
		return
	}

	switch {
	case env.Error != nil:
		// The pending subscription will time out.
		c.logger.Warn().Int("code", env.Error.Code).Str("msg", env.Error.Message).Msg("websocket error response")
	case env.ID != nil && env.Result != nil:
		c.handleSubscribeResponse(*env.ID, *env.Result)
	case env.Method == "slotNotification":
		var p wsNotificationParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			c.logger.Debug().Err(err).Msg("bad slot notification")
			return
		}
		c.handleSlotNotification(&p)
	}
}

func (c *SlotClient) handleSubscribeResponse(reqID uint64, subID int64) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- subID:
		default:
		}
	}
}

// handleSlotNotification dispatches a slot update to its subscriber.
func (c *SlotClient) handleSlotNotification(p *wsNotificationParams) {
	c.subsMu.RLock()
	ch, ok := c.subs[p.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case ch <- p.Result:
	default:
		c.logger.Debug().Int64("slot", p.Result.Slot).Msg("slot subscriber behind, dropping update")
	}
}

func (c *SlotClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64            `json:"subscription"`
	Result       SlotNotification `json:"result"`
}

var _ SlotSubscriber = (*SlotClient)(nil)
