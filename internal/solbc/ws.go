// internal/solbc/ws.go
package solbc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig controls WebSocket client timing.
type WSConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultWSConfig returns the timing used against public RPC nodes.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// AccountUpdate is one accountNotification: the account's new raw data.
type AccountUpdate struct {
	Data []byte
	Slot int64
}

// SignatureResult is one signatureNotification. Err is nil when the
// transaction succeeded.
type SignatureResult struct {
	Err  interface{}
	Slot int64
}

// ProgramAccountUpdate is one programNotification: a changed or new
// account owned by the watched program.
type ProgramAccountUpdate struct {
	Address string
	Data    []byte
	Slot    int64
}

// subSpec records how a subscription was made so it can be replayed
// after a reconnect. One-shot subscriptions (signatureSubscribe) are
// not replayed.
type subSpec struct {
	method string
	params []interface{}
}

// WSClient is a JSON-RPC subscription client for the ledger node's
// WebSocket endpoint.
type WSClient struct {
	endpoint string
	config   WSConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	subs   map[int64]chan json.RawMessage
	subsMu sync.RWMutex

	specs   map[int64]subSpec
	specsMu sync.Mutex

	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSClient connects to the endpoint and starts the read and ping
// loops.
func NewWSClient(ctx context.Context, endpoint string, logger *zap.Logger, config *WSConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("solbc-ws"),
		subs:        make(map[int64]chan json.RawMessage),
		specs:       make(map[int64]subSpec),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeAccount streams data changes of one account. The returned
// cancel func unsubscribes and closes the channel.
func (c *WSClient) SubscribeAccount(ctx context.Context, address string) (<-chan AccountUpdate, func(), error) {
	params := []interface{}{
		address,
		map[string]string{"commitment": "confirmed", "encoding": "base64"},
	}

	subID, raw, err := c.subscribe(ctx, "accountSubscribe", params, true)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan AccountUpdate, 64)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		for msg := range raw {
			update, ok := decodeAccountUpdate(msg)
			if !ok {
				c.logger.Debug("undecodable account notification",
					zap.String("address", address))
				continue
			}
			select {
			case out <- update:
			case <-c.done:
				return
			}
		}
	}()

	cancel := func() { c.unsubscribe(subID, "accountUnsubscribe") }
	return out, cancel, nil
}

// SubscribeProgram streams account changes for all accounts owned by
// one program, optionally narrowed to accounts of an exact data size.
func (c *WSClient) SubscribeProgram(ctx context.Context, programID string, dataSizes []uint64) (<-chan ProgramAccountUpdate, func(), error) {
	opts := map[string]interface{}{
		"commitment": "confirmed",
		"encoding":   "base64",
	}
	if len(dataSizes) > 0 {
		filters := make([]map[string]interface{}, 0, len(dataSizes))
		for _, size := range dataSizes {
			filters = append(filters, map[string]interface{}{"dataSize": size})
		}
		opts["filters"] = filters
	}
	params := []interface{}{programID, opts}

	subID, raw, err := c.subscribe(ctx, "programSubscribe", params, true)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan ProgramAccountUpdate, 256)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		for msg := range raw {
			update, ok := decodeProgramAccountUpdate(msg)
			if !ok {
				c.logger.Debug("undecodable program notification",
					zap.String("program", programID))
				continue
			}
			select {
			case out <- update:
			case <-c.done:
				return
			}
		}
	}()

	cancel := func() { c.unsubscribe(subID, "programUnsubscribe") }
	return out, cancel, nil
}

// SubscribeSignature streams status notifications for one signature.
// The node fires at most one notification and then drops the
// subscription, so it is not replayed on reconnect.
func (c *WSClient) SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureResult, func(), error) {
	params := []interface{}{
		signature,
		map[string]string{"commitment": "confirmed"},
	}

	subID, raw, err := c.subscribe(ctx, "signatureSubscribe", params, false)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan SignatureResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		for msg := range raw {
			result, ok := decodeSignatureResult(msg)
			if !ok {
				continue
			}
			select {
			case out <- result:
			case <-c.done:
			}
			return
		}
	}()

	cancel := func() { c.unsubscribe(subID, "signatureUnsubscribe") }
	return out, cancel, nil
}

// subscribe issues the request, waits for the subscription ID and
// registers the notification channel.
func (c *WSClient) subscribe(ctx context.Context, method string, params []interface{}, replay bool) (int64, chan json.RawMessage, error) {
	if c.closed.Load() {
		return 0, nil, fmt.Errorf("client closed")
	}

	subID, err := c.request(ctx, method, params)
	if err != nil {
		return 0, nil, err
	}

	ch := make(chan json.RawMessage, 256)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()

	if replay {
		c.specsMu.Lock()
		c.specs[subID] = subSpec{method: method, params: params}
		c.specsMu.Unlock()
	}

	return subID, ch, nil
}

// request sends one subscribe request and waits for its confirmation.
func (c *WSClient) request(ctx context.Context, method string, params []interface{}) (int64, error) {
	reqID := c.requestID.Add(1)

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return 0, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID := <-confirmCh:
		return subID, nil
	case <-time.After(30 * time.Second):
		dropPending()
		return 0, fmt.Errorf("subscription timeout")
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

func (c *WSClient) unsubscribe(subID int64, method string) {
	c.subsMu.Lock()
	ch, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
		close(ch)
	}
	c.subsMu.Unlock()

	c.specsMu.Lock()
	delete(c.specs, subID)
	c.specsMu.Unlock()

	if !ok || c.closed.Load() {
		return
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  []interface{}{subID},
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		_ = c.conn.WriteJSON(req)
	}
	c.connMu.Unlock()
}

// Close shuts the connection down and closes all subscription channels.
func (c *WSClient) Close() error {
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

	c.wg.Wait()
	return nil
}

func (c *WSClient) readLoop() {
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

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

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

func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

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
		c.logger.Warn("reconnect failed", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

// resubscribeAll replays stored subscription specs on the fresh
// connection and remaps notification channels to the new IDs.
func (c *WSClient) resubscribeAll() {
	c.specsMu.Lock()
	specs := make(map[int64]subSpec, len(c.specs))
	for id, spec := range c.specs {
		specs[id] = spec
	}
	c.specsMu.Unlock()

	for oldID, spec := range specs {
		c.subsMu.RLock()
		ch := c.subs[oldID]
		c.subsMu.RUnlock()
		if ch == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.request(ctx, spec.method, spec.params)
		cancel()
		if err != nil {
			c.logger.Warn("resubscribe failed",
				zap.String("method", spec.method),
				zap.Error(err))
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldID)
		c.subs[newID] = ch
		c.subsMu.Unlock()

		c.specsMu.Lock()
		delete(c.specs, oldID)
		c.specs[newID] = spec
		c.specsMu.Unlock()
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.pendingSubsMu.Lock()
		ch, ok := c.pendingSubs[resp.ID]
		if ok {
			delete(c.pendingSubs, resp.ID)
		}
		c.pendingSubsMu.Unlock()
		if ok {
			select {
			case ch <- resp.Result:
			default:
			}
		}
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Params != nil {
		c.subsMu.RLock()
		ch, ok := c.subs[notif.Params.Subscription]
		c.subsMu.RUnlock()
		if ok {
			select {
			case ch <- notif.Params.Result:
			case <-c.done:
			}
		}
		return
	}

	var errResp struct {
		ID    uint64 `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.logger.Warn("ws error response",
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))
	}
}

func (c *WSClient) pingLoop() {
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
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

func decodeAccountUpdate(raw json.RawMessage) (AccountUpdate, bool) {
	var body struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Value.Data) == 0 {
		return AccountUpdate{}, false
	}
	data, err := base64.StdEncoding.DecodeString(body.Value.Data[0])
	if err != nil {
		return AccountUpdate{}, false
	}
	return AccountUpdate{Data: data, Slot: body.Context.Slot}, true
}

func decodeProgramAccountUpdate(raw json.RawMessage) (ProgramAccountUpdate, bool) {
	var body struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data []string `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Value.Account.Data) == 0 {
		return ProgramAccountUpdate{}, false
	}
	data, err := base64.StdEncoding.DecodeString(body.Value.Account.Data[0])
	if err != nil {
		return ProgramAccountUpdate{}, false
	}
	return ProgramAccountUpdate{
		Address: body.Value.Pubkey,
		Data:    data,
		Slot:    body.Context.Slot,
	}, true
}

func decodeSignatureResult(raw json.RawMessage) (SignatureResult, bool) {
	var body struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Err interface{} `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return SignatureResult{}, false
	}
	return SignatureResult{Err: body.Value.Err, Slot: body.Context.Slot}, true
}

// JSON-RPC message frames.

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
