// ws.go implements WebSocket feeds for real-time market data.
//
// The exchange runs one connection per stream, so three kinds of feeds
// are managed here:
//
//   - Ticker feed (public): !ticker@arr, best bid/ask for every symbol,
//     delivered as a JSON array (or a single object) once per second.
//
//   - Depth feeds (public): <symbol>@depth5@1000ms, top-5 book levels for
//     symbols the current opportunity set needs. Started and stopped
//     dynamically as paths come and go.
//
//   - User feed (key-auth): account updates on a listen-key stream that
//     must be kept alive with a REST call every 30 minutes.
//
// Every feed auto-reconnects after a fixed 5s wait until its context is
// cancelled. A read deadline detects silent server failures; the server
// pings us, and the handler refreshes the deadline on each ping.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hydra/pkg/types"
)

const (
	// DefaultStreamBase is the published spot market stream endpoint.
	DefaultStreamBase = "wss://stream.binance.com:9443/ws/"

	reconnectWait      = 5 * time.Second
	wsReadTimeout      = 5 * time.Minute
	tickerBufferSize   = 16
	depthBufferSize    = 256
	userBufferSize     = 64
	listenKeyKeepAlive = 30 * time.Minute
)

// Streams manages the ticker, depth, and user-data WebSocket feeds and
// fans their parsed events into typed channels.
type Streams struct {
	base   string
	client *Client
	logger *slog.Logger

	tickerCh chan []types.WSTicker
	depthCh  chan types.WSDepthUpdate
	userCh   chan types.WSUserEvent

	mu        sync.Mutex
	depthSubs map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreams creates a stream manager over the default endpoint. The
// client is used for listen-key management on the user feed.
func NewStreams(client *Client, logger *slog.Logger) *Streams {
	return NewStreamsWithBase(DefaultStreamBase, client, logger)
}

// NewStreamsWithBase creates a stream manager over an explicit endpoint.
// Tests use this to point feeds at a local server.
func NewStreamsWithBase(base string, client *Client, logger *slog.Logger) *Streams {
	return &Streams{
		base:      base,
		client:    client,
		logger:    logger.With("component", "streams"),
		tickerCh:  make(chan []types.WSTicker, tickerBufferSize),
		depthCh:   make(chan types.WSDepthUpdate, depthBufferSize),
		userCh:    make(chan types.WSUserEvent, userBufferSize),
		depthSubs: make(map[string]context.CancelFunc),
	}
}

// Tickers returns the channel of ticker batches.
func (s *Streams) Tickers() <-chan []types.WSTicker { return s.tickerCh }

// Depth returns the shared channel of depth updates across all symbols.
func (s *Streams) Depth() <-chan types.WSDepthUpdate { return s.depthCh }

// UserEvents returns the channel of user-data events.
func (s *Streams) UserEvents() <-chan types.WSUserEvent { return s.userCh }

// Start launches the ticker and user feeds. Depth feeds are started on
// demand via SubscribeDepth.
func (s *Streams) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runStream(s.ctx, s.base+"!ticker@arr", s.handleTicker)
	}()
	go func() {
		defer s.wg.Done()
		s.runUser(s.ctx)
	}()
}

// Stop cancels every feed and waits for their goroutines to exit.
func (s *Streams) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SubscribeDepth starts a depth feed for a symbol. Idempotent; a symbol
// already subscribed is left alone.
func (s *Streams) SubscribeDepth(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.depthSubs[symbol]; ok {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.depthSubs[symbol] = cancel

	stream := s.base + strings.ToLower(symbol) + "@depth5@1000ms"
	sym := symbol
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runStream(ctx, stream, func(data []byte) {
			s.handleDepth(sym, data)
		})
	}()
	s.logger.Debug("depth stream subscribed", "symbol", symbol)
}

// UnsubscribeDepth stops a symbol's depth feed if it is running.
func (s *Streams) UnsubscribeDepth(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.depthSubs[symbol]; ok {
		cancel()
		delete(s.depthSubs, symbol)
		s.logger.Debug("depth stream unsubscribed", "symbol", symbol)
	}
}

// ActiveDepth returns the symbols with a running depth feed.
func (s *Streams) ActiveDepth() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[string]bool, len(s.depthSubs))
	for sym := range s.depthSubs {
		active[sym] = true
	}
	return active
}

// runStream dials url and pumps frames into handle, reconnecting after a
// fixed wait until ctx is cancelled.
func (s *Streams) runStream(ctx context.Context, url string, handle func([]byte)) {
	for {
		err := s.connectAndRead(ctx, url, handle)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("stream disconnected, reconnecting",
			"url", url, "error", err, "wait", reconnectWait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

func (s *Streams) connectAndRead(ctx context.Context, url string, handle func([]byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The server pings; answering refreshes the read deadline.
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	s.logger.Info("stream connected", "url", url)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		handle(msg)
	}
}

// runUser maintains the user-data stream: create a listen key, keep it
// alive every 30 minutes, and reconnect with a fresh key on failure.
func (s *Streams) runUser(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		key, err := s.client.CreateListenKey(ctx)
		if err != nil {
			s.logger.Warn("listen key creation failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectWait):
			}
			continue
		}

		streamCtx, cancel := context.WithCancel(ctx)
		go s.keepAliveLoop(streamCtx, key)

		err = s.connectAndRead(streamCtx, s.base+key, s.handleUser)
		cancel()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("user stream disconnected, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

func (s *Streams) keepAliveLoop(ctx context.Context, key string) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.KeepAliveListenKey(ctx, key); err != nil {
				s.logger.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}

func (s *Streams) handleTicker(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}

	var batch []types.WSTicker
	if trimmed[0] == '[' {
		if err := json.Unmarshal(data, &batch); err != nil {
			s.logger.Warn("malformed ticker array, skipping", "error", err)
			return
		}
	} else {
		// Subscription acks carry a "result" field; single tickers carry "s".
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			s.logger.Warn("malformed ticker frame, skipping", "error", err)
			return
		}
		if _, ok := probe["result"]; ok {
			s.logger.Debug("stream subscription acknowledged")
			return
		}
		var single types.WSTicker
		if err := json.Unmarshal(data, &single); err != nil || single.Symbol == "" {
			s.logger.Warn("unrecognized ticker frame, skipping")
			return
		}
		batch = []types.WSTicker{single}
	}

	if len(batch) == 0 {
		return
	}

	// Non-blocking send; a full channel drops the oldest batch since a
	// fresher one supersedes it.
	select {
	case s.tickerCh <- batch:
	default:
		select {
		case <-s.tickerCh:
		default:
		}
		select {
		case s.tickerCh <- batch:
		default:
		}
	}
}

func (s *Streams) handleDepth(symbol string, data []byte) {
	var upd types.WSDepthUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		s.logger.Warn("malformed depth frame, skipping", "symbol", symbol, "error", err)
		return
	}
	if upd.Symbol == "" {
		upd.Symbol = symbol
	}
	if len(upd.BidLevels()) == 0 && len(upd.AskLevels()) == 0 {
		return
	}

	select {
	case s.depthCh <- upd:
	default:
		s.logger.Warn("depth channel full, dropping update", "symbol", upd.Symbol)
	}
}

func (s *Streams) handleUser(data []byte) {
	var evt types.WSUserEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("malformed user event, skipping", "error", err)
		return
	}
	if evt.EventType == "" {
		return
	}

	select {
	case s.userCh <- evt:
	default:
		s.logger.Warn("user channel full, dropping event", "type", evt.EventType)
	}
}
