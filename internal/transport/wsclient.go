package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when connecting a client that has been closed
var ErrClosed = errors.New("client closed")

// WSClient owns a single WebSocket connection to the publisher server.
// Frames are written by a dedicated writer so Send never blocks the caller.
// On connection loss it reports StatusOffline, reconnects and reports StatusOnline.
type WSClient struct {
	cfg    Config
	logger zerolog.Logger
	dialer websocket.Dialer

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	outgoing chan []byte
	incoming chan []byte
	status   chan Status

	msgCount    int64
	lastReadAt  time.Time
	readCountMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWSClient creates a new WebSocket client
func NewWSClient(cfg Config, logger zerolog.Logger) *WSClient {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		cfg:      cfg,
		logger:   logger.With().Str("component", "transport").Str("url", cfg.URL).Logger(),
		dialer:   websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		outgoing: make(chan []byte, cfg.QueueSize),
		incoming: make(chan []byte, cfg.QueueSize),
		status:   make(chan Status, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect establishes the WebSocket connection and starts the reader, writer and ping loops
func (c *WSClient) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	c.logger.Info().Msg("WebSocket connecting")
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setPongHandler(conn)
	c.logger.Info().Msg("WebSocket connected")
	c.emitStatus(StatusOnline)

	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.writeLoop()
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return nil
}

// Send queues a complete envelope for writing and returns how long the caller
// should wait for a reply. Frames are dropped when the queue is full.
func (c *WSClient) Send(data []byte) time.Duration {
	select {
	case c.outgoing <- data:
	default:
		c.logger.Warn().Int("len", len(data)).Msg("send queue full, dropping frame")
	}
	return c.cfg.ResponseTimeout
}

// Incoming returns received text frames
func (c *WSClient) Incoming() <-chan []byte {
	return c.incoming
}

// Status returns connection state changes
func (c *WSClient) Status() <-chan Status {
	return c.status
}

// Connected returns true if the WebSocket connection is established
func (c *WSClient) Connected() bool {
	c.connMu.RLock()
	ok := c.conn != nil
	c.connMu.RUnlock()
	return ok
}

// Close closes the connection and stops all loops
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.logger.Info().Msg("WebSocket closing")
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.wg.Wait()
		c.logger.Info().Msg("WebSocket disconnected")
	})
}

func (c *WSClient) setPongHandler(conn *websocket.Conn) {
	readTimeout := c.cfg.MessageTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
}

func (c *WSClient) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *WSClient) emitStatus(status Status) {
	select {
	case c.status <- status:
	case <-c.ctx.Done():
	}
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			conn := c.currentConn()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

func (c *WSClient) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.outgoing:
			conn := c.currentConn()
			if conn == nil {
				c.logger.Debug().Int("len", len(data)).Msg("not connected, dropping frame")
				continue
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				// the reader notices the broken connection and reconnects
				c.logger.Warn().Err(err).Msg("failed to write frame")
			}
		}
	}
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn := c.currentConn()
		if conn == nil {
			c.logger.Info().Msg("WebSocket reader stopped (no connection)")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.MessageTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
				return
			default:
			}

			c.readCountMu.Lock()
			lastRead := c.lastReadAt
			c.readCountMu.Unlock()
			c.logger.Warn().
				Err(err).
				Time("lastReadAt", lastRead).
				Msg("WebSocket connection lost, reconnecting")
			if c.reconnect() {
				continue
			}
			c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		c.readCountMu.Lock()
		c.msgCount++
		c.lastReadAt = time.Now()
		c.readCountMu.Unlock()

		select {
		case c.incoming <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

// drainOutgoing discards frames queued for the lost connection
func (c *WSClient) drainOutgoing() int {
	dropped := 0
	for {
		select {
		case <-c.outgoing:
			dropped++
		default:
			return dropped
		}
	}
}

func (c *WSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.logger.Info().Msg("WebSocket connection closed, starting reconnection loop")
	c.emitStatus(StatusOffline)

	interval := c.cfg.ReconnectInterval
	if interval < minReconnectInterval {
		interval = minReconnectInterval
	}
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Msg("WebSocket reconnection stopped (shutdown)")
			return false
		case <-time.After(interval):
		}

		c.logger.Info().Dur("interval", interval).Msg("WebSocket reconnection attempt")

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		if c.ctx.Err() != nil {
			conn.Close()
			return false
		}

		if dropped := c.drainOutgoing(); dropped > 0 {
			c.logger.Debug().Int("dropped", dropped).Msg("discarded frames queued before reconnect")
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.setPongHandler(conn)
		c.logger.Info().Msg("WebSocket reconnected successfully")
		c.emitStatus(StatusOnline)
		return true
	}
}
