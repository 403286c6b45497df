package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/config"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/logging"
)

// FrameType identifies a WebSocket frame.
type FrameType string

// Frame types. Clients send subscribe, unsubscribe and ping; the server
// sends the rest.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
	FrameEvent       FrameType = "event"
	FrameAck         FrameType = "ack"
	FrameError       FrameType = "error"
)

// ChannelAll receives every lifecycle event. Any other channel name must be
// an event kind such as "device_loaded".
const ChannelAll = "*"

const (
	subscriberBuffer = 256
	defaultPing      = 30 * time.Second
	defaultWriteWait = 10 * time.Second
)

// Frame is the envelope for every message in either direction. Data holds
// the event for event frames and SubscribeData for subscription requests.
type Frame struct {
	Type FrameType       `json:"type"`
	ID   string          `json:"id,omitempty"`
	Kind string          `json:"kind,omitempty"`
	At   time.Time       `json:"at,omitzero"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribeData is the Data of subscribe and unsubscribe frames.
type SubscribeData struct {
	Channels []string `json:"channels"`
}

// Hub fans lifecycle events out to WebSocket subscribers. It is an
// event.Sink; a subscriber whose buffer is full misses the event.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels map[string]bool
	closed   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Run waits for ctx and then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.shutdown()
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

// Name implements event.Sink.
func (h *Hub) Name() string { return "websocket" }

// Write implements event.Sink. It never fails.
func (h *Hub) Write(_ context.Context, e event.Event) error {
	h.Broadcast(string(e.Kind), e)
	return nil
}

// Broadcast sends payload as an event frame on channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("websocket payload not encodable", "channel", channel, "error", err)
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameEvent, Kind: channel, At: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("websocket frame not encodable", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.wants(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, s := range targets {
		if !s.deliver(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket subscribers missed event", "channel", channel, "dropped", dropped)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("websocket subscriber connected", "clients", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	s.shutdown()
	h.logger.Debug("websocket subscriber disconnected", "clients", n)
}

func newSubscriber(h *Hub, conn *websocket.Conn, channels ...string) *subscriber {
	s := &subscriber{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, subscriberBuffer),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		s.channels[ch] = true
	}
	return s
}

// deliver queues frame without blocking. It reports false when the frame
// was dropped.
func (s *subscriber) deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue once.
func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[ChannelAll] || s.channels[channel]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(s.hub, conn)
	s.hub.add(sub)

	go sub.transmit()
	go sub.receive()
}

// receive reads client frames until the connection fails or goes quiet for
// longer than ping_interval plus pong_timeout.
func (s *subscriber) receive() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	cfg := s.hub.cfg
	if cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }
	if idle > 0 {
		_ = extend("")
		s.conn.SetPongHandler(extend)
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if idle > 0 {
			_ = extend("")
		}
		s.dispatch(raw)
	}
}

// transmit drains the outbound queue and keeps the peer alive with pings.
func (s *subscriber) transmit() {
	cfg := s.hub.cfg
	every := time.Duration(cfg.PingInterval) * time.Second
	if every <= 0 {
		every = defaultPing
	}
	wait := time.Duration(cfg.PongTimeout) * time.Second
	if wait <= 0 {
		wait = defaultWriteWait
	}

	pinger := time.NewTicker(every)
	defer func() {
		pinger.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wait))
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-s.out:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-pinger.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (s *subscriber) dispatch(raw []byte) {
	var in Frame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.reply(Frame{Type: FrameError}, "malformed frame")
		return
	}

	switch in.Type {
	case FrameSubscribe, FrameUnsubscribe:
		s.subscribe(in)
	case FramePing:
		s.reply(Frame{Type: FramePong, ID: in.ID}, nil)
	default:
		s.reply(Frame{Type: FrameError, ID: in.ID}, "unsupported frame type "+string(in.Type))
	}
}

// subscribe applies a subscribe or unsubscribe frame. The whole request is
// rejected if any channel is unknown.
func (s *subscriber) subscribe(in Frame) {
	var req SubscribeData
	if err := json.Unmarshal(in.Data, &req); err != nil || len(req.Channels) == 0 {
		s.reply(Frame{Type: FrameError, ID: in.ID}, "channels required")
		return
	}
	for _, ch := range req.Channels {
		if !knownChannel(ch) {
			s.reply(Frame{Type: FrameError, ID: in.ID}, "unknown channel "+ch)
			return
		}
	}

	s.mu.Lock()
	for _, ch := range req.Channels {
		if in.Type == FrameSubscribe {
			s.channels[ch] = true
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()

	s.hub.logger.Debug("websocket subscription updated", "op", in.Type, "channels", req.Channels)
	s.reply(Frame{Type: FrameAck, ID: in.ID}, req)
}

func knownChannel(ch string) bool {
	if ch == ChannelAll {
		return true
	}
	for _, k := range event.AllKinds() {
		if string(k) == ch {
			return true
		}
	}
	return false
}

// reply queues f with data encoded as its Data. A string data is sent as
// {"message": data}.
func (s *subscriber) reply(f Frame, data any) {
	if msg, ok := data.(string); ok {
		data = map[string]string{"message": msg}
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		f.Data = raw
	}
	f.At = time.Now().UTC()
	frame, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.deliver(frame)
}
