package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// WebSocketEndpoint is the path monitor clients connect to.
	WebSocketEndpoint = "/tick-events"
	// HealthEndpoint reports observer status for probes.
	HealthEndpoint = "/healthz"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ObserverConfig configures the monitor endpoint.
type ObserverConfig struct {
	BindAddr string
	Port     int
	// Buffer is the per-client event buffer; a client that falls further
	// behind than this misses events.
	Buffer int
}

// DefaultObserverConfig binds to localhost on the conventional Groot2 port.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{BindAddr: "127.0.0.1", Port: 1667, Buffer: DefaultSubscriberBuffer}
}

// Observer is the hosted-only monitor endpoint: a WebSocket server that
// streams the bus's tick events to external Groot2-style clients as JSON.
// Each client gets its own bus subscription, so one slow client never
// affects another.
type Observer struct {
	bus    *Bus
	config ObserverConfig
	log    zerolog.Logger

	mu      sync.Mutex
	server  *http.Server
	done    chan struct{}
	clients int

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewObserver creates an observer over b. Start must be called before any
// client can connect.
func NewObserver(b *Bus, config ObserverConfig) *Observer {
	if config.Buffer <= 0 {
		config.Buffer = DefaultSubscriberBuffer
	}
	return &Observer{
		bus:    b,
		config: config,
		log:    log.With().Str("component", "observer").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The monitor is a local development endpoint.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start listens on the configured address and serves in the background.
func (o *Observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.server != nil {
		return fmt.Errorf("observer already running")
	}

	addr := net.JoinHostPort(o.config.BindAddr, fmt.Sprintf("%d", o.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observer listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketEndpoint, o.handleWebSocket)
	mux.HandleFunc(HealthEndpoint, o.handleHealth)
	o.server = &http.Server{Handler: mux}
	o.done = make(chan struct{})

	server := o.server
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.log.Error().Err(err).Msg("observer server stopped")
		}
	}()

	o.log.Info().Str("addr", addr).Msg("monitor listening")
	return nil
}

// Stop shuts the server down and waits for client goroutines to drain.
// Closing done ends every write loop, which closes its connection and in
// turn unblocks the paired read loop; their bus subscriptions are torn
// down on the way out.
func (o *Observer) Stop() error {
	o.mu.Lock()
	server := o.server
	done := o.done
	o.server = nil
	o.mu.Unlock()
	if server == nil {
		return nil
	}

	close(done)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)
	o.wg.Wait()
	return err
}

// ClientCount reports how many monitor clients are connected.
func (o *Observer) ClientCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clients
}

func (o *Observer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	subID, events := o.bus.Subscribe(o.config.Buffer)
	o.mu.Lock()
	done := o.done
	o.clients++
	o.mu.Unlock()
	o.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("monitor client connected")

	o.wg.Add(2)
	go o.writeLoop(conn, events, subID, done)
	go o.readLoop(conn)
}

// writeLoop streams bus events to one client as JSON text frames, with
// periodic pings to detect dead peers.
func (o *Observer) writeLoop(conn *websocket.Conn, events <-chan Event, subID int, done <-chan struct{}) {
	defer o.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.bus.Unsubscribe(subID)
		conn.Close()
		o.mu.Lock()
		o.clients--
		o.mu.Unlock()
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bus closed"),
					time.Now().Add(writeWait))
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				o.log.Error().Err(err).Msg("failed to encode event")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "observer stopping"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop drains the client connection; the feed is one-way, so inbound
// frames are discarded and only pongs and closes matter.
func (o *Observer) readLoop(conn *websocket.Conn) {
	defer o.wg.Done()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func (o *Observer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	o.mu.Lock()
	status := map[string]any{
		"status":  "ok",
		"clients": o.clients,
	}
	o.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
