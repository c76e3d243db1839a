package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sparkforge/sparkgate/internal/bus"
	"github.com/sparkforge/sparkgate/internal/config"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

type wsMessage struct {
	Type    string `json:"type"` // "message", "notice", or "hello"
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIHooks lets the gateway expose session operations on the demo's JSON
// endpoints without the channel importing gateway internals.
type WebUIHooks struct {
	Status func(sessionKey string) (any, error)
	Reset  func(sessionKey string)
	Switch func(sessionKey, sparkID string) error
}

// WebUIChannel serves the embedded chat page, a websocket per browser tab,
// and the demo control endpoints (/api/status, /api/reset, /api/spark).
type WebUIChannel struct {
	BaseChannel
	host    string
	port    int
	hooks   WebUIHooks
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, hooks WebUIHooks) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		host:        gwCfg.Host,
		port:        port,
		hooks:       hooks,
	}
	return ch, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("/api/status", w.handleStatus)
	mux.HandleFunc("/api/reset", w.handleReset)
	mux.HandleFunc("/api/spark", w.handleSpark)

	w.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", w.host, w.port),
		Handler: mux,
	}

	go func() {
		log.Printf("[webui] listening on %s", w.server.Addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webui] server error: %v", err)
		}
	}()

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	log.Printf("[webui] client connected: %s", clientID)

	// Tell the page its client ID so the control endpoints can address
	// this session.
	if hello, err := json.Marshal(wsMessage{Type: "hello", Content: clientID}); err == nil {
		_ = conn.Write(r.Context(), websocket.MessageText, hello)
	}

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Type != "message" || msg.Content == "" {
			continue
		}

		if !w.IsAllowed(clientID) {
			log.Printf("[webui] rejected message from %s", clientID)
			continue
		}

		w.bus.Inbound <- bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  clientID,
			ChatID:    clientID,
			Content:   msg.Content,
			Timestamp: time.Now(),
		}
	}
}

// sessionKey recovers the bus session key for a browser client.
func sessionKey(clientID string) string {
	return webUIChannelName + ":" + clientID
}

func (w *WebUIChannel) handleStatus(wr http.ResponseWriter, r *http.Request) {
	if w.hooks.Status == nil {
		http.Error(wr, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	status, err := w.hooks.Status(sessionKey(r.URL.Query().Get("client")))
	if err != nil {
		http.Error(wr, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(wr, status)
}

func (w *WebUIChannel) handleReset(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Client string `json:"client"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Client == "" {
		http.Error(wr, "client required", http.StatusBadRequest)
		return
	}
	if w.hooks.Reset != nil {
		w.hooks.Reset(sessionKey(req.Client))
	}
	writeJSON(wr, map[string]bool{"success": true})
}

func (w *WebUIChannel) handleSpark(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Client string `json:"client"`
		Spark  string `json:"spark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Client == "" || req.Spark == "" {
		http.Error(wr, "client and spark required", http.StatusBadRequest)
		return
	}
	if w.hooks.Switch == nil {
		http.Error(wr, "switch unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := w.hooks.Switch(sessionKey(req.Client), req.Spark); err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(wr, map[string]string{"current_spark": req.Spark})
}

func writeJSON(wr http.ResponseWriter, v any) {
	wr.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		log.Printf("[webui] encode response error: %v", err)
	}
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	kind := "message"
	if msg.Kind == bus.KindNotice {
		kind = "notice"
	}
	data, err := json.Marshal(wsMessage{
		Type:    kind,
		Content: msg.Content,
	})
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast when no specific target remains connected.
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
