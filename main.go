// gearbridged bridges a Samsung Gear VR controller to the desktop: BLE
// scan/connect, 60Hz frame decode, Madgwick fusion, mode arbitration, and
// input injection, supervised end to end by the session package and
// exposed to a GUI over a small HTTP/WebSocket surface.
//
// Responsibilities:
//   - BLE: discover and hold one Gear VR controller connection
//   - Fusion + mapping: turn raw frames into mouse/keyboard input
//   - RPC: POST /rpc/<verb> command surface for the GUI
//   - Events: WebSocket broadcast of the session event stream

package main

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gearbridge/ble"
	"gearbridge/config"
	"gearbridge/input"
	"gearbridge/mapper"
	"gearbridge/session"
)

const (
	httpPort = ":8642"
	wsGUID   = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

// ─── WebSocket Hub ────────────────────────────────────────────────────────────

type wsClient struct {
	conn net.Conn
	send chan []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, exists := h.clients[c]
	if exists {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) Broadcast(payload []byte) {
	frame := makeWsTextFrame(payload)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow client — drop frame
		}
	}
}

func makeWsTextFrame(payload []byte) []byte {
	length := len(payload)
	var header []byte
	switch {
	case length < 126:
		header = []byte{0x81, byte(length)}
	case length < 65536:
		header = []byte{0x81, 126, byte(length >> 8), byte(length)}
	default:
		header = []byte{0x81, 127,
			0, 0, 0, 0,
			byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
		}
	}
	return append(header, payload...)
}

// ─── WebSocket Handshake ──────────────────────────────────────────────────────

func wsAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key) + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func upgradeToWS(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("missing Sec-WebSocket-Key")
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("hijacking not supported")
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + wsAcceptKey(key) + "\r\n\r\n"
	if _, err := buf.WriteString(resp); err != nil {
		conn.Close()
		return nil, err
	}
	if err := buf.Flush(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ─── Event bridge: session.Bus → Hub ─────────────────────────────────────────

// bridgeEvents drains sup's event bus onto hub as JSON text frames until done
// is closed. One goroutine per process; GUI clients themselves fan out from
// the Hub, not from the bus directly.
func bridgeEvents(done <-chan struct{}, sup *session.Supervisor, hub *Hub) {
	ch, id := sup.Bus().Subscribe()
	defer sup.Bus().Unsubscribe(id)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("event marshal error: %v", err)
				continue
			}
			hub.Broadcast(data)
		}
	}
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgradeToWS(w, r)
		if err != nil {
			log.Printf("WS upgrade: %v", err)
			http.Error(w, "WS upgrade failed", http.StatusBadRequest)
			return
		}

		client := &wsClient{conn: conn, send: make(chan []byte, 64)}
		hub.register(client)
		log.Printf("WS client connected: %s", conn.RemoteAddr())

		go func() {
			defer func() {
				conn.Close()
				log.Printf("WS client disconnected: %s", conn.RemoteAddr())
			}()
			for frame := range client.send {
				if _, err := conn.Write(frame); err != nil {
					return
				}
			}
		}()

		rbuf := make([]byte, 512)
		for {
			if _, err := conn.Read(rbuf); err != nil {
				break
			}
		}
		hub.unregister(client)
	}
}

// ─── RPC surface: POST /rpc/<verb> ───────────────────────────────────────────

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rpc response encode error: %v", err)
	}
}

func writeRPCError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func registerRPC(mux *http.ServeMux, sup *session.Supervisor) {
	post := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			fn(w, r)
		})
	}

	post("/rpc/scan", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ TimeoutMs int64 }
		_ = decodeBody(r, &req)
		timeout := 10 * time.Second
		if req.TimeoutMs > 0 {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		devices, err := sup.Scan(r.Context(), timeout)
		if err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, devices)
	})

	post("/rpc/start_scan", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ TimeoutMs int64 }
		_ = decodeBody(r, &req)
		timeout := 10 * time.Second
		if req.TimeoutMs > 0 {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		if err := sup.StartScan(timeout); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	post("/rpc/stop_scan", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.StopScan(); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	post("/rpc/connect_to_device", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ DeviceID string }
		if err := decodeBody(r, &req); err != nil {
			writeRPCError(w, err)
			return
		}
		if err := sup.ConnectToDevice(r.Context(), req.DeviceID); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	post("/rpc/reconnect_device", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.ReconnectDevice(r.Context()); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	post("/rpc/disconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.Disconnect(); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	post("/rpc/get_connection_status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.GetConnectionStatus())
	})

	post("/rpc/get_battery_level", func(w http.ResponseWriter, r *http.Request) {
		level, err := sup.GetBatteryLevel(r.Context())
		if err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]uint8{"battery": level})
	})

	post("/rpc/get_controller_config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.GetControllerConfig())
	})
	post("/rpc/set_controller_config", func(w http.ResponseWriter, r *http.Request) {
		var c config.ControllerConfig
		if err := decodeBody(r, &c); err != nil {
			writeRPCError(w, err)
			return
		}
		if err := sup.SetControllerConfig(c); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})
	post("/rpc/reset_controller_config", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.ResetControllerConfig(); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, sup.GetControllerConfig())
	})

	post("/rpc/get_mouse_config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.GetMouseConfig())
	})
	post("/rpc/set_mouse_config", func(w http.ResponseWriter, r *http.Request) {
		var c mapper.MouseConfig
		if err := decodeBody(r, &c); err != nil {
			writeRPCError(w, err)
			return
		}
		if err := sup.SetMouseConfig(c); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})
	post("/rpc/reset_mouse_config", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.ResetMouseConfig(); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, sup.GetMouseConfig())
	})

	post("/rpc/get_keymap_config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.GetKeymapConfig())
	})
	post("/rpc/set_keymap_config", func(w http.ResponseWriter, r *http.Request) {
		var c mapper.KeymapConfig
		if err := decodeBody(r, &c); err != nil {
			writeRPCError(w, err)
			return
		}
		if err := sup.SetKeymapConfig(c); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})
	post("/rpc/reset_keymap_config", func(w http.ResponseWriter, r *http.Request) {
		if err := sup.ResetKeymapConfig(); err != nil {
			writeRPCError(w, err)
			return
		}
		writeJSON(w, sup.GetKeymapConfig())
	})

	post("/rpc/get_current_language", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"language": sup.Language()})
	})
	post("/rpc/set_current_language", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Language string }
		if err := decodeBody(r, &req); err != nil {
			writeRPCError(w, err)
			return
		}
		sup.SetLanguage(req.Language)
		writeJSON(w, map[string]bool{"ok": true})
	})
}

// ─── Main ─────────────────────────────────────────────────────────────────────

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	log.Println("========================================")
	log.Println("gearbridged: Gear VR controller bridge")
	log.Println("========================================")

	configDir, err := config.DefaultPath()
	if err != nil {
		log.Fatalf("resolve config dir: %v", err)
	}
	store, err := config.Open(configDir)
	if err != nil {
		log.Fatalf("open config: %v", err)
	}

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	sink, err := input.NewWaylandSink(rootCtx, nil)
	if err != nil {
		log.Fatalf("input sink: %v", err)
	}
	screen := mapper.Screen{WidthPx: 1920, HeightPx: 1080}
	if w := os.Getenv("GEARBRIDGE_SCREEN_W"); w != "" {
		fmt.Sscanf(w, "%d", &screen.WidthPx)
	}
	if h := os.Getenv("GEARBRIDGE_SCREEN_H"); h != "" {
		fmt.Sscanf(h, "%d", &screen.HeightPx)
	}

	m := mapper.New(sink, screen, store.Mouse(), store.Keymap())

	transport := ble.NewGearVRTransport(nil)

	sup := session.New(transport, store, m, logrus.NewEntry(logrus.StandardLogger()))

	hub := newHub()
	done := make(chan struct{})
	go bridgeEvents(done, sup, hub)

	runCtx, cancelRun := context.WithCancel(rootCtx)
	go func() {
		if err := sup.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("session run exited: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(hub))
	registerRPC(mux, sup)

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = httpPort
	}
	log.Printf("RPC/WS server on %s", port)

	srv := &http.Server{Addr: port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP listen: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down")
	close(done)
	cancelRun()
	_ = srv.Close()
}
