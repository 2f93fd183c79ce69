// Package rpcserver fronts internal/engine with the JSON request/response
// surface spec §6 describes: requests of the form {id, method, params}
// answered with {id, result} or {id, error: {code, message}}. The tool
// roster consuming this surface (click_element, fill_form, and friends)
// is out of scope here; this package only has to route a handful of
// coarse-grained methods onto the engine and keep the transport concerns
// (rate limiting, connection fan-out, error-code mapping) in one place.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"openchrome/internal/config"
	"openchrome/internal/core"
	"openchrome/internal/domdelta"
	"openchrome/internal/domserialize"
	"openchrome/internal/engine"
	"openchrome/internal/session"
	"openchrome/pkg/logger"
	"openchrome/pkg/metrics"
)

// Request is one JSON-RPC-flavored call.
type Request struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response carries either Result or Error, never both.
type Response struct {
	ID     any       `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// RPCError is the serialized form of a core.Error (or a transport-level
// failure that never reached the core).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// kindCodes maps core.Kind to a stable numeric code so callers can branch
// without string-matching the message.
var kindCodes = map[core.Kind]int{
	core.KindSessionIsolation:    1001,
	core.KindSessionNotFound:     1002,
	core.KindTabNotFound:         1003,
	core.KindQueueTimeout:        1004,
	core.KindQueueCancelled:      1005,
	core.KindCDPTimeout:          1006,
	core.KindCDPProtocol:         1007,
	core.KindSnapshotNonAtomic:   1008,
	core.KindLauncherPortUnreach: 1009,
	core.KindFinderNoMatch:       1010,
	core.KindFinderLowConfidence: 1011,
	core.KindRefStale:            1012,
	core.KindConfigCorrupted:     1013,
}

const codeInternal = 1000

func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if kind, ok := core.KindOf(err); ok {
		code, known := kindCodes[kind]
		if !known {
			code = codeInternal
		}
		return &RPCError{Code: code, Message: err.Error()}
	}
	return &RPCError{Code: codeInternal, Message: err.Error()}
}

// Server adapts an *engine.Engine to HTTP POST and websocket transports.
type Server struct {
	eng     *engine.Engine
	log     *logger.Logger
	metrics *metrics.MetricsCollector
	cfg     config.RPCConfig

	hub *Hub

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	upgrader websocket.Upgrader
}

// New builds a Server routing onto eng, rate-limited per remote address
// per cfg.
func New(eng *engine.Engine, log *logger.Logger, mc *metrics.MetricsCollector, cfg config.RPCConfig) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		eng:      eng,
		log:      log,
		metrics:  mc,
		cfg:      cfg,
		hub:      NewHub(),
		limiters: make(map[string]*rate.Limiter),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	eng.Subscribe(func(ev session.Event) {
		s.hub.Broadcast(string(ev.Kind), map[string]string{
			"sessionId": ev.SessionID,
			"tabId":     ev.TabID,
		})
	})
	return s
}

// Mux returns the HTTP handler exposing POST /rpc and GET /ws.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleHTTP)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) limiterFor(remoteAddr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		rps := s.cfg.RateLimitRPS
		if rps <= 0 {
			rps = 20
		}
		burst := s.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 2
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		s.limiters[host] = lim
	}
	return lim
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiterFor(r.RemoteAddr).Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Response{Error: &RPCError{Code: codeInternal, Message: "malformed request: " + err.Error()}})
		return
	}

	resp := s.dispatch(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade failed", zap.Error(err))
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	limiter := s.limiterFor(r.RemoteAddr)
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if !limiter.Allow() {
			_ = conn.WriteJSON(Response{ID: req.ID, Error: &RPCError{Code: codeInternal, Message: "rate limited"}})
			continue
		}
		resp := s.dispatch(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

// dispatch routes one request onto the engine and always records the
// outcome via metrics, regardless of which branch returns.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.route(ctx, req.Method, req.Params)
	kind := ""
	if k, ok := core.KindOf(err); ok {
		kind = string(k)
	} else if err != nil {
		kind = "internal"
	}
	if s.metrics != nil {
		s.metrics.RecordRPCRequest(req.Method, kind)
	}
	if err != nil {
		return Response{ID: req.ID, Error: toRPCError(err)}
	}
	return Response{ID: req.ID, Result: result}
}

func (s *Server) route(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	switch method {
	case "session.create":
		var p struct {
			ID  string `json:"id"`
			TTL int64  `json:"ttlSeconds"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.ID, time.Duration(p.TTL)*time.Second)
		return map[string]any{"sessionId": sess.ID()}, nil

	case "session.close":
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		s.eng.AcquireSession(p.SessionID, 0).Close()
		return map[string]any{}, nil

	case "tab.create":
		var p struct {
			SessionID string `json:"sessionId"`
			URL       string `json:"url"`
			WorkerID  string `json:"workerId"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		created, err := sess.CreateTab(ctx, p.URL, p.WorkerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tabId": created.TabID, "workerId": created.WorkerID}, nil

	case "tab.close":
		var p struct {
			SessionID string `json:"sessionId"`
			TabID     string `json:"tabId"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		return map[string]any{}, sess.CloseTab(p.TabID)

	case "tab.evaluate":
		var p struct {
			SessionID  string `json:"sessionId"`
			TabID      string `json:"tabId"`
			Expression string `json:"expression"`
			TimeoutMS  int64  `json:"timeoutMs"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		tab, err := sess.GetTab(p.TabID)
		if err != nil {
			return nil, err
		}
		var res any
		timeout := time.Duration(p.TimeoutMS) * time.Millisecond
		err = tab.Evaluate(timeout, func(c context.Context) error {
			return chromedp.Run(c, chromedp.Evaluate(p.Expression, &res))
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": res}, nil

	case "tab.serialize":
		var p struct {
			SessionID      string `json:"sessionId"`
			TabID          string `json:"tabId"`
			MaxOutputChars   int  `json:"maxOutputChars"`
			InteractiveOnly  bool `json:"interactiveOnly"`
			IncludePageStats bool `json:"includePageStats"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		tab, err := sess.GetTab(p.TabID)
		if err != nil {
			return nil, err
		}
		opts := domserialize.DefaultOptions()
		if p.MaxOutputChars > 0 {
			opts.MaxOutputChars = p.MaxOutputChars
		}
		opts.InteractiveOnly = p.InteractiveOnly
		opts.IncludePageStats = p.IncludePageStats
		result, err := tab.Serialize(ctx, opts)
		if err != nil {
			return nil, err
		}
		return result, nil

	case "tab.find":
		var p struct {
			SessionID string `json:"sessionId"`
			TabID     string `json:"tabId"`
			Query     string `json:"query"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		tab, err := sess.GetTab(p.TabID)
		if err != nil {
			return nil, err
		}
		return tab.Find(ctx, p.Query)

	case "tab.navigate":
		var p struct {
			SessionID string `json:"sessionId"`
			TabID     string `json:"tabId"`
			URL       string `json:"url"`
		}
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		sess := s.eng.AcquireSession(p.SessionID, 0)
		tab, err := sess.GetTab(p.TabID)
		if err != nil {
			return nil, err
		}
		return tab.Mutate(ctx, func(c context.Context) (any, error) {
			return nil, chromedp.Run(c, chromedp.Navigate(p.URL))
		}, domdelta.Options{})

	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed params: %w", err)
	}
	return nil
}
