package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/internal/state"
	"github.com/MrWong99/simi/internal/voice"
	"github.com/MrWong99/simi/pkg/audio/capture"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler returns the full HTTP API wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	mux.HandleFunc("GET /api/session", a.handleSessionInfo)
	mux.HandleFunc("POST /api/session/start", a.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /api/navigate", a.handleNavigate)
	mux.HandleFunc("POST /api/commands", a.handleCommand)
	mux.HandleFunc("GET /api/wardrobe", a.handleWardrobeList)
	mux.HandleFunc("POST /api/wardrobe", a.handleWardrobe)

	mux.HandleFunc("POST /api/content/negotiate", a.handleNegotiate)
	mux.HandleFunc("POST /api/content/suppliers", a.handleSuppliers)
	mux.HandleFunc("POST /api/content/gossip", a.handleGossip)
	mux.HandleFunc("POST /api/content/social", a.handleSocial)
	mux.HandleFunc("POST /api/content/whatsapp", a.handleWhatsApp)
	mux.HandleFunc("POST /api/content/reply", a.handleReply)

	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	if a.mcp != nil {
		mux.Handle(a.Config().MCP.Path, a.mcp.Handler())
	}

	return observe.Middleware(a.metrics)(mux)
}

// ── state ────────────────────────────────────────────────────────────────────

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

type navigateRequest struct {
	Mode state.Mode `json:"mode"`
}

func (a *App) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.store.Navigate(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

type commandResponse struct {
	Changed bool         `json:"changed"`
	State   *state.State `json:"state"`
}

func (a *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if !readJSON(w, r, &cmd) {
		return
	}
	if cmd.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	cmd.Kind = command.Normalize(string(cmd.Kind))
	changed := a.store.Dispatch(r.Context(), cmd, SourceAPI)
	writeJSON(w, http.StatusOK, commandResponse{Changed: changed, State: a.store.Snapshot()})
}

func (a *App) handleWardrobeList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, state.Wardrobe())
}

func (a *App) handleWardrobe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.store.SetWardrobe(req.ID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

// ── voice session ────────────────────────────────────────────────────────────

func (a *App) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: "A voice session is already running.", Session: &info})
	case errors.Is(err, capture.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorBody{Error: voice.Message(err), Session: &info})
	case errors.Is(err, voice.ErrStopped):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Stopped before the session connected.", Session: &info})
	default:
		observe.Logger(r.Context()).Warn("voice session failed to start", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: voice.Message(err), Session: &info})
	}
}

func (a *App) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	info, err := a.sessions.Stop()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Session: &info})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ── content ──────────────────────────────────────────────────────────────────

type negotiateRequest struct {
	Product     string  `json:"product"`
	TargetCount int     `json:"targetCount"`
	Price       float64 `json:"price"`
}

func (a *App) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req negotiateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Product == "" || req.TargetCount <= 0 || req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "product, targetCount and price are required")
		return
	}
	writeJSON(w, http.StatusOK, a.content.NegotiateGroupBuy(r.Context(), req.Product, req.TargetCount, req.Price))
}

func (a *App) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	writeJSON(w, http.StatusOK, a.content.MatchSuppliers(r.Context(), req.Category))
}

func (a *App) handleGossip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, textBody{Text: a.content.MarketGossip(r.Context())})
}

func (a *App) handleSocial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt   string `json:"prompt"`
		Platform string `json:"platform"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Platform == "" {
		req.Platform = "Instagram"
	}
	writeJSON(w, http.StatusOK, a.content.SocialManifest(r.Context(), req.Prompt, req.Platform))
}

func (a *App) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductInfo string `json:"productInfo"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProductInfo == "" {
		writeError(w, http.StatusBadRequest, "productInfo is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": a.content.WhatsAppManifest(r.Context(), req.ProductInfo)})
}

func (a *App) handleReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBase string `json:"knowledgeBase"`
		Query         string `json:"query"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, textBody{Text: a.content.AutoReply(r.Context(), req.KnowledgeBase, req.Query)})
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorBody struct {
	Error   string       `json:"error"`
	Session *SessionInfo `json:"session,omitempty"`
}

type textBody struct {
	Text string `json:"text"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// readJSON decodes the request body into v, answering 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
