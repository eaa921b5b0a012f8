package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/simi/pkg/provider/live"
	"github.com/MrWong99/simi/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		conn.SetReadLimit(1 << 20)
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
		return false
	}
	return true
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// handshake consumes the setup message and acknowledges it.
func handshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sess, err := newProvider(srv).Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return live.Event{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name       string         `json:"name"`
					Parameters map[string]any `json:"parameters"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	got := make(chan setupMsg, 1)
	keys := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setupMsg
		if !readJSON(t, conn, &msg) {
			return
		}
		got <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess := connect(t, srv, live.SessionConfig{
		Instructions:        "You are Simi.",
		Tools:               []live.ToolDeclaration{{Name: "navigate", Parameters: map[string]any{"type": "OBJECT"}}},
		VoiceName:           "Kore",
		InputTranscription:  true,
		OutputTranscription: true,
	})

	if ev := nextEvent(t, sess); ev.Kind != live.EventSetupComplete {
		t.Errorf("first event = %v, want SETUP_COMPLETE", ev.Kind)
	}
	if k := <-keys; k != "test-api-key" {
		t.Errorf("key = %q", k)
	}

	msg := <-got
	s := msg.Setup
	if s.Model != "models/"+gemini.DefaultModel {
		t.Errorf("model = %q", s.Model)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("modalities = %v", s.GenerationConfig.ResponseModalities)
	}
	if v := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Kore" {
		t.Errorf("voice = %q", v)
	}
	if len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "You are Simi." {
		t.Errorf("system instruction = %+v", s.SystemInstruction)
	}
	if len(s.Tools) != 1 || len(s.Tools[0].FunctionDeclarations) != 1 || s.Tools[0].FunctionDeclarations[0].Name != "navigate" {
		t.Errorf("tools = %+v", s.Tools)
	}
	if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
		t.Error("transcription not requested")
	}
}

func TestConnect_SetupRejected(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "bad model", "status": "INVALID_ARGUMENT"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := newProvider(srv).Connect(context.Background(), live.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("err = %v, want setup rejection", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	p := gemini.New("k", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSession_InboundEventsInOrder(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription":  map[string]any{"text": "add rice"},
			"outputTranscription": map[string]any{"text": "Okay!"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
			}},
		}})
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "c1", "name": "set_visual_state", "args": map[string]any{"state": "celebrate"}},
			map[string]any{"id": "c2", "name": "navigate", "args": map[string]any{"mode": "TV"}},
		}}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, map[string]any{"error": map[string]any{"message": "quota"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // setup complete

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventTranscript || ev.Transcript.Role != live.RoleUser || ev.Transcript.Text != "add rice" {
		t.Errorf("event 1 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != live.EventTranscript || ev.Transcript.Role != live.RoleModel || ev.Transcript.Text != "Okay!" {
		t.Errorf("event 2 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != live.EventAudio || ev.Audio.Data != "AAAA" || ev.Audio.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("event 3 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != live.EventToolCall || len(ev.ToolCalls) != 2 {
		t.Fatalf("event 4 = %+v", ev)
	}
	if c := ev.ToolCalls[0]; c.ID != "c1" || c.Name != "set_visual_state" || c.Args["state"] != "celebrate" {
		t.Errorf("tool call 0 = %+v", c)
	}
	if ev = nextEvent(t, sess); ev.Kind != live.EventInterrupted {
		t.Errorf("event 5 = %v", ev.Kind)
	}
	if ev = nextEvent(t, sess); ev.Kind != live.EventTurnComplete {
		t.Errorf("event 6 = %v", ev.Kind)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != live.EventError || ev.Err == nil || !strings.Contains(ev.Err.Error(), "quota") {
		t.Errorf("event 7 = %+v", ev)
	}
}

func TestSession_OutboundMessages(t *testing.T) {
	t.Parallel()

	type outbound struct {
		RealtimeInput *struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
		ToolResponse *struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}

	msgs := make(chan outbound, 2)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		for range 2 {
			var m outbound
			if !readJSON(t, conn, &m) {
				return
			}
			msgs <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	sess := connect(t, srv, live.SessionConfig{})
	ctx := context.Background()
	if err := sess.SendRealtimeInput(ctx, live.RealtimeInput{Media: live.Media{Data: "AQID", MIMEType: "audio/pcm;rate=16000"}}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}
	if err := sess.SendToolResponse(ctx, live.OK("c1", "set_visual_state")); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	m := <-msgs
	if m.RealtimeInput == nil || len(m.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("first message = %+v", m)
	}
	if c := m.RealtimeInput.MediaChunks[0]; c.Data != "AQID" || c.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("media chunk = %+v", c)
	}

	m = <-msgs
	if m.ToolResponse == nil || len(m.ToolResponse.FunctionResponses) != 1 {
		t.Fatalf("second message = %+v", m)
	}
	fr := m.ToolResponse.FunctionResponses[0]
	if fr.ID != "c1" || fr.Name != "set_visual_state" || fr.Response["result"] != "ok" {
		t.Errorf("function response = %+v", fr)
	}
}

func TestSession_PeerClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  websocket.StatusCode
		wantErr bool
	}{
		{name: "normal", status: websocket.StatusNormalClosure},
		{name: "abnormal", status: websocket.StatusInternalError, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
				handshake(t, conn)
				conn.Close(tc.status, "bye")
			})

			sess := connect(t, srv, live.SessionConfig{})
			nextEvent(t, sess)

			ev := nextEvent(t, sess)
			if ev.Kind != live.EventClosed {
				t.Fatalf("event = %v, want CLOSED", ev.Kind)
			}
			if (ev.Err != nil) != tc.wantErr {
				t.Errorf("Err = %v, wantErr %v", ev.Err, tc.wantErr)
			}
			if (sess.Err() != nil) != tc.wantErr {
				t.Errorf("session Err = %v, wantErr %v", sess.Err(), tc.wantErr)
			}
			select {
			case _, ok := <-sess.Events():
				if ok {
					t.Error("events channel not closed after CLOSED")
				}
			case <-time.After(3 * time.Second):
				t.Fatal("events channel not closed")
			}
		})
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess := connect(t, srv, live.SessionConfig{})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err := sess.SendRealtimeInput(context.Background(), live.RealtimeInput{})
	if !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("send after Close err = %v, want ErrSessionClosed", err)
	}
	if err := sess.SendToolResponse(context.Background(), live.OK("x", "y")); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("tool response after Close err = %v, want ErrSessionClosed", err)
	}
	if sess.Err() != nil {
		t.Errorf("Err after local close = %v, want nil", sess.Err())
	}
}
