package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicedesk/internal/store"
)

/* ===== FAKE REALTIME SERVER ===== */

// fakeRealtime records every client event and lets a test script the
// server side of the session.
type fakeRealtime struct {
	t  *testing.T
	ts *httptest.Server

	mu     sync.Mutex
	conn   *websocket.Conn
	events []map[string]any

	acknowledge bool // send session.created after session.update
	connected   chan struct{}
}

func newFakeRealtime(t *testing.T, acknowledge bool) *fakeRealtime {
	f := &fakeRealtime{t: t, acknowledge: acknowledge, connected: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connected)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Errorf("client sent non-JSON: %v", err)
				continue
			}
			f.mu.Lock()
			f.events = append(f.events, ev)
			n := len(f.events)
			f.mu.Unlock()
			if n == 1 && f.acknowledge {
				f.send(map[string]any{"type": "session.created"})
			}
		}
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http")
}

func (f *fakeRealtime) send(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(v); err != nil {
		f.t.Errorf("server send: %v", err)
	}
}

func (f *fakeRealtime) received(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, ev := range f.events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeRealtime) waitFor(typ string, want int) []map[string]any {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.received(typ); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.t.Fatalf("timed out waiting for %d %q events, have %d", want, typ, len(f.received(typ)))
	return nil
}

/* ===== FAKE TOOL EXECUTOR ===== */

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	out   json.RawMessage
}

func (f *fakeExecutor) Execute(_ context.Context, _, toolName string, _ json.RawMessage) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolName)
	if f.out != nil {
		return f.out
	}
	return json.RawMessage(`{"ok":true}`)
}

/* ===== HELPERS ===== */

func testConnect(t *testing.T, f *fakeRealtime, cfg store.MerchantConfig, exec ToolExecutor, cb Callbacks) (*Connection, error) {
	t.Helper()
	if exec == nil {
		exec = &fakeExecutor{}
	}
	return Connect(context.Background(), Options{URL: f.url(), DefaultVoice: "alloy"}, cfg, exec, cb, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

/* ===== TESTS ===== */

func TestConnectConfiguresSessionAndGreetsOnce(t *testing.T) {
	f := newFakeRealtime(t, true)
	cfg := store.MerchantConfig{ID: "m1", BusinessName: "Shear Genius", Voice: "verse"}

	conn, err := testConnect(t, f, cfg, nil, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if got := conn.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}

	updates := f.waitFor("session.update", 1)
	session, _ := updates[0]["session"].(map[string]any)
	if session == nil {
		t.Fatal("session.update missing session payload")
	}
	if session["voice"] != "verse" {
		t.Errorf("voice = %v, want merchant voice", session["voice"])
	}
	if session["input_audio_format"] != "g711_ulaw" || session["output_audio_format"] != "g711_ulaw" {
		t.Errorf("audio formats = %v / %v", session["input_audio_format"], session["output_audio_format"])
	}
	toolList, _ := session["tools"].([]any)
	if len(toolList) != 5 {
		t.Errorf("tools advertised = %d, want 5", len(toolList))
	}
	instructions, _ := session["instructions"].(string)
	if !strings.Contains(instructions, "Shear Genius") {
		t.Errorf("instructions missing business name")
	}

	greetings := f.waitFor("response.create", 1)
	resp, _ := greetings[0]["response"].(map[string]any)
	if resp == nil {
		t.Fatal("greeting response.create has no response payload")
	}
	gi, _ := resp["instructions"].(string)
	if !strings.Contains(gi, "Shear Genius") {
		t.Errorf("greeting instructions = %q", gi)
	}

	// No second spontaneous response.create.
	time.Sleep(50 * time.Millisecond)
	if got := len(f.received("response.create")); got != 1 {
		t.Errorf("response.create count = %d, want exactly 1", got)
	}
}

func TestConnectTimesOutWithoutAcknowledgment(t *testing.T) {
	old := readyTimeout
	readyTimeout = 100 * time.Millisecond
	defer func() { readyTimeout = old }()

	f := newFakeRealtime(t, false)
	started := time.Now()
	_, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, Callbacks{})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
	// The handshake and the acknowledgment wait share a single
	// deadline; they must not stack.
	if elapsed := time.Since(started); elapsed > 2*readyTimeout {
		t.Errorf("connect took %v, want at most ~%v", elapsed, readyTimeout)
	}
}

func TestSendAudioForwardsFrames(t *testing.T) {
	f := newFakeRealtime(t, true)
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.SendAudio("bXUtbGF3"); err != nil {
		t.Fatal(err)
	}
	appends := f.waitFor("input_audio_buffer.append", 1)
	if appends[0]["audio"] != "bXUtbGF3" {
		t.Errorf("audio = %v", appends[0]["audio"])
	}
}

func TestAudioAndTranscriptCallbacks(t *testing.T) {
	f := newFakeRealtime(t, true)

	var mu sync.Mutex
	var audio []string
	var transcripts []string
	cb := Callbacks{
		OnAudio: func(b64 string) {
			mu.Lock()
			audio = append(audio, b64)
			mu.Unlock()
		},
		OnTranscript: func(role, text string) {
			mu.Lock()
			transcripts = append(transcripts, role+":"+text)
			mu.Unlock()
		},
	}
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, cb)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f.send(map[string]any{"type": "response.output_audio.delta", "delta": "QUJD"})
	f.send(map[string]any{"type": "response.output_audio_transcript.delta", "delta": "Hello"})
	f.send(map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hi there"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(audio) == 1 && len(transcripts) == 2
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(audio) != 1 || audio[0] != "QUJD" {
		t.Errorf("audio callbacks = %v", audio)
	}
	want := []string{"assistant:Hello", "caller:hi there"}
	if len(transcripts) != 2 || transcripts[0] != want[0] || transcripts[1] != want[1] {
		t.Errorf("transcripts = %v, want %v", transcripts, want)
	}
}

func TestToolCallProducesOutputThenResponse(t *testing.T) {
	f := newFakeRealtime(t, true)
	exec := &fakeExecutor{out: json.RawMessage(`{"found":false}`)}
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, exec, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f.send(map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_1",
		"name":      "lookup_customer",
		"arguments": `{"phone":"+447700900123"}`,
	})

	items := f.waitFor("conversation.item.create", 1)
	item, _ := items[0]["item"].(map[string]any)
	if item == nil {
		t.Fatal("item.create missing item")
	}
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Errorf("item = %v", item)
	}
	if item["output"] != `{"found":false}` {
		t.Errorf("output = %v", item["output"])
	}

	// Greeting plus the post-tool nudge.
	f.waitFor("response.create", 2)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.calls) != 1 || exec.calls[0] != "lookup_customer" {
		t.Errorf("executor calls = %v", exec.calls)
	}
}

func TestToolCallBadArgumentsStillAnswered(t *testing.T) {
	f := newFakeRealtime(t, true)
	exec := &fakeExecutor{}
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, exec, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f.send(map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "call_2",
		"name":      "create_booking",
		"arguments": `{"broken`,
	})

	items := f.waitFor("conversation.item.create", 1)
	item, _ := items[0]["item"].(map[string]any)
	out, _ := item["output"].(string)
	if !strings.Contains(out, "Invalid tool arguments") {
		t.Errorf("output = %q", out)
	}
	f.waitFor("response.create", 2)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.calls) != 0 {
		t.Errorf("executor ran despite unparseable arguments: %v", exec.calls)
	}
}

func TestCloseSuppressesOnError(t *testing.T) {
	f := newFakeRealtime(t, true)
	errCh := make(chan error, 1)
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, Callbacks{
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatal(err)
	}

	conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after Close")
	}
	if got := conn.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	select {
	case err := <-errCh:
		t.Errorf("OnError fired after local Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAbruptServerCloseReportsErrorOnce(t *testing.T) {
	f := newFakeRealtime(t, true)
	errCh := make(chan error, 2)
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, Callbacks{
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	<-f.connected
	f.mu.Lock()
	_ = f.conn.Close() // no close handshake
	f.mu.Unlock()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("nil error reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not invoked for abrupt close")
	}
	select {
	case err := <-errCh:
		t.Errorf("OnError invoked twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUndecodableEventDoesNotDropSession(t *testing.T) {
	f := newFakeRealtime(t, true)
	conn, err := testConnect(t, f, store.MerchantConfig{ID: "m1", BusinessName: "B"}, nil, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f.send(map[string]any{"broken": true})
	f.send(map[string]any{"type": "response.output_audio.delta", "delta": "QUJD"})

	// The session still accepts traffic after the bad event.
	if err := conn.SendAudio("bXUtbGF3"); err != nil {
		t.Fatal(err)
	}
	f.waitFor("input_audio_buffer.append", 1)
	if got := conn.State(); got != StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}
