package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voicedesk/internal/store"
	"voicedesk/internal/tools"
)

// Connection owns one duplex realtime session with the voice agent for
// one phone call.
//
// State machine: Connecting -> Ready -> Closed, with Failed reachable
// from Connecting or Ready. Connect blocks through Connecting; a
// connection that does not acknowledge within readyTimeout fails and
// the socket is torn down. Closed and Failed are terminal.

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

	// Both legs speak G.711 μ-law at 8kHz; configuring the session to the
	// telephony leg's native format removes the transcoding step entirely.
	audioFormat = "g711_ulaw"

	vadSilenceMS = 500
)

var readyTimeout = 10 * time.Second

type State int32

const (
	StateConnecting State = iota
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolExecutor runs one tool call and always returns a JSON payload.
type ToolExecutor interface {
	Execute(ctx context.Context, merchantID, toolName string, args json.RawMessage) json.RawMessage
}

// Callbacks deliver session output to the telephony bridge. OnError is
// invoked at most once, for failures after Connect has returned.
type Callbacks struct {
	// OnAudio receives base64 μ-law agent audio for the phone leg.
	OnAudio func(b64 string)

	// OnTranscript receives incremental transcript text; role is
	// "assistant" or "caller".
	OnTranscript func(role, text string)

	OnError func(err error)
}

// Options configure one session.
type Options struct {
	APIKey string
	Model  string

	// Voice falls back to the merchant's configured voice, then this.
	DefaultVoice string

	// Caller is the caller's phone number, when the telephony side
	// knows it. It is surfaced in the session instructions so the
	// agent has a default number for tool calls.
	Caller string

	// URL overrides the realtime endpoint (tests).
	URL string
}

type Connection struct {
	conn       *websocket.Conn
	log        *slog.Logger
	executor   ToolExecutor
	merchantID string
	callbacks  Callbacks

	state atomic.Int32

	writeMu    sync.Mutex
	closeOnce  sync.Once
	closedByUs atomic.Bool
	errOnce    sync.Once
	done       chan struct{}

	// audioLogged flips on the first inbound caller frame; diagnostic only.
	audioLogged atomic.Bool
}

var ErrConnectTimeout = errors.New("voiceagent: connection not ready within deadline")

// Connect dials the realtime API, configures the session for the
// merchant and blocks until the far end acknowledges (or the deadline
// passes). On success the session is Ready and the greeting turn has
// been requested.
func Connect(ctx context.Context, opts Options, cfg store.MerchantConfig, executor ToolExecutor, cb Callbacks, log *slog.Logger) (*Connection, error) {
	u := opts.URL
	if u == "" {
		u = defaultRealtimeURL + "?model=" + opts.Model
	}
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+opts.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
	}

	// One deadline covers the handshake, session.update and the far
	// end's acknowledgment.
	deadline := time.Now().Add(readyTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: readyTimeout}
	ws, _, err := dialer.DialContext(dialCtx, u, header)
	if err != nil {
		return nil, fmt.Errorf("voiceagent: dial: %w", err)
	}

	c := &Connection{
		conn:       ws,
		log:        log,
		executor:   executor,
		merchantID: cfg.ID,
		callbacks:  cb,
		done:       make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	voice := cfg.Voice
	if voice == "" {
		voice = opts.DefaultVoice
	}
	if err := c.sendJSON(sessionUpdateEvent{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:         []string{"audio", "text"},
			Instructions:       instructionsFor(cfg, opts.Caller),
			Voice:              voice,
			InputAudioFormat:   audioFormat,
			OutputAudioFormat:  audioFormat,
			InputTranscription: &transcription{Model: "whisper-1"},
			TurnDetection:      &turnDetection{Type: "server_vad", SilenceDurationMS: vadSilenceMS},
			Tools:              sessionTools(),
			ToolChoice:         "auto",
		},
	}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("voiceagent: session.update: %w", err)
	}

	ready := make(chan struct{})
	go c.readLoop(ready)

	select {
	case <-ready:
	case <-time.After(time.Until(deadline)):
		c.fail()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		c.fail()
		return nil, ctx.Err()
	case <-c.done:
		// Read loop died before acknowledgment.
		c.state.Store(int32(StateFailed))
		return nil, errors.New("voiceagent: connection closed during setup")
	}

	c.state.Store(int32(StateReady))

	// Synthetic greeting turn: the agent speaks first.
	greeting := Greeting(cfg, time.Now())
	if err := c.sendJSON(responseCreateEvent{
		Type:     "response.create",
		Response: &responseConfig{Instructions: "Say exactly: " + greeting},
	}); err != nil {
		c.fail()
		return nil, fmt.Errorf("voiceagent: greeting: %w", err)
	}

	return c, nil
}

// State reports the current session state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// SendAudio forwards one base64 μ-law caller frame to the agent.
func (c *Connection) SendAudio(b64 string) error {
	if c.State() != StateReady {
		return fmt.Errorf("voiceagent: send audio in state %s", c.State())
	}
	if c.audioLogged.CompareAndSwap(false, true) {
		c.log.Debug("first caller audio frame", "merchant_id", c.merchantID)
	}
	return c.sendJSON(audioAppendEvent{Type: "input_audio_buffer.append", Audio: b64})
}

// Close ends the session. Safe to call more than once, after failure,
// and from inside callbacks; wait on Done for the read loop to drain.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closedByUs.Store(true)
		if State(c.state.Load()) != StateFailed {
			c.state.Store(int32(StateClosed))
		}
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// Done is closed when the read loop exits.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) fail() {
	c.state.Store(int32(StateFailed))
	c.closedByUs.Store(true)
	_ = c.conn.Close()
	<-c.done
}

func (c *Connection) readLoop(ready chan<- struct{}) {
	defer close(c.done)

	var readySignalled bool
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closedByUs.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			// Abrupt close or transport error on a live session.
			c.state.Store(int32(StateClosed))
			c.reportError(fmt.Errorf("voiceagent: transport: %w", err))
			return
		}

		ev, err := decodeServerEvent(data)
		if err != nil {
			// Per-message recoverable: an unparseable event must not
			// drop the call.
			c.log.Warn("undecodable realtime event", "merchant_id", c.merchantID, "err", err)
			continue
		}

		switch ev := ev.(type) {
		case sessionReadyEvent:
			if !readySignalled {
				readySignalled = true
				close(ready)
			}

		case audioDeltaEvent:
			if c.callbacks.OnAudio != nil {
				c.callbacks.OnAudio(ev.Delta)
			}

		case assistantTranscriptDeltaEvent:
			if c.callbacks.OnTranscript != nil {
				c.callbacks.OnTranscript("assistant", ev.Delta)
			}

		case callerTranscriptEvent:
			if c.callbacks.OnTranscript != nil {
				c.callbacks.OnTranscript("caller", ev.Transcript)
			}

		case toolCallEvent:
			c.handleToolCall(ev)

		case apiErrorEvent:
			// The far end reports errors in-band; most are recoverable
			// (e.g. a rejected response.create during barge-in).
			c.log.Warn("realtime api error event", "merchant_id", c.merchantID, "message", ev.Message)

		case unknownEvent:
			c.log.Debug("unhandled realtime event", "type", ev.Type)
		}
	}
}

// handleToolCall runs the tool synchronously (the API never overlaps
// tool calls within one turn), then sends the correlated output and
// explicitly requests the next turn. The far end does not auto-continue
// after a function result, so the response.create nudge is mandatory on
// both success and failure.
func (c *Connection) handleToolCall(ev toolCallEvent) {
	c.log.Info("tool call", "merchant_id", c.merchantID, "tool", ev.Name, "call_id", ev.CallID)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	args := ev.Arguments
	if args == "" {
		args = "{}"
	}
	var output json.RawMessage
	if json.Valid([]byte(args)) {
		output = c.executor.Execute(ctx, c.merchantID, ev.Name, json.RawMessage(args))
	} else {
		// A parse failure is a tool-execution error, not a connection
		// error: the agent gets told and the call continues.
		output = json.RawMessage(`{"error":"Invalid tool arguments"}`)
	}

	if err := c.sendJSON(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: ev.CallID, Output: string(output)},
	}); err != nil {
		c.log.Warn("function output send failed", "merchant_id", c.merchantID, "err", err)
		return
	}
	if err := c.sendJSON(responseCreateEvent{Type: "response.create"}); err != nil {
		c.log.Warn("post-tool response.create failed", "merchant_id", c.merchantID, "err", err)
	}
}

func (c *Connection) sendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Connection) reportError(err error) {
	c.errOnce.Do(func() {
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(err)
		}
	})
}

func sessionTools() []toolDefinition {
	defs := tools.Definitions()
	out := make([]toolDefinition, len(defs))
	for i, d := range defs {
		out[i] = toolDefinition{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}
