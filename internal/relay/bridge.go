package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"voicedesk/internal/calllog"
	"voicedesk/internal/store"
	"voicedesk/internal/voiceagent"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"
)

// Bridge owns the telephony leg of one call: it terminates Twilio's
// media stream WebSocket, opens the voice agent session when the stream
// starts and pumps base64 μ-law frames both ways without touching the
// samples.
type Bridge struct {
	Merchants store.MerchantRepository
	Executor  voiceagent.ToolExecutor
	Agent     voiceagent.Options

	// Calls receives best-effort lifecycle events; nil disables logging.
	Calls *calllog.Service

	// Redis enforces the per-merchant live call cap; nil disables it.
	Redis    *redis.Client
	MaxCalls int
}

// Call slots auto-expire so a crashed process cannot leak a merchant's
// capacity forever.
const callSlotTTL = 2 * time.Hour

// Config snapshots are immutable per call, so a short cache only delays
// settings edits by a minute at worst.
const configCacheTTL = time.Minute

var errCapacity = errors.New("relay: merchant at live call capacity")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio connects server-to-server; there is no browser origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleMediaStream serves GET /media-stream/:merchant_id.
func (b *Bridge) HandleMediaStream(c *gin.Context) {
	merchantID := c.Param("merchant_id")
	log := logger.FromGin(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "merchant_id", merchantID, "err", err)
		return
	}
	log.Debug("media stream opened", "merchant_id", merchantID)

	s := &session{bridge: b, merchantID: merchantID, twilio: conn, log: log}
	s.run(c.Request.Context())
}

/* ===== PER-CALL SESSION ===== */

type session struct {
	bridge     *Bridge
	merchantID string
	twilio     *websocket.Conn
	log        *slog.Logger

	writeMu   sync.Mutex
	streamSid string
	callSid   string

	agent   *voiceagent.Connection
	slotKey string
}

func (s *session) run(ctx context.Context) {
	defer s.cleanup()

	for {
		_, data, err := s.twilio.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("media stream read ended", "err", err)
			}
			return
		}

		frame, err := decodeTwilioFrame(data)
		if err != nil {
			s.log.Warn("bad media stream frame", "err", err)
			continue
		}

		switch frame.Event {
		case frameConnected:
			s.log.Debug("media stream connected")

		case frameStart:
			if frame.Start == nil {
				s.log.Warn("start frame missing payload")
				return
			}
			if err := s.start(ctx, *frame.Start); err != nil {
				s.log.Error("call setup failed", "err", err)
				if s.bridge.Calls != nil {
					_ = s.bridge.Calls.LogFailed(ctx, s.merchantID, s.callSid, err.Error())
				}
				return
			}

		case frameMedia:
			if s.agent == nil || frame.Media == nil {
				continue
			}
			if err := s.agent.SendAudio(frame.Media.Payload); err != nil {
				s.log.Warn("caller audio forward failed", "err", err)
				return
			}

		case frameStop:
			s.log.Info("media stream stopped", "stream_sid", s.streamSid)
			return

		case frameMark:
			// Playback checkpoints; nothing for the relay to do.

		default:
			s.log.Debug("unhandled media stream event", "event", frame.Event)
		}
	}
}

// start handles the stream's start frame: reserve a call slot, load the
// merchant's configuration and open the voice agent session.
func (s *session) start(ctx context.Context, p startPayload) error {
	if s.agent != nil {
		s.log.Warn("duplicate start frame ignored", "stream_sid", p.StreamSid)
		return nil
	}
	s.streamSid = p.StreamSid
	s.callSid = p.CallSid
	s.log = logger.ForCall(s.log, s.merchantID, p.CallSid)

	if s.bridge.Redis != nil {
		key := "live_calls:" + s.merchantID
		ok, err := utils.AcquireConcurrencyCap(ctx, s.bridge.Redis, key, s.bridge.MaxCalls, callSlotTTL)
		if err != nil {
			// Capacity accounting must not take down calls.
			s.log.Warn("call slot acquire failed, admitting call", "err", err)
		} else if !ok {
			s.log.Warn("merchant at live call capacity, rejecting")
			return errCapacity
		} else {
			s.slotKey = key
		}
	}

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}

	executor := s.bridge.Executor
	if s.bridge.Calls != nil {
		executor = loggedExecutor{inner: executor, calls: s.bridge.Calls, callSid: s.callSid}
	}

	opts := s.bridge.Agent
	opts.Caller = p.CustomParameters["caller"]

	agent, err := voiceagent.Connect(ctx, opts, cfg, executor, voiceagent.Callbacks{
		OnAudio:      s.playAudio,
		OnTranscript: s.logTranscript,
		OnError: func(err error) {
			s.log.Warn("voice agent session failed", "err", err)
			_ = s.twilio.Close()
		},
	}, s.log)
	if err != nil {
		return err
	}
	s.agent = agent
	s.log.Info("call bridged", "stream_sid", s.streamSid)
	if s.bridge.Calls != nil {
		if err := s.bridge.Calls.LogBridged(ctx, s.merchantID, s.callSid, s.streamSid); err != nil {
			s.log.Warn("call log append failed", "err", err)
		}
	}
	return nil
}

// loggedExecutor records each tool invocation before delegating.
type loggedExecutor struct {
	inner   voiceagent.ToolExecutor
	calls   *calllog.Service
	callSid string
}

func (e loggedExecutor) Execute(ctx context.Context, merchantID, toolName string, args json.RawMessage) json.RawMessage {
	_ = e.calls.LogTool(ctx, merchantID, e.callSid, toolName)
	return e.inner.Execute(ctx, merchantID, toolName, args)
}

// loadConfig reads the merchant's configuration, via a short-lived
// Redis cache when available. Settings edits mid-call are not picked
// up; the snapshot is immutable for the call's duration anyway.
func (s *session) loadConfig(ctx context.Context) (store.MerchantConfig, error) {
	key := "merchant_config:" + s.merchantID
	if s.bridge.Redis != nil {
		var cached store.MerchantConfig
		hit, err := utils.CacheGetJSON(ctx, s.bridge.Redis, key, &cached)
		if err != nil {
			s.log.Warn("config cache read failed", "err", err)
		} else if hit {
			return cached, nil
		}
	}
	cfg, err := s.bridge.Merchants.GetConfig(ctx, s.merchantID)
	if err != nil {
		return store.MerchantConfig{}, err
	}
	if s.bridge.Redis != nil {
		if err := utils.CacheSetJSON(ctx, s.bridge.Redis, key, cfg, configCacheTTL); err != nil {
			s.log.Warn("config cache write failed", "err", err)
		}
	}
	return cfg, nil
}

// playAudio runs on the agent's read loop; only the stream sid from the
// already-received start frame is touched.
func (s *session) playAudio(b64 string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.twilio.WriteJSON(outboundMedia(s.streamSid, b64)); err != nil {
		s.log.Debug("agent audio write failed", "err", err)
	}
}

func (s *session) logTranscript(role, text string) {
	s.log.Debug("transcript", "role", role, "text", text)
}

func (s *session) cleanup() {
	if s.agent != nil {
		s.agent.Close()
		select {
		case <-s.agent.Done():
		case <-time.After(5 * time.Second):
			s.log.Warn("voice agent session did not drain")
		}
		if s.bridge.Calls != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.bridge.Calls.LogEnded(ctx, s.merchantID, s.callSid)
			cancel()
		}
	}
	if s.slotKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(ctx, s.bridge.Redis, s.slotKey); err != nil {
			s.log.Warn("call slot release failed", "err", err)
		}
	}
	s.writeMu.Lock()
	_ = s.twilio.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	s.writeMu.Unlock()
	_ = s.twilio.Close()
}
