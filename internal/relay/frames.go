package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Twilio Media Streams wire frames. Twilio sends JSON text frames over
// the WebSocket; audio payloads are base64 μ-law at 8kHz in both
// directions, so the relay never touches the samples.
// Ref: https://www.twilio.com/docs/voice/media-streams/websocket-messages

const (
	frameConnected = "connected"
	frameStart     = "start"
	frameMedia     = "media"
	frameStop      = "stop"
	frameMark      = "mark"
)

type twilioFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

func decodeTwilioFrame(data []byte) (twilioFrame, error) {
	var f twilioFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return twilioFrame{}, fmt.Errorf("relay: decode frame: %w", err)
	}
	if strings.TrimSpace(f.Event) == "" {
		return twilioFrame{}, fmt.Errorf("relay: frame missing event")
	}
	return f, nil
}

// outboundMedia wraps one base64 agent audio chunk for the phone leg.
func outboundMedia(streamSid, b64 string) twilioFrame {
	return twilioFrame{
		Event:     frameMedia,
		StreamSid: streamSid,
		Media:     &mediaPayload{Payload: b64},
	}
}
