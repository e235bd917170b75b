package voiceagent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire types for the OpenAI Realtime WebSocket protocol. Only the
// events the relay acts on are modelled; everything else decodes to
// unknownEvent and is logged, never errored, so new upstream event
// types cannot drop a live call.

/* ===================== client -> server ===================== */

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities         []string         `json:"modalities"`
	Instructions       string           `json:"instructions"`
	Voice              string           `json:"voice"`
	InputAudioFormat   string           `json:"input_audio_format"`
	OutputAudioFormat  string           `json:"output_audio_format"`
	InputTranscription *transcription   `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetection   `json:"turn_detection,omitempty"`
	Tools              []toolDefinition `json:"tools,omitempty"`
	ToolChoice         string           `json:"tool_choice,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMS int    `json:"silence_duration_ms,omitempty"`
}

type toolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type responseCreateEvent struct {
	Type     string          `json:"type"`
	Response *responseConfig `json:"response,omitempty"`
}

type responseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

/* ===================== server -> client ===================== */

type serverEvent interface {
	eventType() string
}

type sessionReadyEvent struct{ Type string }

func (e sessionReadyEvent) eventType() string { return e.Type }

type audioDeltaEvent struct{ Delta string }

func (e audioDeltaEvent) eventType() string { return "response.output_audio.delta" }

type assistantTranscriptDeltaEvent struct{ Delta string }

func (e assistantTranscriptDeltaEvent) eventType() string {
	return "response.output_audio_transcript.delta"
}

type callerTranscriptEvent struct{ Transcript string }

func (e callerTranscriptEvent) eventType() string {
	return "conversation.item.input_audio_transcription.completed"
}

type toolCallEvent struct {
	CallID    string
	Name      string
	Arguments string
}

func (e toolCallEvent) eventType() string { return "response.function_call_arguments.done" }

type apiErrorEvent struct{ Message string }

func (e apiErrorEvent) eventType() string { return "error" }

type unknownEvent struct{ Type string }

func (e unknownEvent) eventType() string { return e.Type }

// decodeServerEvent is a closed match over the event-type set in use,
// with unknown types passed through for the caller to log.
func decodeServerEvent(data []byte) (serverEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event missing type")
	}

	switch typ {
	case "session.created", "session.updated":
		return sessionReadyEvent{Type: typ}, nil

	case "response.output_audio.delta":
		var ev struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return audioDeltaEvent{Delta: ev.Delta}, nil

	case "response.output_audio_transcript.delta":
		var ev struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode transcript delta: %w", err)
		}
		return assistantTranscriptDeltaEvent{Delta: ev.Delta}, nil

	case "conversation.item.input_audio_transcription.completed":
		var ev struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode caller transcript: %w", err)
		}
		return callerTranscriptEvent{Transcript: ev.Transcript}, nil

	case "response.function_call_arguments.done":
		var ev struct {
			CallID    string `json:"call_id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode function call: %w", err)
		}
		return toolCallEvent{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments}, nil

	case "error":
		var ev struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return apiErrorEvent{Message: ev.Error.Message}, nil

	default:
		return unknownEvent{Type: typ}, nil
	}
}
