package voiceagent

import (
	"testing"
)

func TestDecodeServerEventKnownTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"session created", `{"type":"session.created","session":{}}`, "session.created"},
		{"session updated", `{"type":"session.updated"}`, "session.updated"},
		{"audio delta", `{"type":"response.output_audio.delta","delta":"bXUtbGF3"}`, "response.output_audio.delta"},
		{"assistant transcript", `{"type":"response.output_audio_transcript.delta","delta":"Hel"}`, "response.output_audio_transcript.delta"},
		{"caller transcript", `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hi"}`, "conversation.item.input_audio_transcription.completed"},
		{"tool call", `{"type":"response.function_call_arguments.done","call_id":"c1","name":"lookup_customer","arguments":"{}"}`, "response.function_call_arguments.done"},
		{"api error", `{"type":"error","error":{"message":"boom"}}`, "error"},
	}
	for _, tc := range cases {
		ev, err := decodeServerEvent([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ev.eventType() != tc.want {
			t.Errorf("%s: eventType=%q, want %q", tc.name, ev.eventType(), tc.want)
		}
	}
}

func TestDecodeServerEventFields(t *testing.T) {
	ev, err := decodeServerEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_9","name":"create_booking","arguments":"{\"service\":\"Haircut\"}"}`))
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := ev.(toolCallEvent)
	if !ok {
		t.Fatalf("got %T, want toolCallEvent", ev)
	}
	if tc.CallID != "call_9" || tc.Name != "create_booking" {
		t.Errorf("unexpected fields: %+v", tc)
	}
	if tc.Arguments != `{"service":"Haircut"}` {
		t.Errorf("arguments = %q", tc.Arguments)
	}
}

func TestDecodeServerEventUnknownTypeTolerated(t *testing.T) {
	ev, err := decodeServerEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
	ue, ok := ev.(unknownEvent)
	if !ok {
		t.Fatalf("got %T, want unknownEvent", ev)
	}
	if ue.Type != "rate_limits.updated" {
		t.Errorf("Type = %q", ue.Type)
	}
}

func TestDecodeServerEventMalformed(t *testing.T) {
	if _, err := decodeServerEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := decodeServerEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Error("expected error for missing type")
	}
}
