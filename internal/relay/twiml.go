package relay

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML response builder. It intentionally avoids any provider
// SDK dependency; only the verbs the relay answers with are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

// twimlParameter is echoed back by Twilio in the start frame's
// customParameters map.
type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamTwiML answers an accepted call: connect the caller's audio to
// the media stream endpoint. The caller number, when known, rides along
// as a custom parameter so the stream handler can recover it.
func StreamTwiML(streamURL, callerPhone string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("relay: stream url required")
	}
	stream := &twimlStream{URL: streamURL}
	if callerPhone != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "caller", Value: callerPhone})
	}
	return render(twimlResponse{Verbs: []any{
		twimlConnect{Stream: stream},
	}})
}

// RejectTwiML answers a call we cannot take: apologise, then hang up.
func RejectTwiML(message string) (string, error) {
	return render(twimlResponse{Verbs: []any{
		twimlSay{Text: message},
		twimlHangup{},
	}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
