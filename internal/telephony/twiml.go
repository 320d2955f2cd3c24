package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// OutboundScript is what an answered outbound call should play.
type OutboundScript struct {
	OpeningMessage string
	Voice          string
	Language       string

	// MediaStreamURL connects the call to the agent's media stream after the greeting.
	MediaStreamURL string
	AgentID        string
	CallID         string
}

// RenderOutboundTwiML maps an OutboundScript to TwiML.
// Without a media stream the call hangs up after the greeting.
func RenderOutboundTwiML(s OutboundScript) (string, error) {
	msg := strings.TrimSpace(s.OpeningMessage)
	stream := strings.TrimSpace(s.MediaStreamURL)
	if msg == "" && stream == "" {
		return "", errors.New("telephony: opening message or media stream required")
	}

	var r twimlResponse
	if msg != "" {
		r.Verbs = append(r.Verbs, twimlSay{Voice: s.Voice, Language: s.Language, Text: msg})
	}
	if stream != "" {
		st := twimlStream{URL: stream}
		if s.AgentID != "" {
			st.Parameters = append(st.Parameters, twimlParameter{Name: "agent_id", Value: s.AgentID})
		}
		if s.CallID != "" {
			st.Parameters = append(st.Parameters, twimlParameter{Name: "call_id", Value: s.CallID})
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: st})
	} else {
		r.Verbs = append(r.Verbs, twimlHangup{})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
