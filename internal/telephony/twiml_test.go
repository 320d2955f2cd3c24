package telephony

import (
	"strings"
	"testing"
)

func TestRenderOutboundTwiMLSayThenHangup(t *testing.T) {
	xml, err := RenderOutboundTwiML(OutboundScript{OpeningMessage: "Hi Ana & team", Voice: "alice"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{`<Say voice="alice">Hi Ana &amp; team</Say>`, "<Hangup></Hangup>"} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "<Connect") {
		t.Fatalf("unexpected connect without stream: %s", xml)
	}
}

func TestRenderOutboundTwiMLConnectsStream(t *testing.T) {
	xml, err := RenderOutboundTwiML(OutboundScript{
		OpeningMessage: "Hello",
		MediaStreamURL: "wss://media.example.com/agent",
		AgentID:        "agent-1",
		CallID:         "call-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Stream url="wss://media.example.com/agent">`,
		`<Parameter name="agent_id" value="agent-1"></Parameter>`,
		`<Parameter name="call_id" value="call-1"></Parameter>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "<Hangup") {
		t.Fatalf("unexpected hangup with stream: %s", xml)
	}
}

func TestRenderOutboundTwiMLRequiresContent(t *testing.T) {
	if _, err := RenderOutboundTwiML(OutboundScript{OpeningMessage: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}
