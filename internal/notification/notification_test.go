package notification

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/congo-pay/wallet-core/internal/logging"
)

func TestLoggerNotifierWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(logging.NewWithWriter(&buf, "info", "text"))

	err := n.Send(context.Background(), Message{
		Kind:        KindPaymentCredited,
		Destination: "wallet-1",
		Body:        "100 NOK credited",
		Attributes:  map[string]string{"reference_id": "P1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"kind=payment_credited", "destination=wallet-1", "reference_id=P1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestNilLoggerNotifierIsNoop(t *testing.T) {
	var n *LoggerNotifier
	if err := n.Send(context.Background(), Message{Kind: KindFundsReleased}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRecorderKeepsMessages(t *testing.T) {
	var r Recorder
	_ = r.Send(context.Background(), Message{Kind: KindFundsReleased, Destination: "w"})
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Destination != "w" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
