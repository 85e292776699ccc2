package rabbitmq

import (
	"testing"

	"github.com/rabbitmq/amqp091-go"
)

type settleRecorder struct {
	acks     int
	nacks    int
	requeued bool
}

func (s *settleRecorder) Ack(tag uint64, multiple bool) error {
	s.acks++
	return nil
}

func (s *settleRecorder) Nack(tag uint64, multiple, requeue bool) error {
	s.nacks++
	s.requeued = requeue
	return nil
}

func (s *settleRecorder) Reject(tag uint64, requeue bool) error {
	return s.Nack(tag, false, requeue)
}

func TestHandleDelivery(t *testing.T) {
	body := []byte(`{"session_id":"SESS-0000000001"}`)
	accept := func([]byte) bool { return true }
	reject := func([]byte) bool { return false }

	tests := []struct {
		name        string
		routingKey  string
		handler     Handler
		redelivered bool
		wantAcks    int
		wantNacks   int
		wantRequeue bool
	}{
		{name: "handled", routingKey: "donation.completed", handler: accept, wantAcks: 1},
		{name: "unbound key is dropped", routingKey: "donation.refunded", handler: accept, wantAcks: 1},
		{name: "rejected once is requeued", routingKey: "donation.completed", handler: reject, wantNacks: 1, wantRequeue: true},
		{name: "rejected redelivery is dropped", routingKey: "donation.completed", handler: reject, redelivered: true, wantNacks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &settleRecorder{}
			handlers := map[string]Handler{"donation.completed": tt.handler}
			handleDelivery("donation.courier", handlers, amqp091.Delivery{
				Acknowledger: rec,
				RoutingKey:   tt.routingKey,
				Redelivered:  tt.redelivered,
				Body:         body,
			})
			if rec.acks != tt.wantAcks || rec.nacks != tt.wantNacks || rec.requeued != tt.wantRequeue {
				t.Fatalf("acks=%d nacks=%d requeued=%v", rec.acks, rec.nacks, rec.requeued)
			}
		})
	}
}

func TestEventSessionID(t *testing.T) {
	if got := eventSessionID([]byte(`{"session_id":"SESS-0000000001","quantity":2}`)); got != "SESS-0000000001" {
		t.Fatalf("got %q", got)
	}
	for _, body := range []string{"not json", `{"quantity":2}`, ""} {
		if got := eventSessionID([]byte(body)); got != "unknown" {
			t.Fatalf("body %q: got %q", body, got)
		}
	}
}
