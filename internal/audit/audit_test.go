package audit

import (
	"context"
	"testing"
	"time"
)

func TestInMemory_RecordsEvents(t *testing.T) {
	sink := NewInMemory()
	ev := Event{Action: "dismiss", Actor: "user-1", Target: "rec-1", EntityType: "recommendation", Timestamp: time.Now()}
	if err := sink.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(sink.Events) != 1 || sink.Events[0].Action != "dismiss" {
		t.Fatalf("expected recorded event, got %+v", sink.Events)
	}
}

func TestDiscard_NeverErrors(t *testing.T) {
	var sink Discard
	if err := sink.Emit(context.Background(), Event{}); err != nil {
		t.Fatalf("Discard.Emit should never error, got %v", err)
	}
}
