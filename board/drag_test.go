package board

import (
	"context"
	"reflect"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"sticky-board/backend"
	"sticky-board/domain"
)

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(domain.Task{ID: "a", Text: "alpha", Status: domain.StatusTodo, ColorClass: "blue"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, ok := ParsePayload(raw)
	if !ok {
		t.Fatalf("expected payload to parse: %s", raw)
	}
	if p != (Payload{ID: "a", Text: "alpha", Status: domain.StatusTodo}) {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestParsePayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2]", `{"text":"no id"}`, `"a"`} {
		if _, ok := ParsePayload([]byte(raw)); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestDropMovesToHeadOfTarget(t *testing.T) {
	stub := newStub(seed()...)
	b := setupBoard(t, stub)
	raw, _ := EncodePayload(domain.Task{ID: "c", Text: "gamma", Status: domain.StatusCompleted})

	moved, err := b.Drop(context.Background(), raw, domain.StatusTodo)
	if err != nil || !moved {
		t.Fatalf("expected move, got %v %v", moved, err)
	}
	tasks := b.Tasks()
	if got := taskIDs(tasks); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if tasks[0].Status != domain.StatusTodo {
		t.Fatalf("expected status todo, got %s", tasks[0].Status)
	}
}

func TestDropOnSameColumnIsNoop(t *testing.T) {
	stub := newStub(seed()...)
	b := setupBoard(t, stub)
	before := stub.callCount()
	raw, _ := EncodePayload(domain.Task{ID: "a", Status: domain.StatusTodo})

	moved, err := b.Drop(context.Background(), raw, domain.StatusTodo)
	if err != nil || moved {
		t.Fatalf("expected no move, got %v %v", moved, err)
	}
	if stub.callCount() != before {
		t.Fatalf("expected no backend call")
	}
}

func TestDropMalformedPayloadIsLoggedAndIgnored(t *testing.T) {
	stub := newStub(seed()...)
	logger, hook := test.NewNullLogger()
	b := New(fixedRouter{be: stub, mode: backend.ModeLocal}, WithLogger(logger))
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := b.Tasks()

	moved, err := b.Drop(context.Background(), []byte("{broken"), domain.StatusProgress)
	if err != nil || moved {
		t.Fatalf("expected silent no-op, got %v %v", moved, err)
	}
	if !reflect.DeepEqual(before, b.Tasks()) {
		t.Fatalf("expected collection unchanged")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Message != "ignoring unreadable drag payload" {
		t.Fatalf("expected warning to be logged, got %+v", entry)
	}
}
