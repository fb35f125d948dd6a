package engine_test

import (
	"testing"

	"github.com/seantiz/testrig/internal/engine"
	"github.com/seantiz/testrig/internal/model"
)

func out(seq int, s string) model.LogLine {
	return model.LogLine{InvocationID: "i1", Seq: seq, Stream: model.StreamStdout, Line: s}
}

func drain(ch <-chan model.LogLine) []string {
	var got []string
	for l := range ch {
		got = append(got, l.Line)
	}
	return got
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("i1")
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for i, l := range lines {
		b.Publish("i1", out(i, l))
	}
	b.Close("i1")

	got := drain(ch)
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerKeepsStream(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("i1")
	defer unsub()

	b.Publish("i1", model.LogLine{Seq: 0, Stream: model.StreamStderr, Line: "oops"})
	b.Close("i1")

	l, ok := <-ch
	if !ok {
		t.Fatal("expected a line before close")
	}
	if l.Stream != model.StreamStderr || l.Line != "oops" {
		t.Errorf("got %+v, want stderr line oops", l)
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("i1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("i1")
	defer unsub2()

	b.Publish("i1", out(0, "hello"))
	b.Close("i1")

	got1, got2 := drain(ch1), drain(ch2)
	if len(got1) != 1 || got1[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got1)
	}
	if len(got2) != 1 || got2[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got2)
	}
}

func TestLogBrokerCloseClosesChannels(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("i1")
	defer unsub()

	b.Close("i1")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close()")
	}
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("i1", out(0, "early"))
	b.Close("i1")

	ch, unsub := b.Subscribe("i1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("i1")
	unsub()

	b.Publish("i1", out(0, "after unsub"))
	b.Close("i1")

	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got unexpected line %q after unsubscribe", l.Line)
		}
	default:
	}
}

func TestLogBrokerPublishToUnknownInvocationIsNoop(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("nonexistent", out(0, "line"))
	b.Close("nonexistent")
}

func TestLogBrokerLateSubscriberMissesEarlierLines(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("i1")
	defer unsub1()

	b.Publish("i1", out(0, "line 1"))

	ch2, unsub2 := b.Subscribe("i1")
	defer unsub2()

	b.Publish("i1", out(1, "line 2"))
	b.Close("i1")

	got1, got2 := drain(ch1), drain(ch2)
	if len(got1) != 2 {
		t.Errorf("subscriber 1 got %d lines, want 2", len(got1))
	}
	if len(got2) != 1 || got2[0] != "line 2" {
		t.Errorf("late subscriber got %v, want [line 2]", got2)
	}
}
