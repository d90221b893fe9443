package monitor

import "testing"

func TestEventBusOrderAndUnsubscribe(t *testing.T) {
	eb := NewEventBus(quietLogger())
	var got []string
	eb.On(EventLogin, func(Event) { got = append(got, "first") })
	unsub := eb.OnAll(func(Event) { got = append(got, "all") })
	eb.On(EventLogin, func(Event) { got = append(got, "third") })
	eb.On(EventLogout, func(Event) { got = append(got, "other") })

	eb.Emit(Event{Type: EventLogin})
	want := []string{"first", "all", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	got = nil
	unsub()
	eb.Emit(Event{Type: EventLogin})
	if len(got) != 2 {
		t.Errorf("after unsubscribe got %v", got)
	}
}

func TestEventBusRecoversPanics(t *testing.T) {
	eb := NewEventBus(quietLogger())
	called := false
	eb.On(EventServerError, func(Event) { panic("boom") })
	eb.On(EventServerError, func(Event) { called = true })
	eb.Emit(Event{Type: EventServerError})
	if !called {
		t.Error("handler after panicking one was not called")
	}
}
