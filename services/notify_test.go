package services

import (
	"context"
	"testing"

	"github.com/GrainArc/MapEditor/interaction"
	"github.com/GrainArc/MapEditor/models"
)

func TestNotifierSubscribe(t *testing.T) {
	n := NewNotifier()
	var a, b []EventType
	cancelA := n.Subscribe(func(e Event) { a = append(a, e.Type) })
	n.Subscribe(func(e Event) { b = append(b, e.Type) })

	n.FeaturesChanged("wells", "1")
	cancelA()
	cancelA()
	n.Publish(Event{Type: EventLayersChanged})

	if len(a) != 2 || a[0] != EventFeaturesChanged || a[1] != EventTableRefresh {
		t.Errorf("a = %v", a)
	}
	if len(b) != 3 || b[2] != EventLayersChanged {
		t.Errorf("b = %v", b)
	}

	var nilNotifier *Notifier
	nilNotifier.Publish(Event{Type: EventInfo})
}

func TestControllerHooks(t *testing.T) {
	fx := newFixture(t)
	var got []EventType
	fx.svc.Notifier.Subscribe(func(e Event) { got = append(got, e.Type) })
	c := interaction.NewController(fx.svc.Project, fx.svc, ControllerHooks(fx.svc.Notifier, fx.recorder))
	ctx := context.Background()

	if _, err := c.StartDrawing(ctx, "wells"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ChangeMode(ctx, interaction.ModeInfo); err != nil {
		t.Fatal(err)
	}
	var sessions int64
	fx.recorder.DB.Model(&models.EditSession{}).Where("status = ?", models.SessionRolledBack).Count(&sessions)
	if sessions != 1 {
		t.Errorf("rolled back sessions = %d", sessions)
	}

	want := []EventType{EventModeChanged, EventSession, EventSession, EventModeChanged}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
