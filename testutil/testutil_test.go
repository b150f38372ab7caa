package testutil_test

import (
	"context"
	"testing"

	"github.com/kbukum/conduit/component"
	"github.com/kbukum/conduit/stream"
	"github.com/kbukum/conduit/testutil"
)

type recordingComponent struct {
	started, stopped bool
}

func (r *recordingComponent) Name() string { return "recording" }

func (r *recordingComponent) Start(context.Context) error {
	r.started = true
	return nil
}

func (r *recordingComponent) Stop(context.Context) error {
	r.stopped = true
	return nil
}

func (r *recordingComponent) Health(context.Context) component.Health {
	return component.Health{Name: r.Name(), Status: component.StatusHealthy}
}

func TestStartComponent(t *testing.T) {
	c := &recordingComponent{}
	t.Run("inner", func(t *testing.T) {
		testutil.StartComponent(t, c)
		if !c.started {
			t.Error("expected the component to be started")
		}
	})
	if !c.stopped {
		t.Error("expected the component to be stopped at cleanup")
	}
}

func TestOpenStore(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()

	ds, err := s.Create(ctx, "k", stream.Names("a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Append(ctx, ds, []stream.Tuple{{stream.Int(1)}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Seal(ctx, ds); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if found, err := s.Find(ctx, "k"); err != nil || found == nil || found.Rows != 1 {
		t.Errorf("expected one sealed row, got %+v (err=%v)", found, err)
	}
}
