package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/san-kum/slservo/internal/shm"
)

func newTestMailbox(t *testing.T, cfg Config) *Mailbox {
	t.Helper()
	reg := shm.NewRegistry(0, nil)
	t.Cleanup(reg.Close)
	m, err := Open(reg, "task", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMailbox_FIFO(t *testing.T) {
	m := newTestMailbox(t, DefaultConfig())
	ctx := context.Background()

	for i, name := range []string{"m1", "m2", "m3"} {
		if err := m.Post(name, []byte{byte(i), byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	n, err := m.Drain(ctx, func(name string, payload []byte) {
		got = append(got, fmt.Sprintf("%s:%v", name, payload))
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("drained %d, want 3", n)
	}
	want := "m1:[0 0] m2:[1 1] m3:[2 2]"
	if strings.Join(got, " ") != want {
		t.Errorf("order = %v, want %s", got, want)
	}

	pending, err := m.Pending()
	if err != nil || pending != 0 {
		t.Errorf("Pending = %d, %v after drain", pending, err)
	}
}

func TestMailbox_EmptyDrainDoesNotBlock(t *testing.T) {
	m := newTestMailbox(t, DefaultConfig())
	n, err := m.Drain(context.Background(), func(string, []byte) {
		t.Error("handler called on empty mailbox")
	})
	if n != 0 || err != nil {
		t.Errorf("Drain = %d, %v", n, err)
	}
}

func TestMailbox_Capacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessages = 2
	cfg.MaxBytes = 10
	m := newTestMailbox(t, cfg)

	tests := []struct {
		name    string
		msg     string
		payload []byte
		wantErr error
	}{
		{"fits", "a", make([]byte, 6), nil},
		{"over budget", "b", make([]byte, 5), ErrBudget},
		{"fills budget", "c", make([]byte, 4), nil},
		{"over count", "d", nil, ErrFull},
		{"empty name", "", nil, ErrName},
		{"long name", strings.Repeat("x", NameLen+1), nil, ErrName},
		{"non ascii", "zé", nil, ErrName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Post(tt.msg, tt.payload)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var names []string
	_, _ = m.Drain(context.Background(), func(name string, _ []byte) { names = append(names, name) })
	if strings.Join(names, ",") != "a,c" {
		t.Errorf("rejected posts reached the queue: %v", names)
	}
	if s := m.Stats(); s.Posted != 2 || s.Rejected != 5 || s.Drained != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMailbox_MaxLengthName(t *testing.T) {
	m := newTestMailbox(t, DefaultConfig())
	name := strings.Repeat("n", NameLen)
	if err := m.Post(name, nil); err != nil {
		t.Fatal(err)
	}
	msgs, _ := m.Take(context.Background())
	if len(msgs) != 1 || msgs[0].Name != name {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestMailbox_PostDuringDrainSeenNextTick(t *testing.T) {
	m := newTestMailbox(t, DefaultConfig())
	ctx := context.Background()
	_ = m.Post("first", nil)

	var seen []string
	_, _ = m.Drain(ctx, func(name string, _ []byte) {
		seen = append(seen, name)
		if name == "first" {
			if err := m.Post("second", nil); err != nil {
				t.Error(err)
			}
		}
	})
	if len(seen) != 1 {
		t.Fatalf("first drain saw %v", seen)
	}
	_, _ = m.Drain(ctx, func(name string, _ []byte) { seen = append(seen, name) })
	if strings.Join(seen, ",") != "first,second" {
		t.Errorf("seen = %v", seen)
	}
}

func TestSendAndDispatch(t *testing.T) {
	m := newTestMailbox(t, DefaultConfig())
	d := NewDispatcher(nil)

	var moved MoveObject
	d.Handle(CmdMoveObject, func(p []byte) error { return Decode(p, &moved) })
	d.Handle(CmdStatus, func([]byte) error { return errors.New("no status") })

	want := MoveObject{Name: "floor", Pos: [3]float64{0, 0, -1}, Rot: [3]float64{0, 0.5, 0}}
	if err := m.Send(CmdMoveObject, want); err != nil {
		t.Fatal(err)
	}
	_ = m.Post("bogus", nil)
	_ = m.Post(CmdStatus, nil)

	if _, err := m.Drain(context.Background(), d.Dispatch); err != nil {
		t.Fatal(err)
	}
	if moved != want {
		t.Errorf("moved = %+v, want %+v", moved, want)
	}
	if d.Unknown() != 1 || d.Failed() != 1 {
		t.Errorf("unknown=%d failed=%d", d.Unknown(), d.Failed())
	}
	if names := d.Names(); len(names) != 2 || names[0] != CmdMoveObject {
		t.Errorf("Names = %v", names)
	}
}
