package rt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "posix", false},
		{"posix", "posix", false},
		{"virtual", "virtual", false},
		{"vxworks", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && b.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", b.Name(), tt.want)
			}
		})
	}
}

func TestVirtual_SleepUntilAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	v := NewVirtual(start)
	ctx := context.Background()

	deadline := start.Add(time.Millisecond)
	if err := v.SleepUntil(ctx, deadline); err != nil {
		t.Fatal(err)
	}
	if !v.Now().Equal(deadline) {
		t.Errorf("Now = %v, want %v", v.Now(), deadline)
	}

	// Past deadlines never move the clock backwards.
	if err := v.SleepUntil(ctx, start); err != nil {
		t.Fatal(err)
	}
	if !v.Now().Equal(deadline) {
		t.Error("clock moved backwards")
	}

	v.Advance(5 * time.Millisecond)
	if got := v.Now().Sub(start); got != 6*time.Millisecond {
		t.Errorf("elapsed = %v, want 6ms", got)
	}
}

func TestPosix_SleepUntilHonoursContext(t *testing.T) {
	p := NewPosix()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.SleepUntil(ctx, time.Now().Add(time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	start := time.Now()
	if err := p.SleepUntil(context.Background(), start.Add(10*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("woke before deadline")
	}
}

func TestMutex_TryLock(t *testing.T) {
	for _, b := range []Backend{NewPosix(), NewVirtual(time.Time{})} {
		t.Run(b.Name(), func(t *testing.T) {
			m := b.NewMutex()
			if !m.TryLock() {
				t.Fatal("TryLock on free mutex failed")
			}
			if m.TryLock() {
				t.Error("TryLock on held mutex succeeded")
			}
			m.Unlock()
			m.Lock()
			m.Unlock()
		})
	}
}

func TestSpawn_ReturnsError(t *testing.T) {
	want := errors.New("boom")
	for _, b := range []Backend{NewPosix(), NewVirtual(time.Time{})} {
		t.Run(b.Name(), func(t *testing.T) {
			task := b.Spawn(context.Background(), TaskParams{Name: "t", CPU: -1}, func(ctx context.Context) error {
				return want
			})
			if err := task.Wait(); !errors.Is(err, want) {
				t.Errorf("Wait = %v, want %v", err, want)
			}
			if task.Params().Name != "t" {
				t.Error("params not kept")
			}
		})
	}
}
