package browser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestBlockList(t *testing.T) {
	bl := newBlockList([]string{"images", " Fonts ", "script"})
	cases := map[proto.NetworkResourceType]bool{
		proto.NetworkResourceTypeImage:      true,
		proto.NetworkResourceTypeFont:       true,
		proto.NetworkResourceTypeScript:     true,
		proto.NetworkResourceTypeStylesheet: false,
		proto.NetworkResourceTypeDocument:   false,
	}
	for typ, want := range cases {
		if got := bl.blocks(typ); got != want {
			t.Errorf("blocks(%s): got %v, want %v", typ, got, want)
		}
	}
	if !newBlockList(nil).empty() || !newBlockList([]string{"nonsense"}).empty() {
		t.Error("unknown names must not block anything")
	}
}

func TestHeapUsed(t *testing.T) {
	metrics := []*proto.PerformanceMetric{
		{Name: "Nodes", Value: 120},
		{Name: "JSHeapUsedSize", Value: 4 << 20},
		{Name: "JSHeapTotalSize", Value: 8 << 20},
	}
	if got := heapUsed(metrics); got != 4<<20 {
		t.Errorf("heapUsed: got %d", got)
	}
	if heapUsed(nil) != 0 {
		t.Error("heapUsed(nil) != 0")
	}
}

func TestRecycleReason(t *testing.T) {
	m := NewManager(Config{MemoryLimit: 100, RecycleInterval: time.Hour})
	cases := []struct {
		uptime time.Duration
		heap   int64
		want   string
	}{
		{time.Minute, 10, ""},
		{2 * time.Hour, 10, "interval"},
		{time.Minute, 101, "memory"},
	}
	for _, tc := range cases {
		if got := m.recycleReason(tc.uptime, tc.heap); got != tc.want {
			t.Errorf("recycleReason(%v, %d): got %q, want %q", tc.uptime, tc.heap, got, tc.want)
		}
	}
}

func TestManager_ClosedRejectsStart(t *testing.T) {
	m := NewManager(Config{})
	m.Close()
	if err := m.Start(t.Context()); err != ErrClosed {
		t.Fatalf("Start after Close: got %v", err)
	}
	if m.Browser() != nil {
		t.Error("browser after Close")
	}
}

func TestDisplaySocket(t *testing.T) {
	cases := []struct {
		display string
		want    string
		ok      bool
	}{
		{":99", "/tmp/.X11-unix/X99", true},
		{":1.0", "/tmp/.X11-unix/X1", true},
		{"host:0", "", false},
		{":abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := displaySocket(tc.display)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("displaySocket(%q): got %q, %v", tc.display, got, err)
		}
	}
}

func TestWaitSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X42")
	never := make(chan struct{})

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(path, nil, 0o600)
	}()
	if err := waitSocket(path, never, 5*time.Second); err != nil {
		t.Fatalf("appearing socket: %v", err)
	}

	exited := make(chan struct{})
	close(exited)
	err := waitSocket(filepath.Join(t.TempDir(), "X43"), exited, 5*time.Second)
	if !errors.Is(err, errXvfbExited) {
		t.Errorf("exited process: got %v, want %v", err, errXvfbExited)
	}

	if err := waitSocket(filepath.Join(t.TempDir(), "X44"), never, 100*time.Millisecond); err == nil {
		t.Error("missing socket: want timeout error")
	}
}
