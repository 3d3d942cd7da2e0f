package analytics

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTrackDeliversToSinks(t *testing.T) {
	tr := New(nil)

	var mu sync.Mutex
	var got []Event
	if err := tr.AddSink(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	tr.Track(EventAppOpen, nil)
	tr.Track(EventAutoRead, map[string]interface{}{"enabled": false})
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Name != EventAppOpen || got[1].Name != EventAutoRead {
		t.Fatalf("unexpected order: %s, %s", got[0].Name, got[1].Name)
	}
	if got[0].DistinctID == "" || got[0].DistinctID != got[1].DistinctID {
		t.Fatalf("distinct id should be stable and non-empty")
	}
	if got[1].Properties["enabled"] != false {
		t.Fatalf("properties lost: %v", got[1].Properties)
	}
}

func TestDisabledTrackerDropsEvents(t *testing.T) {
	tr := New(nil)
	calls := 0
	_ = tr.AddSink(func(Event) { calls++ })
	tr.SetEnabled(false)
	tr.Track(EventPhotoTaken, nil)
	_ = tr.Close()
	if calls != 0 {
		t.Fatalf("disabled tracker delivered %d events", calls)
	}
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tr := New(nil)
	if err := tr.AddFileSink(path); err != nil {
		t.Fatal(err)
	}
	tr.Track(EventPhotoTaken, map[string]interface{}{"prefetched": true})
	tr.Track(EventRetake, nil)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close() //nolint:errcheck

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := sonic.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != EventPhotoTaken || names[1] != EventRetake {
		t.Fatalf("events in file: %v", names)
	}
}

func TestSlowSinkDoesNotBlockTrack(t *testing.T) {
	tr := New(nil)

	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	if err := tr.AddSink(func(e Event) {
		<-release
		mu.Lock()
		got = append(got, e.Name)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	returned := make(chan struct{})
	go func() {
		tr.Track(EventAppOpen, nil)
		tr.Track(EventPhotoTaken, nil)
		tr.Track(EventRetake, nil)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Track waited for a blocked sink")
	}

	close(release)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{EventAppOpen, EventPhotoTaken, EventRetake}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}

	// Events after Close are dropped.
	tr.Track(EventAppOpen, nil)
}
