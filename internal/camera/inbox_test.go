package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsPhoto(t *testing.T) {
	tests := map[string]bool{
		"IMG_0001.JPG":         true,
		"shot.jpeg":            true,
		"/tmp/inbox/frame.png": true,
		"sticker.webp":         true,
		"notes.txt":            false,
		".hidden.jpg":          false,
		"photo.jpg~":           false,
		"photo.jpg.crdownload": false,
		"/tmp/inbox/no-ext":    false,
	}
	for path, want := range tests {
		if got := IsPhoto(path); got != want {
			t.Errorf("IsPhoto(%q) = %v, want %v", path, got, want)
		}
	}
}

func startInbox(t *testing.T) (*Inbox, string) {
	t.Helper()
	dir := t.TempDir()
	in, err := NewInbox(dir, WithSettle(30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewInbox: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = in.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = in.Close()
	})
	return in, in.Dir()
}

func TestInboxReportsSettledPhoto(t *testing.T) {
	in, dir := startInbox(t)

	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o600)

	path := filepath.Join(dir, "photo.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_, _ = f.Write([]byte("chunk"))
		time.Sleep(5 * time.Millisecond)
	}
	_ = f.Close()

	select {
	case got := <-in.Photos():
		if got != path {
			t.Fatalf("got %s, want %s", got, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("photo was never reported")
	}

	select {
	case extra := <-in.Photos():
		t.Fatalf("photo reported twice: %s", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestInboxKeepsNewest(t *testing.T) {
	in, dir := startInbox(t)

	_ = os.WriteFile(filepath.Join(dir, "a.png"), []byte("a"), 0o600)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "b.png"), []byte("b"), 0o600)
	time.Sleep(200 * time.Millisecond)

	select {
	case got := <-in.Photos():
		if filepath.Base(got) != "b.png" {
			t.Fatalf("got %s, want the newest photo", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no photo reported")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	in, err := NewInbox(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestInboxReportsRenamedPhotoUnderNewName(t *testing.T) {
	in, dir := startInbox(t)

	tmp := filepath.Join(dir, "tmp.jpg")
	final := filepath.Join(dir, "final.jpg")
	if err := os.WriteFile(tmp, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-in.Photos():
		if got != final {
			t.Fatalf("got %s, want %s", got, final)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("renamed photo was never reported")
	}

	select {
	case extra := <-in.Photos():
		t.Fatalf("unexpected photo: %s", extra)
	case <-time.After(150 * time.Millisecond):
	}
}
