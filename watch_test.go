package topng

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "icon.bmp")
	dst := filepath.Join(dir, "icon.png")
	writeImage(t, src, "bmp", testImage(8, 8))

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, src)
	}()

	waitForSize(t, dst, image.Pt(8, 8))
	writeImage(t, src, "bmp", testImage(24, 12))
	waitForSize(t, dst, image.Pt(24, 12))

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestWatchError(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		src  string
	}{
		{"missing file", filepath.Join(dir, "missing.bmp")},
		{"png overwriting itself", filepath.Join(dir, "self.png")},
	}
	writeImage(t, filepath.Join(dir, "self.png"), "png", testImage(4, 4))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New()
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Watch(ctx, tt.src); err == nil {
				t.Error("want error")
			}
		})
	}
}

func waitForSize(t *testing.T, path string, want image.Point) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var got image.Point
	for time.Now().Before(deadline) {
		if f, err := os.Open(path); err == nil {
			cfg, err := png.DecodeConfig(f)
			_ = f.Close()
			if err == nil {
				got = image.Pt(cfg.Width, cfg.Height)
				if got == want {
					return
				}
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s size = %v, want %v", path, got, want)
}
