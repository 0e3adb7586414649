package topng

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/k1LoW/errors"
)

const defaultDebounce = 200 * time.Millisecond

// Watch converts src, then converts it again every time it changes until ctx is done.
// Only the first conversion's error is returned; later failures are logged.
func (c *Converter) Watch(ctx context.Context, src string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	if OutputPath(abs) == abs {
		return fmt.Errorf("cannot watch %s: it would be overwritten by its own output", src)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory so that editors replacing the file by rename are noticed.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if _, err := c.Convert(ctx, src); err != nil {
		return err
	}
	c.logger.Info("watching", slog.String("src", src))

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.logger.Info("watch stopped", slog.String("src", src))
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(defaultDebounce)
			} else {
				timer.Reset(defaultDebounce)
			}
			trigger = timer.C
		case <-trigger:
			trigger = nil
			if _, err := c.Convert(ctx, src); err != nil {
				c.logger.Error("failed to convert image", slog.String("src", src), slog.String("error", err.Error()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
