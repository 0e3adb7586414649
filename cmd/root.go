/*
Copyright © 2025 Ken'ichiro Oyama <k1lowxb@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/tail"
	"github.com/k1LoW/topng"
	"github.com/k1LoW/topng/config"
	"github.com/k1LoW/topng/handler/dot"
	"github.com/k1LoW/topng/version"
	"github.com/mattn/go-colorable"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

var (
	profile string
	watch   bool
	verbose bool
)

// number of log lines kept for error.json
const tailLines = 100

var (
	cfg *config.Config
	tb  = tail.New(tailLines)
)

var rootCmd = &cobra.Command{
	Use:   "topng PATH",
	Short: "topng converts an image file to PNG",
	Long: `topng converts an image file to PNG.

The image is decoded whatever format it is in (PPM/PGM/PBM, JPEG, GIF, BMP, TIFF,
WebP, PNG) and written next to it with its extension replaced by ".png".`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	Version:      fmt.Sprintf("%s (rev:%s)", version.Version, version.Revision),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var err error
		cfg, err = config.Load(profile)
		if err != nil {
			return err
		}
		logger := newLogger(cmd.OutOrStdout(), cmd.ErrOrStderr())
		c, err := topng.New(
			topng.WithLogger(logger),
			topng.WithFallbacks(cfg.Fallbacks),
		)
		if err != nil {
			return err
		}
		if watch {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Watch(ctx, args[0])
		}
		if _, err := c.Convert(ctx, args[0]); err != nil {
			return err
		}
		return nil
	},
}

type errorData struct {
	LatestLogs  []any     `json:"latest_logs"`
	StackTraces any       `json:"stack_traces"`
	CreatedAt   time.Time `json:"created_at"`
	Version     string    `json:"version"`
	Revision    string    `json:"revision"`
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if cfg.DumpErrorEnabled() {
			if err := dumpError(err); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&profile, "profile", "", "", "profile name")
	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "convert again whenever the image changes")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print logs to stderr")
}

func newLogger(stdout, stderr io.Writer) *slog.Logger {
	tb = tail.New(tailLines)
	handlers := []slog.Handler{
		slog.NewJSONHandler(tb, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	if verbose {
		handlers = append(handlers, slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if watch && !verbose {
		if f, ok := stdout.(*os.File); ok {
			stdout = colorable.NewColorable(f)
		}
		handlers = append(handlers, dot.NewWithWriter(slog.NewTextHandler(io.Discard, nil), stdout))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// dumpError writes error.json with the logs of this run to the state directory.
func dumpError(err error) (derr error) {
	defer func() {
		derr = errors.WithStack(derr)
	}()
	var latestLogs []any
	for _, line := range tb.Lines() {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			latestLogs = append(latestLogs, line)
		} else {
			latestLogs = append(latestLogs, m)
		}
	}
	d := &errorData{
		LatestLogs:  latestLogs,
		StackTraces: errors.StackTraces(err),
		CreatedAt:   time.Now(),
		Version:     version.Version,
		Revision:    version.Revision,
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	dir := config.StateHomePath()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dumpPath := filepath.Join(dir, "error.json")
	if err := os.WriteFile(dumpPath, b, 0o600); err != nil {
		return fmt.Errorf("failed to write error.json to %s: %w", dumpPath, err)
	}
	return nil
}
