package topng

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/exec"
	"github.com/k1LoW/topng/template"
)

const envInput = "TOPNG_INPUT"

// decodeWithFallback runs the first fallback whose condition matches src and decodes its stdout.
// It returns a nil image and nil error when no fallback matches.
func (c *Converter) decodeWithFallback(ctx context.Context, src string) (_ image.Image, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	store := fallbackStore(src)
	for i, f := range c.fallbacks {
		ok, err := template.Eval(f.If, store)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate fallback %d: %w", i, err)
		}
		if !ok {
			continue
		}
		c.logger.Debug("running fallback decoder", slog.Int("index", i), slog.String("src", src))
		b, err := runFallback(ctx, f.Command, src, store)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("failed to decode output of fallback %d: %w", i, err)
		}
		return img, nil
	}
	return nil, nil
}

func fallbackStore(src string) map[string]any {
	dir, file := filepath.Split(src)
	ext := strings.ToLower(filepath.Ext(strings.TrimLeft(file, ".")))
	return map[string]any{
		"path": src,
		"dir":  filepath.Clean(dir),
		"base": file[:len(file)-len(ext)],
		"ext":  ext,
		"env":  template.EnvironToMap(),
	}
}

func runFallback(ctx context.Context, command, src string, store map[string]any) ([]byte, error) {
	expanded, err := template.Expand(command, store)
	if err != nil {
		return nil, fmt.Errorf("failed to expand fallback command template: %w", err)
	}
	c, args, err := buildCommand(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to build fallback command: %w", err)
	}

	cmd := exec.CommandContext(ctx, c, args...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, envInput+"="+src)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to run fallback command: %w\nstderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("fallback command wrote nothing to stdout")
	}
	return stdout.Bytes(), nil
}

// buildCommand parses a command string and returns the command and arguments.
func buildCommand(cmdStr string) (string, []string, error) {
	shell, err := detectShell()
	if err != nil {
		return "", nil, err
	}
	return shell, []string{"-c", cmdStr}, nil
}

// detectShell detects the current shell.
func detectShell() (string, error) {
	shells := []string{
		os.Getenv("SHELL"),
		"/bin/bash",
		"/bin/sh",
	}
	for _, shell := range shells {
		if shell == "" {
			continue
		}
		if _, err := os.Stat(shell); err == nil {
			return shell, nil
		}
	}
	return "", fmt.Errorf("failed to detect shell")
}
