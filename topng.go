package topng

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/topng/config"
	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const outputExt = ".png"

type Converter struct {
	fallbacks []config.Fallback
	logger    *slog.Logger
}

type Option func(*Converter) error

func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) error {
		c.logger = logger
		return nil
	}
}

// WithFallbacks sets external decoders tried when the built-in decoders do not recognize the input.
func WithFallbacks(fallbacks []config.Fallback) Option {
	return func(c *Converter) error {
		for i, f := range fallbacks {
			if f.Command == "" {
				return fmt.Errorf("fallback %d has no command", i)
			}
		}
		c.fallbacks = fallbacks
		return nil
	}
}

// New creates a new Converter.
func New(opts ...Option) (_ *Converter, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	c := &Converter{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Convert decodes the image at src and writes it as PNG next to it.
// It returns the path of the written file.
func (c *Converter) Convert(ctx context.Context, src string) (_ string, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	dst := OutputPath(src)
	c.logger.Debug("converting image", slog.String("src", src), slog.String("dst", dst))
	img, err := c.decode(ctx, src)
	if err != nil {
		return "", err
	}
	// imaging.Save picks the encoder from the extension of dst, which is always .png.
	if err := imaging.Save(img, dst); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", dst, err)
	}
	b := img.Bounds()
	c.logger.Info("converted image",
		slog.String("src", src),
		slog.String("dst", dst),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()),
	)
	return dst, nil
}

func (c *Converter) decode(ctx context.Context, src string) (image.Image, error) {
	img, err := imaging.Open(src)
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, image.ErrFormat) || len(c.fallbacks) == 0 {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	c.logger.Debug("built-in decoders did not recognize image", slog.String("src", src))
	fimg, ferr := c.decodeWithFallback(ctx, src)
	if ferr != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, ferr)
	}
	if fimg == nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	return fimg, nil
}

// OutputPath returns path with its extension replaced by ".png".
// Only the last extension of the final path element is replaced, and leading
// dots of that element never start an extension.
func OutputPath(path string) string {
	dir, file := filepath.Split(path)
	stem := strings.TrimLeft(file, ".")
	lead := len(file) - len(stem)
	if i := strings.LastIndex(stem, "."); i >= 0 {
		file = file[:lead+i]
	}
	return dir + file + outputExt
}
