// Package imagefetch downloads slide images, normalizes them into formats the
// PDF writer can embed and hands them out as short-lived temp files.
package imagefetch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is the encoding of normalized image bytes.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Defaults used when Options fields are zero.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxBytes  = 10 << 20
	DefaultCacheSize = 64
	// maxPixels guards against decompression bombs.
	maxPixels = 40_000_000
)

var (
	// ErrUndecodable means the body is not an image in a supported format.
	ErrUndecodable = errors.New("imagefetch: undecodable image")
	// ErrTooLarge means the body exceeded MaxBytes or the pixel limit.
	ErrTooLarge = errors.New("imagefetch: image too large")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imagefetch: GET %s: HTTP %d", e.URL, e.Code)
}

// Options configures a Fetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// CacheSize is the number of URLs kept; negative disables the cache.
	CacheSize int
	// TempDir is where Acquire writes files; "" means os.TempDir().
	TempDir string
	Client  *http.Client
	Logger  *zap.Logger
	// Observe, if set, is called once per Fetch with "ok", "cache_hit",
	// "http_error", "undecodable" or "error".
	Observe func(status string)
}

// Fetcher downloads images with a fixed timeout and caches successes by URL.
type Fetcher struct {
	timeout  time.Duration
	maxBytes int64
	tempDir  string
	client   *http.Client
	logger   *zap.Logger
	observe  func(string)
	cache    *lru.Cache[string, cachedImage]
}

type cachedImage struct {
	data   []byte
	format Format
}

// New creates a Fetcher, filling zero Options fields with defaults.
func New(opts Options) (*Fetcher, error) {
	f := &Fetcher{
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		tempDir:  opts.TempDir,
		client:   opts.Client,
		logger:   opts.Logger,
		observe:  opts.Observe,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New[string, cachedImage](size)
		if err != nil {
			return nil, fmt.Errorf("create image cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

// Fetch performs a plain GET bounded by the configured timeout and returns
// normalized image bytes. Failures are never cached.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, Format, error) {
	if f.cache != nil {
		if img, ok := f.cache.Get(url); ok {
			f.report("cache_hit")
			return img.data, img.format, nil
		}
	}

	data, format, err := f.fetch(ctx, url)
	if err != nil {
		status := "error"
		var se *StatusError
		switch {
		case errors.As(err, &se):
			status = "http_error"
		case errors.Is(err, ErrUndecodable):
			status = "undecodable"
		}
		f.report(status)
		f.logger.Debug("image fetch failed", zap.String("url", url), zap.String("status", status), zap.Error(err))
		return nil, "", err
	}

	f.report("ok")
	f.logger.Debug("image fetched",
		zap.String("url", url),
		zap.String("format", string(format)),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
	if f.cache != nil {
		f.cache.Add(url, cachedImage{data: data, format: format})
	}
	return data, format, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, Format, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %s", ErrTooLarge, humanize.Bytes(uint64(f.maxBytes)))
	}
	return Normalize(body)
}

// Normalize validates image bytes and converts them into JPEG or 8-bit
// non-interlaced PNG. JPEG and plain PNG pass through unchanged; every other
// decodable format is re-encoded as PNG.
func Normalize(data []byte) ([]byte, Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrUndecodable)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	switch {
	case name == "jpeg":
		return data, FormatJPEG, nil
	case name == "png" && plainPNG(data):
		return data, FormatPNG, nil
	}

	rgba := image.NewNRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, "", fmt.Errorf("%w: re-encode: %v", ErrUndecodable, err)
	}
	return buf.Bytes(), FormatPNG, nil
}

// plainPNG reports whether the IHDR declares 8-bit depth without interlacing.
func plainPNG(data []byte) bool {
	// signature(8) + length(4) + "IHDR"(4) + width(4) + height(4) + depth(1) + color(1) + comp(1) + filter(1) + interlace(1)
	if len(data) < 29 || string(data[12:16]) != "IHDR" {
		return false
	}
	if binary.BigEndian.Uint32(data[16:20]) == 0 {
		return false
	}
	return data[24] == 8 && data[28] == 0
}

func (f *Fetcher) report(status string) {
	if f.observe != nil {
		f.observe(status)
	}
}
