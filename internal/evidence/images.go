package evidence

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/browser"
)

// imageRegions are probed in order for figures; the first region that yields
// any images wins, matching how the answer text itself is located.
var imageRegions = []string{"article", "main"}

const imageFetchTimeout = 30 * time.Second

// saveImages extracts every figure rendered inside the answer region.
// Inline data URIs are decoded directly; http(s) sources are downloaded.
// One bad image is logged and skipped, the rest still saved.
func saveImages(ctx context.Context, page Page, outDir string, log *zap.Logger) ([]string, error) {
	var images []browser.Image
	for _, region := range imageRegions {
		found, err := page.ImagesIn(ctx, region)
		if err != nil {
			log.Debug("Image probe failed", zap.String("region", region), zap.Error(err))
			continue
		}
		if len(found) > 0 {
			images = found
			break
		}
	}
	if len(images) == 0 {
		return nil, nil
	}

	var paths []string
	for i, img := range images {
		p, err := saveImage(ctx, img, outDir, i)
		if err != nil {
			log.Warn("Could not save figure", zap.Int("index", i), zap.Error(err))
			continue
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func saveImage(ctx context.Context, img browser.Image, outDir string, index int) (string, error) {
	var (
		data []byte
		ext  string
		err  error
	)

	switch {
	case strings.HasPrefix(img.Src, "data:"):
		data, ext, err = decodeDataURI(img.Src)
	case strings.HasPrefix(img.Src, "http://"), strings.HasPrefix(img.Src, "https://"):
		data, ext, err = downloadImage(ctx, img.Src)
	default:
		return "", fmt.Errorf("unsupported image source %q", truncate(img.Src, 64))
	}
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("figure_%d_%s.%s", index, sanitizeAlt(img.Alt), ext)
	out := filepath.Join(outDir, name)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return out, nil
}

// decodeDataURI handles data:image/<subtype>;base64,<payload>.
func decodeDataURI(src string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(src, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("data URI is not base64 encoded")
	}

	mediaType := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data URI: %w", err)
	}
	return data, extFromMediaType(mediaType), nil
}

func downloadImage(ctx context.Context, src string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, imageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}

	ext := extFromURL(src)
	if ext == "" {
		ext = extFromMediaType(resp.Header.Get("Content-Type"))
	}
	return data, ext, nil
}

func extFromMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(strings.Split(mediaType, ";")[0])
	sub := strings.TrimPrefix(mediaType, "image/")
	switch sub {
	case "jpeg", "jpg":
		return "jpg"
	case "svg+xml":
		return "svg"
	case "":
		return "png"
	default:
		return sub
	}
}

func extFromURL(src string) string {
	ext := strings.TrimPrefix(path.Ext(strings.Split(src, "?")[0]), ".")
	switch strings.ToLower(ext) {
	case "png", "jpg", "jpeg", "gif", "webp", "svg":
		if ext == "jpeg" {
			return "jpg"
		}
		return strings.ToLower(ext)
	}
	return ""
}

// sanitizeAlt turns alt text into a safe filename fragment.
func sanitizeAlt(alt string) string {
	var b strings.Builder
	for _, r := range alt {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
		if b.Len() >= 30 {
			break
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
