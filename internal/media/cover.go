// Package media stores post cover images on local disk.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"devpress/internal/config"
	"devpress/internal/models"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadDir       = "/tmp/devpress/uploads"
	DefaultMaxUploadSizeMB = 5
	CoverMaxWidth          = 1600
	CoverRatio             = 1.91
	JPEGQuality            = 82
	WebPQuality            = 70

	// URLPrefix is where the upload dir is mounted by the HTTP server.
	URLPrefix = "/uploads"
	coversDir = "covers"
)

// CoverUpload is one cover image received with a post.
type CoverUpload struct {
	UserID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// Cover describes a stored cover image.
type Cover struct {
	Hash    string `json:"hash"`
	URL     string `json:"url"`
	WebPURL string `json:"webpUrl,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// CoverStore validates, crops, resizes and writes cover images.
type CoverStore struct {
	uploadDir          string
	maxUploadSizeBytes int64
}

// NewCoverStore creates a store rooted at cfg.UploadDir.
func NewCoverStore(cfg *config.Config) *CoverStore {
	uploadDir := DefaultUploadDir
	maxUploadSizeMB := DefaultMaxUploadSizeMB

	if cfg != nil {
		if cfg.UploadDir != "" {
			uploadDir = cfg.UploadDir
		}
		if cfg.ImageMaxUploadSizeMB > 0 {
			maxUploadSizeMB = cfg.ImageMaxUploadSizeMB
		}
	}

	return &CoverStore{
		uploadDir:          uploadDir,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

// Dir is the filesystem root served under URLPrefix.
func (s *CoverStore) Dir() string {
	return s.uploadDir
}

// Save stores the cover as JPEG and, when withWebP is set, as WebP too. The
// same user uploading the same image twice gets the same files back.
func (s *CoverStore) Save(ctx context.Context, in CoverUpload, withWebP bool) (*Cover, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	detectedType := http.DetectContentType(in.Content)
	if !isAllowedImageMIME(detectedType) {
		return nil, models.NewValidationError("Invalid image type")
	}

	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}

	sourceMimeType := decodedFormatToMime(format)
	if sourceMimeType == "" {
		return nil, models.NewValidationError("Unsupported image format")
	}
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, sourceMimeType) {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	b := decoded.Bounds()
	x, y, w, h := coverCrop(b.Dx(), b.Dy())
	cropped := cropToRect(decoded, b.Min.X+x, b.Min.Y+y, w, h)
	cover := resizeToFit(cropped, CoverMaxWidth, int(float64(CoverMaxWidth)/CoverRatio)+1)

	encodedJPG, err := encodeJPEG(cover, JPEGQuality)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	hash := contentHash(in.UserID, encodedJPG)
	jpgRel := filepath.ToSlash(filepath.Join(coversDir, hash, "cover.jpg"))
	written := []string{filepath.Join(s.uploadDir, jpgRel)}
	if err := writeBytesToFile(written[0], encodedJPG); err != nil {
		return nil, models.NewInternalError(err)
	}

	cb := cover.Bounds()
	out := &Cover{
		Hash:   hash,
		URL:    URLPrefix + "/" + jpgRel,
		Width:  cb.Dx(),
		Height: cb.Dy(),
	}

	if withWebP {
		encodedWebP, err := encodeWebP(cover, WebPQuality)
		if err != nil {
			cleanupFiles(written)
			return nil, models.NewInternalError(err)
		}
		webpRel := filepath.ToSlash(filepath.Join(coversDir, hash, "cover.webp"))
		if err := writeBytesToFile(filepath.Join(s.uploadDir, webpRel), encodedWebP); err != nil {
			cleanupFiles(written)
			return nil, models.NewInternalError(err)
		}
		out.WebPURL = URLPrefix + "/" + webpRel
	}

	return out, nil
}

// coverCrop centers the largest CoverRatio rectangle inside w x h.
func coverCrop(w, h int) (x, y, cw, ch int) {
	if w <= 0 || h <= 0 {
		return 0, 0, w, h
	}
	ratio := float64(w) / float64(h)
	if ratio > CoverRatio {
		ch = h
		cw = int(float64(h) * CoverRatio)
		x = (w - cw) / 2
	} else {
		cw = w
		ch = int(float64(w) / CoverRatio)
		y = (h - ch) / 2
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	return x, y, cw, ch
}

func cropToRect(src image.Image, x, y, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, image.Point{X: x, Y: y}, draw.Src)
	return dst
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scale := float64(maxWidth) / float64(w)
	if s := float64(maxHeight) / float64(h); s < scale {
		scale = s
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	if p == "image/jpg" {
		p = "image/jpeg"
	}
	return p == normalizeContentType(detected)
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func contentHash(userID uint, content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d:", userID)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func writeBytesToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func cleanupFiles(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
