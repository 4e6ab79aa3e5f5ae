// Package media downloads inbound WhatsApp media and classifies files for
// outbound sends.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"whatsapp-crm/internal/whatsapp"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNoDownloadURL is returned when the media lookup succeeds without a URL.
var ErrNoDownloadURL = errors.New("media: provider returned no download url")

// Provider is the part of the Graph client the fetcher calls.
type Provider interface {
	RetrieveMedia(ctx context.Context, mediaID string) (*whatsapp.MediaMetadata, error)
	Download(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// File is downloaded media content.
type File struct {
	Data     []byte
	MimeType string
}

// Extension is the file extension for the content, with the leading dot.
func (f File) Extension() string {
	return Extension(f.MimeType)
}

type Fetcher struct {
	provider Provider
}

func NewFetcher(provider Provider) *Fetcher {
	return &Fetcher{provider: provider}
}

// Fetch resolves mediaID to its download URL and fetches the bytes. The MIME
// type reported by the metadata lookup wins over hint (the type carried in the
// webhook payload), which wins over sniffing the content.
func (f *Fetcher) Fetch(ctx context.Context, mediaID, hint string) (File, error) {
	if mediaID == "" {
		return File{}, errors.New("media: empty media id")
	}
	meta, err := f.provider.RetrieveMedia(ctx, mediaID)
	if err != nil {
		return File{}, fmt.Errorf("media: lookup %s: %w", mediaID, err)
	}
	if meta.URL == "" {
		return File{}, ErrNoDownloadURL
	}
	data, contentType, err := f.provider.Download(ctx, meta.URL)
	if err != nil {
		return File{}, fmt.Errorf("media: download %s: %w", mediaID, err)
	}

	mimeType := firstNonEmpty(meta.MimeType, hint, contentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	return File{Data: data, MimeType: mimeType}, nil
}

// extensions pins the extensions WhatsApp clients expect where the generic
// lookup disagrees or has no entry.
var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/aac":       ".aac",
	"audio/amr":       ".amr",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// Extension maps a MIME type (parameters allowed) to a file extension, or
// ".bin" when the type is unknown.
func Extension(mimeType string) string {
	base := baseType(mimeType)
	if ext, ok := extensions[base]; ok {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// WAType is the WhatsApp message type used to send a file of mimeType.
func WAType(mimeType string) string {
	base := baseType(mimeType)
	switch {
	case strings.HasPrefix(base, "image/"):
		return "image"
	case strings.HasPrefix(base, "video/"):
		return "video"
	case strings.HasPrefix(base, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// Detect sniffs the MIME type of data, preferring declared when it is a real
// type.
func Detect(declared string, data []byte) string {
	if base := baseType(declared); base != "" && base != "application/octet-stream" {
		return base
	}
	return baseType(mimetype.Detect(data).String())
}

// FileName names a downloaded attachment. A sender-supplied name is kept.
func FileName(kind, mediaID, provided, mimeType string) string {
	if provided = strings.TrimSpace(provided); provided != "" {
		return provided
	}
	return fmt.Sprintf("whatsapp_%s_%s%s", kind, mediaID, Extension(mimeType))
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
