// Package evidence persists donation photos and delivery evidence (photos
// and a signature) to a blob store before any lifecycle state changes.
package evidence

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/metrics"
)

// ErrInvalidPayload marks input that could not be decoded. It is a client
// error, not a storage failure.
var ErrInvalidPayload = errors.New("invalid evidence payload")

// Submission is delivery evidence as sent by a client. Photos and the
// signature are base64 images, optionally as data URLs.
type Submission struct {
	Photos    []string
	Signature string
	Notes     string
}

// Empty reports whether nothing but (possibly) notes was sent.
func (s Submission) Empty() bool {
	return len(s.Photos) == 0 && s.Signature == ""
}

// Stored is the result of a successful capture.
type Stored struct {
	PhotoRefs    []string
	SignatureRef *string
	Notes        *string

	keys []string
}

// Upload is one photo file attached to a new listing.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Capture writes evidence to a BlobStore.
type Capture struct {
	store  BlobStore
	logger *zap.Logger
	now    func() time.Time
}

// NewCapture creates a Capture over store.
func NewCapture(store BlobStore, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{store: store, logger: logger, now: time.Now}
}

// Store decodes and writes the photos and then the signature of a delivery.
// If any write fails the blobs already written are removed and the error is
// returned; the caller must not change donation state in that case.
func (c *Capture) Store(ctx context.Context, donationID string, sub Submission) (*Stored, error) {
	out := &Stored{PhotoRefs: []string{}}
	if sub.Notes != "" {
		notes := sub.Notes
		out.Notes = &notes
	}

	stamp := c.now().UnixMilli()
	dir := path.Join("deliveries", donationID)

	for i, raw := range sub.Photos {
		contentType, data, err := DecodeImage(raw)
		if err != nil {
			c.Discard(ctx, out)
			return nil, fmt.Errorf("photo %d: %w", i, err)
		}
		key := path.Join(dir, fmt.Sprintf("delivery-%d-%d%s", stamp, i, extension(contentType, ".jpg")))
		ref, err := c.put(ctx, key, contentType, data)
		if err != nil {
			c.Discard(ctx, out)
			return nil, err
		}
		out.keys = append(out.keys, key)
		out.PhotoRefs = append(out.PhotoRefs, ref)
	}

	if sub.Signature != "" {
		contentType, data, err := DecodeImage(sub.Signature)
		if err != nil {
			c.Discard(ctx, out)
			return nil, fmt.Errorf("signature: %w", err)
		}
		key := path.Join(dir, fmt.Sprintf("signature-%d%s", stamp, extension(contentType, ".png")))
		ref, err := c.put(ctx, key, contentType, data)
		if err != nil {
			c.Discard(ctx, out)
			return nil, err
		}
		out.keys = append(out.keys, key)
		out.SignatureRef = &ref
	}

	return out, nil
}

// StoreDonationPhotos writes the photos of a new listing and returns their
// references in upload order.
func (c *Capture) StoreDonationPhotos(ctx context.Context, donationID string, uploads []Upload) (*Stored, error) {
	out := &Stored{PhotoRefs: []string{}}
	stamp := c.now().UnixMilli()
	for i, u := range uploads {
		if len(u.Data) == 0 {
			c.Discard(ctx, out)
			return nil, fmt.Errorf("photo %d: %w: empty file", i, ErrInvalidPayload)
		}
		key := path.Join("donations", donationID, fmt.Sprintf("%d-%d-%s", stamp, i, sanitizeFilename(u.Filename)))
		ref, err := c.put(ctx, key, u.ContentType, u.Data)
		if err != nil {
			c.Discard(ctx, out)
			return nil, err
		}
		out.keys = append(out.keys, key)
		out.PhotoRefs = append(out.PhotoRefs, ref)
	}
	return out, nil
}

// Discard removes every blob a capture wrote. Failures are logged, not
// returned: the blobs are unreferenced either way.
func (c *Capture) Discard(ctx context.Context, s *Stored) {
	if s == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range s.keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("discard evidence blob", zap.String("key", key), zap.Error(err))
		}
	}
	s.keys = nil
}

func (c *Capture) put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ref, err := c.store.Put(ctx, key, contentType, data)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	metrics.EvidenceBytesTotal.WithLabelValues(c.store.Backend()).Add(float64(len(data)))
	return ref, nil
}

var dataURLPrefix = regexp.MustCompile(`^data:(image/[\w.+-]+);base64,`)

// DecodeImage accepts "data:image/<type>;base64,<payload>" or bare base64
// and returns the content type and decoded bytes.
func DecodeImage(raw string) (string, []byte, error) {
	contentType := "application/octet-stream"
	payload := strings.TrimSpace(raw)
	if m := dataURLPrefix.FindStringSubmatch(payload); m != nil {
		contentType = m[1]
		payload = payload[len(m[0]):]
	} else if strings.HasPrefix(payload, "data:") {
		return "", nil, fmt.Errorf("%w: unsupported data URL", ErrInvalidPayload)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty image", ErrInvalidPayload)
	}
	return contentType, data, nil
}

func extension(contentType, fallback string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return fallback
	}
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeFilename(name string) string {
	name = unsafeFilename.ReplaceAllString(path.Base(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "photo"
	}
	return name
}
