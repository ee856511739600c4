package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// ChunkSize bounds a single read from the backing store while streaming.
const ChunkSize = 64 * 1024

// Responder writes an HTTP range-streaming response for a media blob.
// It holds no mutable state, so a single instance is safe for any number
// of concurrent viewers.
type Responder struct {
	Store Store
}

func NewResponder(store Store) *Responder {
	return &Responder{Store: store}
}

// Serve answers a stream request for blob: 404 when the storage key is
// missing, 206 partial content for a valid Range header, 200 full content
// otherwise. Malformed Range headers degrade to full content instead of
// erroring. Authorization has already happened by the time this runs.
func (r *Responder) Serve(c *fiber.Ctx, blob Blob) error {
	exists, err := r.Store.Exists(c.Context(), blob.Key)
	if err != nil {
		log.Errorf("[Stream] existence probe failed for %s: %v", blob.Key, err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Video file not found"})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Video file not found"})
	}

	start, end := int64(0), blob.Size-1
	status := fiber.StatusOK
	if header := c.Get(fiber.HeaderRange); header != "" {
		if s, e, ok := ParseRange(header, blob.Size); ok {
			start, end = s, e
			status = fiber.StatusPartialContent
		}
	}
	contentLength := end - start + 1

	c.Set(fiber.HeaderContentType, blob.ContentType)
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	// Keep intermediaries (nginx) from buffering the whole response before
	// the player sees the first byte.
	c.Set("X-Accel-Buffering", "no")
	if status == fiber.StatusPartialContent {
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, blob.Size))
	}
	c.Status(status)

	if contentLength <= 0 {
		c.Set(fiber.HeaderContentLength, "0")
		return nil
	}

	reader, err := r.Store.Open(context.Background(), blob.Key, start)
	if err != nil {
		log.Errorf("[Stream] open failed for %s: %v", blob.Key, err)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Video file not found"})
	}

	// fasthttp writes exactly contentLength bytes from the stream, sets
	// Content-Length, stops on client disconnect and closes the reader on
	// every exit path.
	c.Context().SetBodyStream(newBlobReader(blob.Key, reader, contentLength), int(contentLength))
	return nil
}

// blobReader serves the requested byte window in ChunkSize reads and
// closes the underlying handle when done.
type blobReader struct {
	key       string
	src       io.ReadCloser
	remaining int64
}

func newBlobReader(key string, src io.ReadCloser, length int64) *blobReader {
	return &blobReader{key: key, src: src, remaining: length}
}

func (b *blobReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	limit := int64(len(p))
	if limit > ChunkSize {
		limit = ChunkSize
	}
	if limit > b.remaining {
		limit = b.remaining
	}

	n, err := b.src.Read(p[:limit])
	b.remaining -= int64(n)
	if err != nil && err != io.EOF {
		log.Errorf("[Stream] read failed for %s: %v", b.key, err)
	}
	return n, err
}

func (b *blobReader) Close() error {
	return b.src.Close()
}
