package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarioFuchs/StreamVault/app/models"
	"github.com/MarioFuchs/StreamVault/internal/pkg/cache"
	"github.com/MarioFuchs/StreamVault/internal/pkg/database"
	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
	"github.com/MarioFuchs/StreamVault/internal/pkg/metrics/counter"
	"github.com/MarioFuchs/StreamVault/internal/pkg/stream"
	"github.com/MarioFuchs/StreamVault/internal/pkg/usercontext"
)

const movieCacheTTL = 10 * time.Minute

var (
	streamMu         sync.RWMutex
	streamResponders = map[string]*stream.Responder{}
)

// InitStreamResponders wires the blob stores used by the stream endpoint.
// The local store is always available; S3 is added when configured.
func InitStreamResponders() error {
	root := env.GetEnv("MOVIE_STORAGE_PATH", "./movies")
	local := stream.NewCachedStore(stream.NewLocalStore(root), time.Hour)
	SetStreamResponder(models.StorageBackendLocal, stream.NewResponder(local))

	if env.GetEnv("S3_BUCKET", "") != "" {
		s3Store, err := stream.NewS3StoreFromEnv(context.Background())
		if err != nil {
			return fmt.Errorf("init s3 store: %w", err)
		}
		SetStreamResponder(models.StorageBackendS3, stream.NewResponder(s3Store))
	}
	return nil
}

// SetStreamResponder registers the responder for a storage backend.
func SetStreamResponder(backend string, r *stream.Responder) {
	streamMu.Lock()
	defer streamMu.Unlock()
	streamResponders[backend] = r
}

func responderFor(backend string) *stream.Responder {
	streamMu.RLock()
	defer streamMu.RUnlock()
	return streamResponders[backend]
}

// HandleMovieStream serves the movie's media blob with range support.
// The policy check runs before any storage work.
func HandleMovieStream(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "Login required")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "Invalid movie id")
	}

	movie, err := findMovieCached(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Movie not found")
		}
		log.Errorf("[Movie] lookup failed for %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "Movie lookup failed")
	}

	viewer := &models.User{ID: userCtx.UserID, Role: userCtx.Role}
	if !movie.ViewableBy(viewer) {
		return jsonError(c, fiber.StatusForbidden, "Pro subscription required")
	}

	// Count a view on playback start, not on every range request.
	if rangeHeader := c.Get(fiber.HeaderRange); rangeHeader == "" || strings.HasPrefix(rangeHeader, "bytes=0-") {
		if err := counter.AddMovieView(movie.ID); err != nil {
			log.Warnf("[Movie] view counter for %d failed: %v", movie.ID, err)
		}
	}

	responder := responderFor(movie.StorageBackend)
	if responder == nil {
		log.Errorf("[Movie] no stream responder for backend %s (movie %d)", movie.StorageBackend, movie.ID)
		return jsonError(c, fiber.StatusInternalServerError, "Storage backend unavailable")
	}

	return responder.Serve(c, stream.Blob{
		Key:         movie.StorageKey,
		Size:        movie.FileSize,
		ContentType: movie.ContentType,
	})
}

func movieCacheKey(id uint) string {
	return fmt.Sprintf("movie_video_%d", id)
}

// findMovieCached reads the movie through a short-lived cache. The blob
// descriptor is immutable, so serving a slightly stale row is harmless.
func findMovieCached(id uint) (*models.Movie, error) {
	key := movieCacheKey(id)
	if raw, err := cache.Get(key); err == nil {
		var m models.Movie
		if json.Unmarshal([]byte(raw), &m) == nil {
			return &m, nil
		}
	}

	movie, err := models.FindMovieByID(database.GetDB(), id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(movie); err == nil {
		if err := cache.Set(key, string(raw), movieCacheTTL); err != nil {
			log.Warnf("[Movie] caching movie %d failed: %v", id, err)
		}
	}
	return movie, nil
}
