// Package storage keeps the bytes of captured business-chat media.
//
// Two backends are provided: LocalStorage writes under a directory and is
// meant for development, R2Storage talks to Cloudflare R2 (or any other
// S3-compatible endpoint) and is meant for production.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
)

// Storage is a flat key/value blob store.
type Storage interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a link to key. A zero expires asks for a permanent link
	// where the backend can produce one.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// PutOptions configures a single Put.
type PutOptions struct {
	ContentType string

	// MaxSize rejects objects larger than this many bytes with ErrTooLarge.
	// Zero means no limit.
	MaxSize int64
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, e.g. "./storage".
	BasePath string

	// BaseURL is the URL prefix the directory is served under,
	// e.g. "http://localhost:8080/files".
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is the bucket's public domain. When empty every URL is
	// presigned.
	PublicURL string

	// Endpoint overrides the account endpoint; used for other S3-compatible
	// services.
	Endpoint string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

// New builds the backend named by cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// MediaKey is the object key of the media captured for one cached message.
// Format: media/{owner}/{chat}_{message}{ext}
func MediaKey(ownerID int64, key domain.MessageKey, ext string) string {
	return fmt.Sprintf("media/%d/%d_%d%s", ownerID, key.ChatID, key.MessageID, ext)
}
