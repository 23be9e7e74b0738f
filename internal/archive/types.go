// Package archive stores the recordings produced by the Recorder. It drains
// the RAM sink into one file per stream and uploads finished files to
// S3-compatible storage.
package archive

import (
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Sentinel errors for archive operations.
var (
	ErrS3NotConfigured = errors.New("S3 is not configured")
	ErrNoDirectory     = errors.New("archive directory is not set")
)

// StorageMode selects where finished recordings end up.
type StorageMode string

const (
	// StorageLocal keeps recordings in the archive directory only.
	StorageLocal StorageMode = "local"
	// StorageS3 uploads recordings and removes the local file afterwards.
	StorageS3 StorageMode = "s3"
	// StorageBoth uploads recordings and keeps the local file.
	StorageBoth StorageMode = "both"
)

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
}

// IsConfigured returns true if S3 settings are configured.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Config configures an Archiver.
type Config struct {
	Dir         string      `json:"dir"`
	StorageMode StorageMode `json:"storage_mode"`
	S3          S3Config    `json:"s3"`
	// RetryInterval is the first delay before failed uploads are retried.
	RetryInterval time.Duration `json:"-"`
}

// Upload retry limits.
const (
	DefaultRetryInterval = 30 * time.Second
	MaxRetryInterval     = 30 * time.Minute
	MaxUploadRetryAge    = 24 * time.Hour
	uploadTimeout        = 5 * time.Minute
	uploadQueueSize      = 16
)

// Recording describes one finished file.
type Recording struct {
	ID        string      `json:"id"`
	Path      string      `json:"path"`
	Codec     types.Codec `json:"codec"`
	Size      int64       `json:"size"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
}

// Status is a snapshot of the archiver counters.
type Status struct {
	Current        string `json:"current,omitempty"`
	Recordings     uint64 `json:"recordings"`
	Uploaded       uint64 `json:"uploaded"`
	UploadFailures uint64 `json:"upload_failures"`
	PendingRetries int    `json:"pending_retries"`
}

// extension returns the file extension for a codec.
func extension(c types.Codec) string {
	switch c {
	case types.CodecLPCM:
		return "wav"
	case types.CodecMP3:
		return "mp3"
	case types.CodecOpus:
		return "opus.bin"
	default:
		return "bin"
	}
}

// contentType returns the MIME type for a codec.
func contentType(c types.Codec) string {
	switch c {
	case types.CodecLPCM:
		return "audio/wav"
	case types.CodecMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
