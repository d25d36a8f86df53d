// Package store persists per-user voice samples behind a minimal blob-store
// interface keyed by user identifier, so the pipeline never touches paths or
// buckets directly.
package store

import (
	"context"
	"io"
)

// Sample formats stored per user. A clone writes both: the raw upload and
// the transcoded copy the extractor consumes.
const (
	FormatWebM = "webm"
	FormatMP3  = "mp3"
)

// SampleStore is a key-value blob store for voice samples. One sample per
// (user, format); later writes overwrite earlier ones.
type SampleStore interface {
	Put(ctx context.Context, userID, format string, r io.Reader) error
	Get(ctx context.Context, userID, format string) (io.ReadCloser, error)
	Exists(ctx context.Context, userID, format string) (bool, error)
}

// SampleKey derives the storage key for a user's sample. On the disk store
// this materializes as the file name under the resource directory.
func SampleKey(userID, format string) string {
	return userID + "_voice." + format
}

func contentTypeFor(format string) string {
	switch format {
	case FormatWebM:
		return "audio/webm"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
