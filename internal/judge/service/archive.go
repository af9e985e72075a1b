package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"codejudge/internal/common/storage"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultSourcePrefix = "submissions"
	sourceContentType   = "application/zstd"
	maxArchivedSource   = 8 << 20
)

// SourceArchive keeps a zstd compressed copy of every submitted source in object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSourceArchive(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceArchive, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxArchivedSource))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &SourceArchive{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Key returns the object key of a submission's source.
func (a *SourceArchive) Key(submissionID string) string {
	return fmt.Sprintf("%s/%s/source.zst", a.prefix, submissionID)
}

// Put stores source and returns its object key.
func (a *SourceArchive) Put(ctx context.Context, submissionID, source string) (string, error) {
	key := a.Key(submissionID)
	compressed := a.encoder.EncodeAll([]byte(source), make([]byte, 0, len(source)/2))
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return key, nil
}

// Load reads back an archived source.
func (a *SourceArchive) Load(ctx context.Context, key string) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", appErr.Wrapf(err, appErr.NotFound, "source archive missing")
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ServiceUnavailable, "download source failed")
	}
	defer reader.Close()
	compressed, err := io.ReadAll(io.LimitReader(reader, maxArchivedSource))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ServiceUnavailable, "read source failed")
	}
	source, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "decompress source failed")
	}
	return string(source), nil
}

func (a *SourceArchive) Close() {
	a.encoder.Close()
	a.decoder.Close()
}
