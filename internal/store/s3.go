package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API abstracts the S3 operations used by S3Store. The s3.Client type
// satisfies this interface.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store implements SampleStore backed by Amazon S3 or any S3-compatible
// object store (MinIO, R2). The caller configures the client with
// credentials, region and endpoint; keys live under an optional prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

var _ SampleStore = (*S3Store)(nil)

// NewS3 creates an S3-backed SampleStore. Prefix is prepended to all object
// keys; pass "" for no prefix.
func NewS3(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(userID, format string) string {
	k := SampleKey(userID, format)
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

// Put uploads the sample via PutObject, overwriting any previous object.
func (s *S3Store) Put(ctx context.Context, userID, format string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(userID, format)),
		Body:        r,
		ContentType: aws.String(contentTypeFor(format)),
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", SampleKey(userID, format), err)
	}
	return nil
}

// Get opens the sample via GetObject. A missing object wraps os.ErrNotExist.
func (s *S3Store) Get(ctx context.Context, userID, format string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, format)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("store: read %s: %w", SampleKey(userID, format), os.ErrNotExist)
		}
		return nil, fmt.Errorf("store: read %s: %w", SampleKey(userID, format), err)
	}
	return out.Body, nil
}

// Exists checks the sample via HeadObject.
func (s *S3Store) Exists(ctx context.Context, userID, format string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, format)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
