package store

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in a map and returns NoSuchKey/NotFound API errors
// the way the real service does.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3APIError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*params.Key]; !ok {
		return nil, &s3APIError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

type s3APIError struct{ code string }

func (e *s3APIError) Error() string                 { return e.code }
func (e *s3APIError) ErrorCode() string             { return e.code }
func (e *s3APIError) ErrorMessage() string          { return e.code }
func (e *s3APIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var _ smithy.APIError = (*s3APIError)(nil)

func TestS3PutGetRoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := NewS3(fake, "voices", "samples")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alice", FormatMP3, bytes.NewReader([]byte("mp3-bytes"))))
	assert.Contains(t, fake.objects, "samples/alice_voice.mp3")

	rc, err := s.Get(ctx, "alice", FormatMP3)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)
}

func TestS3NoPrefix(t *testing.T) {
	fake := newFakeS3()
	s := NewS3(fake, "voices", "")

	require.NoError(t, s.Put(context.Background(), "bob", FormatWebM, bytes.NewReader([]byte("x"))))
	assert.Contains(t, fake.objects, "bob_voice.webm")
}

func TestS3GetMissingWrapsNotExist(t *testing.T) {
	s := NewS3(newFakeS3(), "voices", "")

	_, err := s.Get(context.Background(), "nobody", FormatMP3)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestS3Exists(t *testing.T) {
	fake := newFakeS3()
	s := NewS3(fake, "voices", "pfx")
	ctx := context.Background()

	ok, err := s.Exists(ctx, "carol", FormatMP3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "carol", FormatMP3, bytes.NewReader([]byte("y"))))

	ok, err = s.Exists(ctx, "carol", FormatMP3)
	require.NoError(t, err)
	assert.True(t, ok)
}
