package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscodeArgs(t *testing.T) {
	args := transcodeArgs("/tmp/in.webm", "/tmp/out.mp3")
	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-i", "/tmp/in.webm", "-vn", "/tmp/out.mp3"}, args)
}

func TestNewTranscoderDefaultsBin(t *testing.T) {
	tr := NewTranscoder("")
	assert.Equal(t, "ffmpeg", tr.bin)
}

func TestTranscodeMissingBinary(t *testing.T) {
	tr := NewTranscoder("voicegate-no-such-ffmpeg")
	_, err := tr.Transcode(context.Background(), []byte("xxxx"), "webm", "mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg webm to mp3")
}
