package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Transcoder converts between audio container formats by shelling out to
// ffmpeg. It works on byte slices; temporary files are created and removed
// per call.
type Transcoder struct {
	bin string
}

// NewTranscoder creates a transcoder using the given ffmpeg binary path
// ("ffmpeg" resolved from PATH when empty).
func NewTranscoder(bin string) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{bin: bin}
}

// Transcode converts src from srcExt to dstExt (extensions without the dot,
// e.g. "webm", "mp3"); ffmpeg picks codecs from the extensions.
func (t *Transcoder) Transcode(ctx context.Context, src []byte, srcExt, dstExt string) ([]byte, error) {
	in, err := os.CreateTemp("", "voicegate-in-*."+srcExt)
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	defer os.Remove(in.Name())

	if _, err = in.Write(src); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	if err = in.Close(); err != nil {
		return nil, fmt.Errorf("close temp input: %w", err)
	}

	out, err := os.CreateTemp("", "voicegate-out-*."+dstExt)
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, t.bin, transcodeArgs(in.Name(), outPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %s to %s: %w: %s", srcExt, dstExt, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded output: %w", err)
	}
	return data, nil
}

// transcodeArgs builds the ffmpeg argument list. -y overwrites the
// pre-created temp output, -vn drops any video track in the container.
func transcodeArgs(inPath, outPath string) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inPath, "-vn", outPath}
}
