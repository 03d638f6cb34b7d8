package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kozaktomas/photo-courier/internal/config"
)

// ProbeDuration returns the clip length in seconds using ffprobe.
func ProbeDuration(ctx context.Context, ffprobeBinary, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(output)))
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration for %s: %w", path, err)
	}
	return duration, nil
}

// SampleRate picks the sampling frequency for a clip: short clips are
// sampled denser because each frame carries more of the clip.
func SampleRate(durationSeconds float64, cfg *config.VideoConfig) float64 {
	if durationSeconds < cfg.ShortClipSeconds {
		return cfg.ShortClipFPS
	}
	return cfg.SampleFPS
}

// FrameSeq is a lazy sequence of JPEG frames sampled from a video clip by
// an ffmpeg child process. Frames are produced on demand; closing the
// sequence kills the process, which is how a match exits early without
// decoding the rest of the clip.
type FrameSeq struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr bytes.Buffer
}

// NewFrameSeq starts sampling the clip at the given frame rate.
func NewFrameSeq(ctx context.Context, ffmpegBinary, path string, fps float64) (*FrameSeq, error) {
	ctx, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	seq := &FrameSeq{cmd: cmd, cancel: cancel}
	cmd.Stderr = &seq.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	seq.stdout = stdout
	seq.reader = bufio.NewReaderSize(stdout, 1<<20)

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg for %s: %w", path, err)
	}
	return seq, nil
}

// Next returns the next sampled frame as JPEG bytes, or io.EOF when the
// clip is exhausted.
func (s *FrameSeq) Next() ([]byte, error) {
	frame, err := readJPEGFrame(s.reader)
	if err == io.EOF {
		// Drained: reap the process. A killed process after early exit is
		// not an error; a decode failure reported on stderr is.
		if waitErr := s.cmd.Wait(); waitErr != nil && s.stderr.Len() > 0 {
			return nil, fmt.Errorf("ffmpeg: %w: %s", waitErr, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	}
	return frame, err
}

// Close stops the producer. Safe to call multiple times and after EOF.
func (s *FrameSeq) Close() error {
	s.cancel()
	_, _ = io.Copy(io.Discard, s.stdout)
	_ = s.cmd.Wait()
	return nil
}

// readJPEGFrame extracts one JPEG image from a concatenated mjpeg stream:
// everything from an SOI marker (FF D8) through the matching EOI (FF D9).
func readJPEGFrame(r *bufio.Reader) ([]byte, error) {
	// Seek the start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if next == 0xD8 {
			break
		}
		_ = r.UnreadByte()
	}

	frame := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		frame = append(frame, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("truncated frame: %w", err)
			}
			frame = append(frame, next)
			if next == 0xD9 {
				return frame, nil
			}
		}
	}
}
