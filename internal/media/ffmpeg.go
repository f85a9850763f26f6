package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// FFmpeg runs the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	log         *zap.SugaredLogger
}

func New(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		log:         zap.S().Named("media"),
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration reports the play length of an audio or video file.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	res, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	if err != nil {
		return 0, &CommandError{Tool: "ffprobe", ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if out.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Thumbnail writes one JPEG frame taken about a second into the video.
func (f *FFmpeg) Thumbnail(ctx context.Context, videoPath, outPath string) error {
	res, err := f.runner.Run(ctx, f.ffmpegPath,
		"-y",
		"-ss", "1",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	if err != nil {
		return &CommandError{Tool: "ffmpeg", ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("thumbnail not written: %w", err)
	}
	return nil
}
