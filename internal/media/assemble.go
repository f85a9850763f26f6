package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pressreel-worker/internal/entity"
)

// Output geometry of every rendered video.
const (
	Width  = 1080
	Height = 1920
	FPS    = 30

	// TransitionOverlap is how long two scenes overlap inside a transition.
	TransitionOverlap = 0.5
)

var transitions = map[string]string{
	"fade":      "fade",
	"wipeleft":  "wipeleft",
	"slideup":   "slideup",
	"dissolve":  "dissolve",
	"crossfade": "fade",
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true,
}

// Assemble renders the scene clips over the voiceover into one vertical
// video at req.OutputPath. Images are held for their scene duration, videos
// are looped or trimmed to it.
func (f *FFmpeg) Assemble(ctx context.Context, req entity.AssemblyRequest) (string, error) {
	if len(req.Scenes) == 0 {
		return "", errors.New("assemble: no scenes")
	}
	if req.OutputPath == "" {
		return "", errors.New("assemble: empty output path")
	}

	args := buildAssembleArgs(req)
	f.log.Debugw("rendering video", "scenes", len(req.Scenes), "output", req.OutputPath)

	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return "", &CommandError{Tool: "ffmpeg", ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	if _, err := os.Stat(req.OutputPath); err != nil {
		return "", fmt.Errorf("rendered video not written: %w", err)
	}
	return req.OutputPath, nil
}

func buildAssembleArgs(req entity.AssemblyRequest) []string {
	args := []string{"-y"}

	n := len(req.Scenes)
	for i, sc := range req.Scenes {
		d := clipLength(req.Scenes, i)
		if isImage(sc.Path) {
			args = append(args, "-loop", "1", "-t", seconds(d), "-i", sc.Path)
		} else {
			args = append(args, "-stream_loop", "-1", "-t", seconds(d), "-i", sc.Path)
		}
	}
	args = append(args, "-i", req.AudioPath)

	args = append(args,
		"-filter_complex", filterGraph(req.Scenes),
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a", n),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		req.OutputPath,
	)
	return args
}

// clipLength extends a scene by the overlap when the following scene
// transitions into it, so that scene boundaries stay where the timeline puts
// them.
func clipLength(scenes []entity.SceneClip, i int) float64 {
	d := scenes[i].Duration
	if i+1 < len(scenes) && transitionFor(scenes[i+1]) != "" {
		d += TransitionOverlap
	}
	return d
}

func filterGraph(scenes []entity.SceneClip) string {
	var parts []string
	for i := range scenes {
		parts = append(parts, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d,format=yuv420p,trim=duration=%s,setpts=PTS-STARTPTS[s%d]",
			i, Width, Height, Width, Height, FPS, seconds(clipLength(scenes, i)), i,
		))
	}

	prev := "s0"
	offset := scenes[0].Duration
	for i := 1; i < len(scenes); i++ {
		out := fmt.Sprintf("v%d", i)
		if t := transitionFor(scenes[i]); t != "" {
			parts = append(parts, fmt.Sprintf("[%s][s%d]xfade=transition=%s:duration=%s:offset=%s[%s]",
				prev, i, t, seconds(TransitionOverlap), seconds(offset), out))
		} else {
			parts = append(parts, fmt.Sprintf("[%s][s%d]concat=n=2:v=1:a=0[%s]", prev, i, out))
		}
		prev = out
		offset += scenes[i].Duration
	}
	parts = append(parts, fmt.Sprintf("[%s]null[vout]", prev))
	return strings.Join(parts, ";")
}

// transitionFor maps a scene's transition tag onto an xfade transition. An
// empty result means a hard cut.
func transitionFor(sc entity.SceneClip) string {
	if sc.Transition == nil {
		return ""
	}
	tag := strings.ToLower(strings.TrimSpace(*sc.Transition))
	switch tag {
	case "", "none", "cut":
		return ""
	}
	if t, ok := transitions[tag]; ok {
		return t
	}
	return "fade"
}

func isImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

func seconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
