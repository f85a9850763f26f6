package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/thoas/go-funk"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/errpolicy"
	"pressreel-worker/internal/metrics"
)

// retry runs a collaborator call under the error policy.
func (r *run) retry(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	return r.o.policy.Do(ctx, fn, func(attempt int, err error) {
		metrics.IncreaseStageRetries(stage)
		r.log.Warnw("retrying collaborator call", "stage", stage, "attempt", attempt, "error", err)
	})
}

func (r *run) analyze(ctx context.Context) error {
	var tl entity.SceneTimeline
	err := r.retry(ctx, "analyze", func(ctx context.Context) error {
		var err error
		tl, err = r.o.c.Analyzer.Analyze(ctx, r.job.Script)
		return err
	})
	if err != nil {
		return fmt.Errorf("analyze script: %w", err)
	}

	if err := r.o.validate.Struct(tl); err != nil {
		return errpolicy.MarkInvalid(fmt.Errorf("scene timeline fields: %w", err))
	}
	if err := tl.Validate(); err != nil {
		return fmt.Errorf("scene timeline: %w", err)
	}

	r.timeline = tl
	r.log.Infow("timeline accepted", "scenes", len(tl.Scenes), "total_s", tl.TotalDuration())
	return nil
}

func (r *run) generateVoiceover(ctx context.Context) error {
	var audioURL string
	err := r.retry(ctx, "generate_voiceover", func(ctx context.Context) error {
		var err error
		audioURL, err = r.o.c.Synthesizer.Synthesize(ctx, r.job.Script, r.job.VoiceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("synthesize voiceover: %w", err)
	}

	audioPath, err := r.download(ctx, "generate_voiceover", audioURL, "voiceover", ".mp3")
	if err != nil {
		return fmt.Errorf("download voiceover: %w", err)
	}

	d, err := r.o.c.Prober.Duration(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("measure voiceover: %w", err)
	}

	r.voiceover = voiceover{path: audioPath, duration: d}
	if diff := d.Seconds() - r.timeline.TotalDuration(); diff > 2 || diff < -2 {
		r.log.Warnw("voiceover length differs from timeline", "voiceover_s", d.Seconds(), "timeline_s", r.timeline.TotalDuration())
	}
	return nil
}

func (r *run) gatherVisuals(ctx context.Context) error {
	keywords := timelineKeywords(r.timeline)

	// one search and one download per distinct (visual type, keyword group)
	byGroup := make(map[string]string)
	visuals := make([]string, len(r.timeline.Scenes))

	for i, sc := range r.timeline.Scenes {
		group := normalizeKeywords(sc.Keywords)
		if len(group) == 0 {
			group = keywords
		}
		key := string(sc.VisualType) + "|" + strings.Join(group, ",")

		if p, ok := byGroup[key]; ok {
			visuals[i] = p
			continue
		}

		var mediaURL string
		err := r.retry(ctx, "gather_visuals", func(ctx context.Context) error {
			var err error
			mediaURL, err = r.o.c.Media.Search(ctx, group, sc.VisualType)
			return err
		})
		if err != nil {
			return fmt.Errorf("search media for scene %d: %w", i+1, err)
		}

		p, err := r.download(ctx, "gather_visuals", mediaURL, "visual", extensionFor(mediaURL, sc.VisualType))
		if err != nil {
			return fmt.Errorf("download media for scene %d: %w", i+1, err)
		}
		byGroup[key] = p
		visuals[i] = p
	}

	r.visuals = visuals
	r.log.Infow("visuals gathered", "scenes", len(visuals), "assets", len(byGroup), "keywords", len(keywords))
	return nil
}

func (r *run) assembleVideo(ctx context.Context) error {
	clips := make([]entity.SceneClip, len(r.timeline.Scenes))
	for i, sc := range r.timeline.Scenes {
		clips[i] = entity.SceneClip{
			Path:       r.visuals[i],
			Start:      sc.Start,
			Duration:   sc.Duration,
			VisualType: sc.VisualType,
			Transition: sc.Transition,
		}
	}
	req := entity.AssemblyRequest{
		AudioPath:  r.voiceover.path,
		OutputPath: r.scope.CreatePath("render", ".mp4"),
		Scenes:     clips,
	}

	var rendered string
	err := r.retry(ctx, "assemble_video", func(ctx context.Context) error {
		var err error
		rendered, err = r.o.c.Assembler.Assemble(ctx, req)
		return err
	})
	if rendered != "" {
		r.scope.Track(rendered)
	}
	if err != nil {
		return fmt.Errorf("assemble video: %w", err)
	}

	r.rendered = rendered
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	thumb := r.scope.CreatePath("thumbnail", ".jpg")
	if err := r.o.c.Thumbnailer.Thumbnail(ctx, r.rendered, thumb); err != nil {
		return fmt.Errorf("derive thumbnail: %w", err)
	}

	var res entity.Result
	err := r.retry(ctx, "finalize", func(ctx context.Context) error {
		var err error
		res.VideoURI, err = r.o.c.Uploader.Upload(ctx, r.rendered, objectKey(r.job.ID, "video.mp4"))
		return err
	})
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}
	err = r.retry(ctx, "finalize", func(ctx context.Context) error {
		var err error
		res.ThumbnailURI, err = r.o.c.Uploader.Upload(ctx, thumb, objectKey(r.job.ID, "thumbnail.jpg"))
		return err
	})
	if err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}

	if err := r.o.complete(ctx, r.job.ID, res); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	r.current = entity.Completed()
	r.result = res
	return nil
}

func (r *run) download(ctx context.Context, stage, rawURL, prefix, ext string) (string, error) {
	var p string
	err := r.retry(ctx, stage, func(ctx context.Context) error {
		var err error
		p, err = r.scope.Download(ctx, rawURL, prefix, ext)
		return err
	})
	return p, err
}

// timelineKeywords is the union of the overall and per-scene keywords.
func timelineKeywords(tl entity.SceneTimeline) []string {
	all := append([]string{}, tl.Keywords...)
	for _, sc := range tl.Scenes {
		all = append(all, sc.Keywords...)
	}
	return normalizeKeywords(all)
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	out = funk.UniqString(out)
	sort.Strings(out)
	return out
}

func extensionFor(rawURL string, vt entity.VisualType) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if vt == entity.VisualStaticImage {
		return ".jpg"
	}
	return ".mp4"
}

func objectKey(jobID, name string) string {
	return path.Join("jobs", jobID, name)
}
