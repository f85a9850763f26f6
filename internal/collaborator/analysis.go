package collaborator

import (
	"context"
	"errors"
	"time"

	"pressreel-worker/internal/entity"
	"pressreel-worker/internal/errpolicy"
)

type AnalysisClient struct {
	c client
}

func NewAnalysisClient(baseURL, apiKey string, timeout time.Duration) *AnalysisClient {
	return &AnalysisClient{c: newClient("analysis service", baseURL, apiKey, timeout)}
}

type analyzeRequest struct {
	Script string `json:"script"`
}

type analyzeResponse struct {
	Scenes   []entity.Scene `json:"scenes"`
	Keywords []string       `json:"keywords"`
}

// Analyze turns a script into a scene timeline. The timeline is returned as
// generated; bounds are checked by the caller.
func (a *AnalysisClient) Analyze(ctx context.Context, script string) (entity.SceneTimeline, error) {
	var resp analyzeResponse
	if err := a.c.postJSON(ctx, "/analyze", analyzeRequest{Script: script}, &resp); err != nil {
		var ce *ContentError
		if errors.As(err, &ce) {
			return entity.SceneTimeline{}, errpolicy.MarkInvalid(err)
		}
		return entity.SceneTimeline{}, err
	}
	return entity.SceneTimeline{Scenes: resp.Scenes, Keywords: resp.Keywords}, nil
}
