package collaborator

import (
	"context"
	"time"

	"pressreel-worker/internal/entity"
)

type StockMediaClient struct {
	c client
}

func NewStockMediaClient(baseURL, apiKey string, timeout time.Duration) *StockMediaClient {
	return &StockMediaClient{c: newClient("stock media service", baseURL, apiKey, timeout)}
}

type searchRequest struct {
	Keywords   []string `json:"keywords"`
	VisualType string   `json:"visual_type"`
}

type searchResponse struct {
	MediaURL string `json:"media_url"`
}

func (s *StockMediaClient) Search(ctx context.Context, keywords []string, vt entity.VisualType) (string, error) {
	if keywords == nil {
		keywords = []string{}
	}
	var resp searchResponse
	if err := s.c.postJSON(ctx, "/search", searchRequest{Keywords: keywords, VisualType: string(vt)}, &resp); err != nil {
		return "", err
	}
	if resp.MediaURL == "" {
		return "", &ContentError{Service: s.c.service, Msg: "no media matched"}
	}
	return resp.MediaURL, nil
}
