package collaborator

import (
	"context"
	"time"
)

type SpeechClient struct {
	c client
}

func NewSpeechClient(baseURL, apiKey string, timeout time.Duration) *SpeechClient {
	return &SpeechClient{c: newClient("tts service", baseURL, apiKey, timeout)}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize narrates the script with the given voice and returns the URL
// of the produced audio.
func (s *SpeechClient) Synthesize(ctx context.Context, script, voiceID string) (string, error) {
	var resp synthesizeResponse
	if err := s.c.postJSON(ctx, "/synthesize", synthesizeRequest{Text: script, VoiceID: voiceID}, &resp); err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", &ContentError{Service: s.c.service, Msg: "empty audio_url"}
	}
	return resp.AudioURL, nil
}
