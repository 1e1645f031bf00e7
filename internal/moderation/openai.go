package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIGate 调用 OpenAI moderation 接口
type OpenAIGate struct {
	client *openai.Client
	model  string
}

func NewOpenAIGate(apiKey, baseURL string) (*OpenAIGate, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required for moderation")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
		clientCfg.BaseURL = strings.TrimRight(trimmed, "/")
	}
	return &OpenAIGate{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.ModerationOmniLatest,
	}, nil
}

func (g *OpenAIGate) Moderate(ctx context.Context, prompt string) (Result, error) {
	resp, err := g.client.Moderations(ctx, openai.ModerationRequest{
		Input: prompt,
		Model: g.model,
	})
	if err != nil {
		logrus.WithError(err).Warn("openai_moderation_failed")
		return Result{}, fmt.Errorf("openai moderation: %w", err)
	}

	var flagged []string
	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		flagged = append(flagged, flaggedCategories(result.Categories)...)
		if len(flagged) == 0 {
			flagged = append(flagged, "policy")
		}
	}
	if len(flagged) == 0 {
		return Allow(), nil
	}
	return Reject("prompt flagged for " + strings.Join(flagged, ", ")), nil
}

func flaggedCategories(c openai.ResultCategories) []string {
	checks := []struct {
		name string
		hit  bool
	}{
		{"hate", c.Hate},
		{"hate/threatening", c.HateThreatening},
		{"harassment", c.Harassment},
		{"harassment/threatening", c.HarassmentThreatening},
		{"self-harm", c.SelfHarm},
		{"self-harm/intent", c.SelfHarmIntent},
		{"self-harm/instructions", c.SelfHarmInstructions},
		{"sexual", c.Sexual},
		{"sexual/minors", c.SexualMinors},
		{"violence", c.Violence},
		{"violence/graphic", c.ViolenceGraphic},
	}
	var out []string
	for _, check := range checks {
		if check.hit {
			out = append(out, check.name)
		}
	}
	return out
}
