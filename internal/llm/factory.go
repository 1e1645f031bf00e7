package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"vidgenie/internal/entity"
)

// Options 构造生成器时的附加参数，只有 fake 驱动使用
type Options struct {
	WebhookSecret string
	FakeDelay     time.Duration
	HTTPClient    *http.Client
}

func providerDriver(provider *entity.DbProvider) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("provider config is nil")
	}
	if !provider.IsActive {
		return "", fmt.Errorf("provider %s is disabled", provider.ID)
	}
	driver := strings.ToLower(strings.TrimSpace(provider.Driver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(provider.ID))
	}
	return driver, nil
}

// NewImageGenerator 按服务商驱动创建图片生成器
func NewImageGenerator(provider *entity.DbProvider, modelID string, opts Options) (ImageGenerator, error) {
	driver, err := providerDriver(provider)
	if err != nil {
		return nil, err
	}

	switch driver {
	case entity.ProviderDriverOpenAI:
		return NewOpenAIImage(provider, modelID)
	case entity.ProviderDriverVolcengine:
		return NewVolcengineImage(provider, modelID)
	case entity.ProviderDriverFake:
		return NewFakeImage(provider.ID), nil
	default:
		return nil, fmt.Errorf("unsupported image provider driver: %s", provider.Driver)
	}
}

// NewVideoGenerator 按服务商驱动创建视频生成器
func NewVideoGenerator(provider *entity.DbProvider, modelID string, opts Options) (VideoGenerator, error) {
	driver, err := providerDriver(provider)
	if err != nil {
		return nil, err
	}

	switch driver {
	case entity.ProviderDriverVolcengine:
		return NewVolcengineVideo(provider, modelID)
	case entity.ProviderDriverFake:
		return NewFakeVideo(provider.ID, FakeVideoOptions{
			Delay:         opts.FakeDelay,
			WebhookSecret: opts.WebhookSecret,
			HTTPClient:    opts.HTTPClient,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported video provider driver: %s", provider.Driver)
	}
}
