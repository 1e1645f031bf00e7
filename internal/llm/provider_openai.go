package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidgenie/internal/entity"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const openAIDefaultImageSize = openai.CreateImageSize1024x1024

// OpenAIImage DALL-E 文生图
type OpenAIImage struct {
	providerID string
	model      string
	client     *openai.Client
}

// NewOpenAIImage 根据服务商配置创建 DALL-E 客户端
func NewOpenAIImage(provider *entity.DbProvider, modelID string) (*OpenAIImage, error) {
	if provider == nil {
		return nil, errors.New("openai provider config is nil")
	}
	apiKey := strings.TrimSpace(provider.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is not configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(provider.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = openai.CreateImageModelDallE3
	}

	return &OpenAIImage{
		providerID: provider.ID,
		model:      modelID,
		client:     openai.NewClientWithConfig(clientCfg),
	}, nil
}

func (o *OpenAIImage) Name() string {
	return o.providerID
}

func (o *OpenAIImage) GenerateImage(ctx context.Context, request ImageRequest) (*ImageResult, error) {
	logger := providerLogger(ctx, o.providerID, o.model)

	size := strings.TrimSpace(request.Size)
	if size == "" {
		size = openAIDefaultImageSize
	}

	imageReq := openai.ImageRequest{
		Prompt:         request.Prompt,
		Model:          o.model,
		N:              1,
		Size:           size,
		Quality:        mapOpenAIQuality(request.Quality),
		Style:          mapOpenAIStyle(request.Style),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}

	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(request.Prompt),
		"size":           size,
		"quality":        imageReq.Quality,
	}).Info("openai_generate_image_start")

	resp, err := o.client.CreateImage(ctx, imageReq)
	if err != nil {
		logger.WithError(err).Warn("openai_generate_image_failed")
		return nil, wrapOpenAIError(o.providerID, err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return nil, newProviderError(o.providerID, 0, nil, "empty image response")
	}

	width, height := parseSize(size)
	logger.WithField("revised_prompt", logSnippet(resp.Data[0].RevisedPrompt)).Info("openai_generate_image_done")

	return &ImageResult{
		ImageURL:      resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
		Width:         width,
		Height:        height,
		Provider:      o.providerID,
		Model:         o.model,
	}, nil
}

func mapOpenAIQuality(quality string) string {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "hd", "high":
		return openai.CreateImageQualityHD
	case "":
		return ""
	default:
		return openai.CreateImageQualityStandard
	}
}

func mapOpenAIStyle(style string) string {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case openai.CreateImageStyleNatural, "photo", "realistic":
		return openai.CreateImageStyleNatural
	case "":
		return ""
	default:
		return openai.CreateImageStyleVivid
	}
}

func wrapOpenAIError(providerID string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newProviderError(providerID, apiErr.HTTPStatusCode, err, "%s", apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError(providerID, reqErr.HTTPStatusCode, err, "request failed: %v", reqErr.Err)
	}
	return newProviderError(providerID, 0, err, "%s", fmt.Sprint(err))
}

var _ ImageGenerator = (*OpenAIImage)(nil)
