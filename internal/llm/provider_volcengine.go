package llm

import (
	"context"
	"errors"
	"strings"

	"vidgenie/internal/entity"

	"github.com/sirupsen/logrus"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
)

const (
	volcengineDefaultImageModel = "doubao-seedream-4-0-250828"
	volcengineDefaultVideoModel = "doubao-seedance-1-0-pro-250528"
)

type volcengineBase struct {
	providerID string
	model      string
	client     *arkruntime.Client
}

func newVolcengineBase(provider *entity.DbProvider, modelID, fallbackModel string) (volcengineBase, error) {
	if provider == nil {
		return volcengineBase{}, errors.New("volcengine provider config is nil")
	}
	apiKey := strings.TrimSpace(provider.APIKey)
	if apiKey == "" {
		return volcengineBase{}, errors.New("volcengine api key is not configured")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = fallbackModel
	}

	var client *arkruntime.Client
	if baseURL := strings.TrimSpace(provider.BaseURL); baseURL != "" {
		client = arkruntime.NewClientWithApiKey(apiKey, arkruntime.WithBaseUrl(baseURL))
	} else {
		client = arkruntime.NewClientWithApiKey(apiKey)
	}

	return volcengineBase{
		providerID: provider.ID,
		model:      modelID,
		client:     client,
	}, nil
}

func (v volcengineBase) Name() string {
	return v.providerID
}

// VolcengineImage Seedream 文生图
type VolcengineImage struct {
	volcengineBase
	sizes entity.StringArray
}

// NewVolcengineImage 创建 Seedream 客户端，supportedSizes 为空时不校验尺寸
func NewVolcengineImage(provider *entity.DbProvider, modelID string) (*VolcengineImage, error) {
	base, err := newVolcengineBase(provider, modelID, volcengineDefaultImageModel)
	if err != nil {
		return nil, err
	}
	image := &VolcengineImage{volcengineBase: base}
	for _, model := range provider.Models {
		if model.ModelID == base.model {
			image.sizes = model.SupportedSizes
			break
		}
	}
	return image, nil
}

func (v *VolcengineImage) GenerateImage(ctx context.Context, request ImageRequest) (*ImageResult, error) {
	logger := providerLogger(ctx, v.providerID, v.model)

	size := strings.TrimSpace(request.Size)
	if size != "" && !(entity.DbModel{SupportedSizes: v.sizes}).SupportsSize(size) {
		return nil, newProviderError(v.providerID, 0, nil, "model %q does not support size %q", v.model, size)
	}

	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(request.Prompt),
		"size":           size,
	}).Info("volcengine_generate_image_start")

	imageURL, imageSize, err := generateImageByVolcengineProtocol(ctx, v.client, v.model, request.Prompt, size)
	if err != nil {
		logger.WithError(err).Warn("volcengine_generate_image_failed")
		return nil, newProviderError(v.providerID, 0, err, "%s", err.Error())
	}

	width, height := parseSize(imageSize)
	logger.WithField("image_size", imageSize).Info("volcengine_generate_image_done")

	return &ImageResult{
		ImageURL: imageURL,
		Width:    width,
		Height:   height,
		Provider: v.providerID,
		Model:    v.model,
	}, nil
}

// VolcengineVideo Seedance 图生视频，结果通过回调或轮询获取
type VolcengineVideo struct {
	volcengineBase
}

// NewVolcengineVideo 创建 Seedance 客户端
func NewVolcengineVideo(provider *entity.DbProvider, modelID string) (*VolcengineVideo, error) {
	base, err := newVolcengineBase(provider, modelID, volcengineDefaultVideoModel)
	if err != nil {
		return nil, err
	}
	return &VolcengineVideo{volcengineBase: base}, nil
}

func (v *VolcengineVideo) GenerateVideo(ctx context.Context, request VideoRequest) (*VideoResult, error) {
	logger := providerLogger(ctx, v.providerID, v.model)
	if strings.TrimSpace(request.ImageURL) == "" {
		return nil, newProviderError(v.providerID, 0, nil, "first frame image is required")
	}
	if request.GenerateAudio {
		logger.Debug("volcengine_generate_video_audio_unsupported")
	}

	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(request.Prompt),
		"resolution":     request.Resolution,
		"duration":       request.Duration,
	}).Info("volcengine_generate_video_start")

	taskID, err := createVideoTaskByVolcengineProtocol(ctx, v.client, v.model, request)
	if err != nil {
		logger.WithError(err).Warn("volcengine_generate_video_failed")
		return nil, newProviderError(v.providerID, 0, err, "%s", err.Error())
	}

	logger.WithField("task_id", taskID).Info("volcengine_generate_video_submitted")
	return &VideoResult{JobID: taskID, Provider: v.providerID, Model: v.model}, nil
}

func (v *VolcengineVideo) CancelVideo(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return nil
	}
	if err := deleteVideoTaskByVolcengineProtocol(ctx, v.client, jobID); err != nil {
		return newProviderError(v.providerID, 0, err, "cancel task %s: %v", jobID, err)
	}
	return nil
}

func (v *VolcengineVideo) Poll(ctx context.Context, taskID string) (*AsyncTask, error) {
	task, err := getVideoTaskByVolcengineProtocol(ctx, v.client, taskID)
	if err != nil {
		return nil, newProviderError(v.providerID, 0, err, "poll task %s: %v", taskID, err)
	}
	task.ProviderID = v.providerID
	return task, nil
}

var (
	_ ImageGenerator = (*VolcengineImage)(nil)
	_ VideoGenerator = (*VolcengineVideo)(nil)
	_ TaskPoller     = (*VolcengineVideo)(nil)
)
