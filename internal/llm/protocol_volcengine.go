package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"vidgenie/internal/entity"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

//文档:https://www.volcengine.com/docs/82379/1824121
//视频任务文档:https://www.volcengine.com/docs/82379/1520757

// generateImageByVolcengineProtocol 调用 Seedream 流式接口，返回首张成功图片的地址和像素尺寸
func generateImageByVolcengineProtocol(ctx context.Context, client *arkruntime.Client, model, prompt, size string) (imageURL, imageSize string, err error) {
	var sequentialImageGeneration volcModel.SequentialImageGeneration = "disabled"
	generateReq := volcModel.GenerateImagesRequest{
		Model:                     model,
		Prompt:                    prompt,
		ResponseFormat:            volcengine.String(volcModel.GenerateImagesResponseFormatURL),
		Watermark:                 volcengine.Bool(false),
		SequentialImageGeneration: &sequentialImageGeneration,
	}
	if trimmed := strings.TrimSpace(size); trimmed != "" {
		generateReq.Size = volcengine.String(trimmed)
	}

	stream, err := client.GenerateImagesStreaming(ctx, generateReq)
	if err != nil {
		return "", "", err
	}
	defer stream.Close()

	var failure string
	for {
		recv, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			if imageURL != "" {
				break
			}
			return "", "", recvErr
		}
		switch recv.Type {
		case "image_generation.partial_failed":
			if recv.Error != nil {
				failure = recv.Error.Message
				if strings.EqualFold(recv.Error.Code, "InternalServiceError") {
					return "", "", errors.New(failure)
				}
			}
		case "image_generation.partial_succeeded":
			if recv.Error == nil && recv.Url != nil && imageURL == "" {
				imageURL = *recv.Url
				imageSize = recv.Size
			}
		}
	}

	if imageURL == "" {
		if failure == "" {
			failure = "no image returned"
		}
		return "", "", errors.New(failure)
	}
	return imageURL, imageSize, nil
}

// createVideoTaskByVolcengineProtocol 创建图生视频任务，返回任务 ID
func createVideoTaskByVolcengineProtocol(ctx context.Context, client *arkruntime.Client, model string, request VideoRequest) (string, error) {
	prompt := buildVolcengineVideoPrompt(request.Prompt, request.Resolution, request.Duration)

	content := make([]*volcModel.CreateContentGenerationContentItem, 0, 2)
	if prompt != "" {
		content = append(content, &volcModel.CreateContentGenerationContentItem{
			Type: volcModel.ContentGenerationContentItemTypeText,
			Text: volcengine.String(prompt),
		})
	}
	content = append(content, buildVolcengineFirstFrame(request.ImageURL))

	createReq := volcModel.CreateContentGenerationTaskRequest{
		Model:   model,
		Content: content,
	}
	if callback := strings.TrimSpace(request.CallbackURL); callback != "" {
		createReq.CallbackUrl = volcengine.String(callback)
	}

	resp, err := client.CreateContentGenerationTask(ctx, createReq)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", errors.New("empty task id")
	}
	return resp.ID, nil
}

// getVideoTaskByVolcengineProtocol 查询任务，响应按回调格式解析
func getVideoTaskByVolcengineProtocol(ctx context.Context, client *arkruntime.Client, taskID string) (*AsyncTask, error) {
	resp, err := client.GetContentGenerationTask(ctx, volcModel.GetContentGenerationTaskRequest{ID: taskID})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return parseVolcengineTask(raw)
}

func parseVolcengineTask(raw []byte) (*AsyncTask, error) {
	var payload entity.VideoWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &AsyncTask{
		ID:           payload.JobIdentifier(),
		ProviderID:   entity.ProviderDriverVolcengine,
		Status:       MapTaskStatus(payload.Status),
		VideoURL:     payload.ResultURL(),
		LastFrameURL: payload.ThumbnailOrLastFrame(),
		Error:        payload.FailureMessage(),
		Raw:          raw,
	}, nil
}

func deleteVideoTaskByVolcengineProtocol(ctx context.Context, client *arkruntime.Client, taskID string) error {
	return client.DeleteContentGenerationTask(ctx, volcModel.DeleteContentGenerationTaskRequest{ID: taskID})
}

func buildVolcengineFirstFrame(imageURL string) *volcModel.CreateContentGenerationContentItem {
	return &volcModel.CreateContentGenerationContentItem{
		Type:     volcModel.ContentGenerationContentItemTypeImage,
		ImageURL: &volcModel.ImageURL{URL: strings.TrimSpace(imageURL)},
		Role:     volcengine.String("first_frame"),
	}
}

// buildVolcengineVideoPrompt 追加分辨率和时长参数，提示词中已写明的参数不覆盖
func buildVolcengineVideoPrompt(prompt, resolution string, duration int) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	lower := strings.ToLower(prompt)

	var b strings.Builder
	b.WriteString(prompt)
	if rs := strings.ToLower(strings.TrimSpace(resolution)); rs != "" && !strings.Contains(lower, "--rs ") && !strings.Contains(lower, "--resolution ") {
		b.WriteString(" --rs ")
		b.WriteString(rs)
	}
	if duration > 0 && !strings.Contains(lower, "--dur ") && !strings.Contains(lower, "--duration ") {
		b.WriteString(" --dur ")
		b.WriteString(strconv.Itoa(duration))
	}
	return b.String()
}
