package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	"vidgenie/internal/auth"
	"vidgenie/internal/entity"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	fakeImageWidth  = 64
	fakeImageHeight = 64

	// SignatureHeader 回调签名所在的请求头
	SignatureHeader = "X-Signature"
)

// fakeVideoBytes 不是合法的 mp4，只用来走通下载和存储流程
var fakeVideoBytes = []byte("\x00\x00\x00\x18ftypmp42vidgenie-fake-video")

// FakeImage 本地开发和测试用的图片生成器，返回内联 PNG
type FakeImage struct {
	providerID string
	mu         sync.Mutex
	failWith   error
	calls      int
}

func NewFakeImage(providerID string) *FakeImage {
	if strings.TrimSpace(providerID) == "" {
		providerID = entity.ProviderDriverFake
	}
	return &FakeImage{providerID: providerID}
}

func (f *FakeImage) Name() string {
	return f.providerID
}

// FailWith 之后的调用都返回 err，传 nil 恢复
func (f *FakeImage) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// Calls 已调用次数
func (f *FakeImage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeImage) GenerateImage(ctx context.Context, request ImageRequest) (*ImageResult, error) {
	f.mu.Lock()
	f.calls++
	failWith := f.failWith
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, newProviderError(f.providerID, 0, err, "context done")
	}
	if failWith != nil {
		return nil, newProviderError(f.providerID, http.StatusInternalServerError, failWith, "%s", failWith.Error())
	}

	width, height := parseSize(request.Size)
	if width == 0 || width > 512 || height > 512 {
		width, height = fakeImageWidth, fakeImageHeight
	}
	dataURL, err := fakePNGDataURL(width, height, request.Prompt)
	if err != nil {
		return nil, newProviderError(f.providerID, 0, err, "encode png: %v", err)
	}

	providerLogger(ctx, f.providerID, "fake-image").
		WithField("prompt_preview", logSnippet(request.Prompt)).
		Debug("fake_generate_image_done")

	return &ImageResult{
		ImageURL:      dataURL,
		RevisedPrompt: request.Prompt,
		Width:         width,
		Height:        height,
		Provider:      f.providerID,
		Model:         "fake-image",
	}, nil
}

// fakePNGDataURL 生成纯色 PNG，颜色由提示词决定
func fakePNGDataURL(width, height int, seed string) (string, error) {
	var sum byte
	for i := 0; i < len(seed); i++ {
		sum += seed[i]
	}
	fill := color.RGBA{R: sum, G: 128, B: 255 - sum, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FakeVideoOptions FakeVideo 的回调行为
type FakeVideoOptions struct {
	// Delay 受理到回调之间的等待时间
	Delay time.Duration
	// WebhookSecret 非空时对回调签名
	WebhookSecret string
	HTTPClient    *http.Client
	// Fail 为 true 时回调 failed 状态
	Fail bool
}

type fakeVideoTask struct {
	task  AsyncTask
	timer *time.Timer
}

// FakeVideo 模拟异步视频服务商：受理后延迟回调，也支持轮询和取消
type FakeVideo struct {
	providerID string
	opts       FakeVideoOptions

	mu       sync.Mutex
	tasks    map[string]*fakeVideoTask
	failWith error
}

func NewFakeVideo(providerID string, opts FakeVideoOptions) *FakeVideo {
	if strings.TrimSpace(providerID) == "" {
		providerID = entity.ProviderDriverFake
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FakeVideo{
		providerID: providerID,
		opts:       opts,
		tasks:      make(map[string]*fakeVideoTask),
	}
}

func (f *FakeVideo) Name() string {
	return f.providerID
}

// FailWith 之后的提交都返回 err，传 nil 恢复
func (f *FakeVideo) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *FakeVideo) GenerateVideo(ctx context.Context, request VideoRequest) (*VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newProviderError(f.providerID, 0, err, "context done")
	}
	if strings.TrimSpace(request.ImageURL) == "" {
		return nil, newProviderError(f.providerID, 0, nil, "first frame image is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, newProviderError(f.providerID, http.StatusInternalServerError, f.failWith, "%s", f.failWith.Error())
	}

	jobID := "fake-" + uuid.NewString()
	entry := &fakeVideoTask{task: AsyncTask{
		ID:         jobID,
		ProviderID: f.providerID,
		Status:     TaskStatusRunning,
		UpdatedAt:  time.Now(),
	}}
	f.tasks[jobID] = entry

	callback := strings.TrimSpace(request.CallbackURL)
	entry.timer = time.AfterFunc(f.opts.Delay, func() {
		f.finish(jobID, callback)
	})

	providerLogger(ctx, f.providerID, "fake-video").
		WithFields(logrus.Fields{"task_id": jobID, "callback": callback != ""}).
		Debug("fake_generate_video_submitted")

	return &VideoResult{JobID: jobID, Provider: f.providerID, Model: "fake-video"}, nil
}

func (f *FakeVideo) finish(jobID, callback string) {
	f.mu.Lock()
	entry, ok := f.tasks[jobID]
	if !ok || entry.task.Status.IsFinal() {
		f.mu.Unlock()
		return
	}
	if f.opts.Fail {
		entry.task.Status = TaskStatusFailed
		entry.task.Error = "fake provider failure"
	} else {
		entry.task.Status = TaskStatusSucceeded
		entry.task.VideoURL = FakeVideoDataURL()
	}
	entry.task.UpdatedAt = time.Now()
	task := entry.task
	f.mu.Unlock()

	if callback == "" {
		return
	}
	if err := f.deliver(callback, task); err != nil {
		logrus.WithError(err).WithField("task_id", jobID).Warn("fake_video_callback_failed")
	}
}

func (f *FakeVideo) deliver(callback string, task AsyncTask) error {
	body, err := FakeWebhookBody(task.ID, task.Status, task.VideoURL, task.Error)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, callback, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.opts.WebhookSecret != "" {
		req.Header.Set(SignatureHeader, auth.Sign(f.opts.WebhookSecret, body))
	}

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("callback http %d", resp.StatusCode)
	}
	return nil
}

func (f *FakeVideo) CancelVideo(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.tasks[jobID]
	if !ok {
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if !entry.task.Status.IsFinal() {
		entry.task.Status = TaskStatusCancelled
		entry.task.UpdatedAt = time.Now()
	}
	return nil
}

func (f *FakeVideo) Poll(_ context.Context, taskID string) (*AsyncTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.tasks[taskID]
	if !ok {
		return nil, newProviderError(f.providerID, http.StatusNotFound, nil, "task %s not found", taskID)
	}
	task := entry.task
	return &task, nil
}

// FakeVideoDataURL FakeVideo 成功时返回的视频内容
func FakeVideoDataURL() string {
	return "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(fakeVideoBytes)
}

// FakeWebhookBody 构造与 Seedance 回调同形的请求体
func FakeWebhookBody(jobID string, status TaskStatus, videoURL, failure string) ([]byte, error) {
	payload := map[string]interface{}{
		"id":       jobID,
		"provider": entity.ProviderDriverFake,
		"status":   string(status),
	}
	if videoURL != "" {
		payload["content"] = map[string]string{"video_url": videoURL}
	}
	if failure != "" {
		payload["error"] = map[string]string{"code": "FakeFailure", "message": failure}
	}
	return json.Marshal(payload)
}

var (
	_ ImageGenerator = (*FakeImage)(nil)
	_ VideoGenerator = (*FakeVideo)(nil)
	_ TaskPoller     = (*FakeVideo)(nil)
)
