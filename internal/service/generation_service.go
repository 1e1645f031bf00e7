package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vidgenie/internal/dispatch"
	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
	"vidgenie/internal/model"
	"vidgenie/internal/moderation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultMaxRetries    = 3
	defaultVideoDuration = 5
	cancelledByUser      = "cancelled by user"
)

var allowedResolutions = map[string]struct{}{
	"480p":  {},
	"720p":  {},
	"1080p": {},
}

// GenerationConfig 生成服务的可调参数
type GenerationConfig struct {
	PromptMinLength int
	PromptMaxLength int
	MaxRetries      int
	// CallbackURL 视频服务商回调地址
	CallbackURL string
}

// JobEvent 推送给 SSE 订阅者的进度事件
type JobEvent struct {
	ClientID string           `json:"client_id,omitempty"`
	UserID   uint             `json:"-"`
	JobID    string           `json:"job_id"`
	Status   entity.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Error    string           `json:"error,omitempty"`
}

// GenerationDeps GenerationService 的协作者
type GenerationDeps struct {
	Repo       model.Repository
	Credits    *CreditService
	Moderation moderation.Gate
	Dispatcher dispatch.Dispatcher
	Images     llm.ImageGenerator
	Videos     llm.VideoGenerator
	Media      *MediaStore
	Config     GenerationConfig
}

// GenerationService 生成任务的提交、推进、失败退款和重试
type GenerationService struct {
	repo       model.Repository
	credits    *CreditService
	moderation moderation.Gate
	dispatcher dispatch.Dispatcher
	images     llm.ImageGenerator
	videos     llm.VideoGenerator
	media      *MediaStore
	cfg        GenerationConfig

	// notifyFunc 用于推送进度事件（由调用方设置）
	notifyFunc func(event JobEvent)
	now        func() time.Time
}

// NewGenerationService 创建生成服务实例
func NewGenerationService(deps GenerationDeps) *GenerationService {
	cfg := deps.Config
	if cfg.PromptMinLength <= 0 {
		cfg.PromptMinLength = 3
	}
	if cfg.PromptMaxLength <= 0 {
		cfg.PromptMaxLength = 2000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	credits := deps.Credits
	if credits == nil {
		credits = NewCreditService(deps.Repo)
	}
	return &GenerationService{
		repo:       deps.Repo,
		credits:    credits,
		moderation: deps.Moderation,
		dispatcher: deps.Dispatcher,
		images:     deps.Images,
		videos:     deps.Videos,
		media:      deps.Media,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetNotifyFunc 设置通知函数（用于 SSE 推送）
func (s *GenerationService) SetNotifyFunc(fn func(event JobEvent)) {
	s.notifyFunc = fn
}

// VideoGenerator 当前使用的视频服务商，供轮询使用
func (s *GenerationService) VideoGenerator() llm.VideoGenerator {
	return s.videos
}

// Submit 校验、审核、扣费并创建任务，然后交给调度器
func (s *GenerationService) Submit(ctx context.Context, userID uint, req entity.SubmitGenerationRequest) (*entity.SubmitGenerationResponse, error) {
	kind, ok := entity.ParseJobKind(req.Kind)
	if !ok {
		return nil, newValidationError("kind", "unsupported kind %q", req.Kind)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if err := s.validatePrompt(prompt); err != nil {
		return nil, err
	}

	var inputAsset *entity.DbAsset
	if kind == entity.JobKindImageToVideo {
		asset, err := s.loadInputAsset(ctx, userID, req.InputAssetID)
		if err != nil {
			return nil, err
		}
		inputAsset = asset
	}

	jobConfig, err := buildJobConfig(kind, req)
	if err != nil {
		return nil, err
	}

	if s.moderation != nil {
		result, err := s.moderation.Moderate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("moderation: %w", err)
		}
		if !result.Allowed {
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"reason":  result.Reason,
			}).Info("generation_prompt_rejected")
			return nil, &ContentRejectedError{Reason: result.Reason}
		}
	}

	rawConfig, err := json.Marshal(jobConfig)
	if err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}

	cost := kind.Cost()
	job := &entity.DbGenerationJob{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProjectID:   trimmedPtr(req.ProjectID),
		Kind:        kind,
		Status:      entity.JobStatusQueued,
		Prompt:      prompt,
		Config:      rawConfig,
		CostCredits: cost,
	}
	if inputAsset != nil {
		inputID := inputAsset.ID
		job.InputAssetID = &inputID
	}
	if kind.NeedsImageStage() && s.images != nil {
		job.ImageProvider = s.images.Name()
	}
	if kind.NeedsVideoStage() && s.videos != nil {
		job.VideoProvider = s.videos.Name()
	}

	err = s.repo.Transaction(ctx, func(tx model.Repository) error {
		if err := tx.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		jobID := job.ID
		_, err := s.credits.DebitTx(ctx, tx, CreditChange{
			UserID:      userID,
			Amount:      cost,
			Type:        entity.CreditTypeGeneration,
			Description: fmt.Sprintf("%s generation", strings.ToLower(string(kind))),
			JobID:       &jobID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := jobLogger(job)
	logger.WithField("cost", cost).Info("generation_job_submitted")

	if err := s.dispatchStage(ctx, job); err != nil {
		logger.WithError(err).Error("generation_dispatch_failed")
		if _, failErr := s.failJob(ctx, job.ID, "dispatch unavailable"); failErr != nil {
			logger.WithError(failErr).Error("generation_dispatch_refund_failed")
		}
		return nil, ErrDispatchUnavailable
	}

	s.notify(job, entity.JobStatusQueued, "")
	return &entity.SubmitGenerationResponse{
		JobID:  job.ID,
		Status: entity.JobStatusQueued,
		Cost:   cost,
	}, nil
}

func (s *GenerationService) validatePrompt(prompt string) error {
	length := utf8.RuneCountInString(prompt)
	if length < s.cfg.PromptMinLength {
		return newValidationError("prompt", "prompt must be at least %d characters", s.cfg.PromptMinLength)
	}
	if length > s.cfg.PromptMaxLength {
		return newValidationError("prompt", "prompt must be at most %d characters", s.cfg.PromptMaxLength)
	}
	return nil
}

func (s *GenerationService) loadInputAsset(ctx context.Context, userID uint, id *string) (*entity.DbAsset, error) {
	assetID := ""
	if id != nil {
		assetID = strings.TrimSpace(*id)
	}
	if assetID == "" {
		return nil, newValidationError("input_asset_id", "input_asset_id is required for IMAGE_TO_VIDEO")
	}
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, notFoundOr(err, "asset", assetID)
	}
	if asset.UserID != userID {
		return nil, &NotFoundError{Resource: "asset", ID: assetID}
	}
	if asset.Kind != entity.ModImage {
		return nil, newValidationError("input_asset_id", "input asset must be an image")
	}
	if asset.Status != entity.AssetStatusReady {
		return nil, newValidationError("input_asset_id", "input asset is not ready")
	}
	return asset, nil
}

func buildJobConfig(kind entity.JobKind, req entity.SubmitGenerationRequest) (entity.JobConfig, error) {
	cfg := entity.JobConfig{
		Style:    strings.TrimSpace(req.Style),
		Quality:  strings.TrimSpace(req.Quality),
		Size:     strings.TrimSpace(req.Size),
		ClientID: strings.TrimSpace(req.ClientID),
	}
	if !kind.NeedsVideoStage() {
		return cfg, nil
	}

	duration := req.Duration
	if duration == 0 {
		duration = defaultVideoDuration
	}
	if duration < 2 || duration > 12 {
		return cfg, newValidationError("duration", "duration must be between 2 and 12 seconds")
	}
	resolution := strings.ToLower(strings.TrimSpace(req.Resolution))
	if resolution != "" {
		if _, ok := allowedResolutions[resolution]; !ok {
			return cfg, newValidationError("resolution", "unsupported resolution %q", req.Resolution)
		}
	}
	cfg.Duration = duration
	cfg.Resolution = resolution
	cfg.GenerateAudio = req.GenerateAudio
	return cfg, nil
}

// dispatchStage 按任务类型投递下一阶段事件
func (s *GenerationService) dispatchStage(ctx context.Context, job *entity.DbGenerationJob) error {
	if s.dispatcher == nil {
		return errors.New("dispatcher is not configured")
	}
	name := dispatch.EventImageRequested
	if !job.Kind.NeedsImageStage() || job.Status == entity.JobStatusImageReady {
		name = dispatch.EventVideoRequested
	}
	event, err := dispatch.NewEvent(name, job.ID, dispatch.JobPayload{JobID: job.ID})
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, event)
}

// HandleImageRequested 调度器回调：生成图片并保存为资产
//
// 服务商失败直接把任务置为失败并退款，不交给队列重试。
func (s *GenerationService) HandleImageRequested(ctx context.Context, event dispatch.Event) error {
	var payload dispatch.JobPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	job, err := s.repo.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("job_id", payload.JobID).Warn("generation_job_missing")
			return nil
		}
		return err
	}
	if job.Status != entity.JobStatusQueued || !job.Kind.NeedsImageStage() {
		return nil
	}
	logger := jobLogger(job)

	startedAt := s.now()
	generating := entity.JobStatusGeneratingImage
	err = s.repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusQueued}, entity.JobUpdates{
		Status:    &generating,
		StartedAt: &startedAt,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	s.notify(job, generating, "")

	if s.images == nil {
		_, err := s.failJob(ctx, job.ID, "image provider is not configured")
		return err
	}

	cfg := job.ParsedConfig()
	result, err := s.images.GenerateImage(llm.WithJobID(ctx, job.ID), llm.ImageRequest{
		Prompt:  job.Prompt,
		Style:   cfg.Style,
		Quality: cfg.Quality,
		Size:    cfg.Size,
	})
	if err != nil {
		logger.WithError(err).Warn("generation_image_failed")
		_, failErr := s.failJob(ctx, job.ID, err.Error())
		return failErr
	}

	asset, err := s.media.Persist(ctx, PersistRequest{
		UserID:    job.UserID,
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Kind:      entity.ModImage,
		Source:    result.ImageURL,
		Provider:  s.images.Name(),
		Prompt:    job.Prompt,
		Width:     result.Width,
		Height:    result.Height,
	})
	if err != nil {
		logger.WithError(err).Error("generation_image_persist_failed")
		_, failErr := s.failJob(ctx, job.ID, err.Error())
		return failErr
	}

	ready := entity.JobStatusImageReady
	updates := entity.JobUpdates{
		Status:             &ready,
		OutputImageAssetID: &asset.ID,
	}
	if job.Kind == entity.JobKindImage {
		completedAt := s.now()
		updates.CompletedAt = &completedAt
	}
	err = s.repo.Transaction(ctx, func(tx model.Repository) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		return tx.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusGeneratingImage}, updates)
	})
	if err != nil {
		s.media.Remove(ctx, asset.StorageKey)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("generation_image_discarded")
			return nil
		}
		return err
	}

	logger.WithField("asset_id", asset.ID).Info("generation_image_ready")
	s.notify(job, ready, "")

	if job.Kind != entity.JobKindVideo {
		return nil
	}
	job.Status = ready
	if err := s.dispatchStage(ctx, job); err != nil {
		logger.WithError(err).Error("generation_dispatch_failed")
		_, failErr := s.failJob(ctx, job.ID, "dispatch unavailable")
		return failErr
	}
	return nil
}

// HandleVideoRequested 调度器回调：用首帧图片向服务商提交视频任务
func (s *GenerationService) HandleVideoRequested(ctx context.Context, event dispatch.Event) error {
	var payload dispatch.JobPayload
	if err := event.Decode(&payload); err != nil {
		return err
	}

	job, err := s.repo.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("job_id", payload.JobID).Warn("generation_job_missing")
			return nil
		}
		return err
	}
	if !job.Kind.NeedsVideoStage() {
		return nil
	}
	logger := jobLogger(job)

	if job.Kind == entity.JobKindImageToVideo && job.Status == entity.JobStatusQueued {
		ready := entity.JobStatusImageReady
		startedAt := s.now()
		err := s.repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusQueued}, entity.JobUpdates{
			Status:             &ready,
			OutputImageAssetID: job.InputAssetID,
			StartedAt:          &startedAt,
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		job.Status = ready
		job.OutputImageAssetID = job.InputAssetID
	}
	if job.Status != entity.JobStatusImageReady || job.OutputImageAssetID == nil {
		return nil
	}

	image, err := s.repo.GetAsset(ctx, *job.OutputImageAssetID)
	if err != nil {
		logger.WithError(err).Warn("generation_first_frame_missing")
		_, failErr := s.failJob(ctx, job.ID, "first frame image is unavailable")
		return failErr
	}

	generating := entity.JobStatusGeneratingVideo
	err = s.repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusImageReady}, entity.JobUpdates{
		Status: &generating,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	s.notify(job, generating, "")

	if s.videos == nil {
		_, err := s.failJob(ctx, job.ID, "video provider is not configured")
		return err
	}

	cfg := job.ParsedConfig()
	result, err := s.videos.GenerateVideo(llm.WithJobID(ctx, job.ID), llm.VideoRequest{
		ImageURL:      firstFrameURL(image),
		Prompt:        job.Prompt,
		Duration:      cfg.Duration,
		Resolution:    cfg.Resolution,
		GenerateAudio: cfg.GenerateAudio,
		CallbackURL:   s.cfg.CallbackURL,
	})
	if err != nil {
		logger.WithError(err).Warn("generation_video_submit_failed")
		_, failErr := s.failJob(ctx, job.ID, err.Error())
		return failErr
	}

	providerJobID := result.JobID
	err = s.repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusGeneratingVideo}, entity.JobUpdates{
		ProviderJobID: &providerJobID,
	})
	if err != nil {
		if cancelErr := s.videos.CancelVideo(context.WithoutCancel(ctx), providerJobID); cancelErr != nil {
			logger.WithError(cancelErr).Warn("generation_video_cancel_failed")
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	logger.WithField("provider_job_id", providerJobID).Info("generation_video_submitted")
	return nil
}

// VideoOutcome 服务商返回的视频结果
type VideoOutcome struct {
	VideoURL     string
	ThumbnailURL string
}

// CompleteVideo 保存视频资产并把任务置为 VIDEO_READY，非 GENERATING_VIDEO 的任务直接忽略
func (s *GenerationService) CompleteVideo(ctx context.Context, jobID string, outcome VideoOutcome) (bool, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return false, notFoundOr(err, "job", jobID)
	}
	if job.Status != entity.JobStatusGeneratingVideo {
		return false, nil
	}
	logger := jobLogger(job)

	videoURL := strings.TrimSpace(outcome.VideoURL)
	if videoURL == "" {
		return s.failJob(ctx, job.ID, "provider returned no video")
	}

	cfg := job.ParsedConfig()
	provider := job.VideoProvider
	if s.videos != nil && provider == "" {
		provider = s.videos.Name()
	}
	asset, err := s.media.Persist(ctx, PersistRequest{
		UserID:          job.UserID,
		ProjectID:       job.ProjectID,
		JobID:           job.ID,
		Kind:            entity.ModVideo,
		Source:          videoURL,
		Provider:        provider,
		Prompt:          job.Prompt,
		DurationSeconds: cfg.Duration,
		ThumbnailURL:    strings.TrimSpace(outcome.ThumbnailURL),
	})
	if err != nil {
		logger.WithError(err).Error("generation_video_persist_failed")
		return s.failJob(ctx, job.ID, err.Error())
	}

	ready := entity.JobStatusVideoReady
	completedAt := s.now()
	err = s.repo.Transaction(ctx, func(tx model.Repository) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		return tx.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusGeneratingVideo}, entity.JobUpdates{
			Status:             &ready,
			OutputVideoAssetID: &asset.ID,
			CompletedAt:        &completedAt,
		})
	})
	if err != nil {
		s.media.Remove(ctx, asset.StorageKey)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	logger.WithField("asset_id", asset.ID).Info("generation_video_ready")
	s.notify(job, ready, "")
	return true, nil
}

// FailJob 把任务置为失败并退款，已是终态的任务返回 false
func (s *GenerationService) FailJob(ctx context.Context, jobID, message string) (bool, error) {
	return s.failJob(ctx, jobID, message)
}

// failJob 迁移到 FAILED 与退款在同一事务中完成，refunded_at 保证最多退款一次
func (s *GenerationService) failJob(ctx context.Context, jobID, message string) (bool, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return false, notFoundOr(err, "job", jobID)
	}
	if job.IsTerminal() {
		return false, nil
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = "generation failed"
	}
	failed := entity.JobStatusFailed
	now := s.now()
	refunded := false

	err = s.repo.Transaction(ctx, func(tx model.Repository) error {
		if err := tx.TransitionJob(ctx, job.ID, entity.NonTerminalStatuses(job.Kind), entity.JobUpdates{
			Status:       &failed,
			ErrorMessage: &message,
			CompletedAt:  &now,
		}); err != nil {
			return err
		}

		if err := tx.MarkJobRefunded(ctx, job.ID, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if job.CostCredits <= 0 {
			return nil
		}
		jobID := job.ID
		if _, err := s.credits.CreditTx(ctx, tx, CreditChange{
			UserID:      job.UserID,
			Amount:      job.CostCredits,
			Type:        entity.CreditTypeRefund,
			Description: "refund for failed generation",
			JobID:       &jobID,
		}); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	jobLogger(job).WithFields(logrus.Fields{
		"error":    message,
		"refunded": refunded,
	}).Warn("generation_job_failed")
	s.notify(job, failed, message)
	return true, nil
}

// Cancel 用户取消任务，失败并退款；已结束的任务返回 InvalidStateError
func (s *GenerationService) Cancel(ctx context.Context, userID uint, jobID string) (*entity.JobStatusView, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, &InvalidStateError{JobID: job.ID, Status: job.Status, Action: "cancel"}
	}
	logger := jobLogger(job)

	if canceller, ok := s.dispatcher.(dispatch.Canceller); ok {
		if _, err := canceller.CancelByKey(ctx, job.ID); err != nil {
			logger.WithError(err).Warn("generation_dispatch_cancel_failed")
		}
	}
	if job.ProviderJobID != nil && s.videos != nil {
		if err := s.videos.CancelVideo(llm.WithJobID(ctx, job.ID), *job.ProviderJobID); err != nil {
			logger.WithError(err).Warn("generation_video_cancel_failed")
		}
	}

	changed, err := s.failJob(ctx, job.ID, cancelledByUser)
	if err != nil {
		return nil, err
	}
	if !changed {
		current, getErr := s.repo.GetJob(ctx, job.ID)
		if getErr == nil && current.Status != entity.JobStatusFailed {
			return nil, &InvalidStateError{JobID: job.ID, Status: current.Status, Action: "cancel"}
		}
	}
	logger.Info("generation_job_cancelled")
	return s.GetJobStatus(ctx, userID, job.ID)
}

// Retry 把失败任务重置为 QUEUED 并重新投递。
// 失败时已退款，因此每次重试重新扣费并清除 refunded_at，下一次失败再退一次。
func (s *GenerationService) Retry(ctx context.Context, userID uint, jobID string) (*entity.JobStatusView, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.JobStatusFailed {
		return nil, &InvalidStateError{JobID: job.ID, Status: job.Status, Action: "retry"}
	}
	if job.RetryCount >= s.cfg.MaxRetries {
		return nil, &RetryExhaustedError{JobID: job.ID, Attempts: job.RetryCount, Max: s.cfg.MaxRetries}
	}

	queued := entity.JobStatusQueued
	emptyMessage := ""
	retryCount := job.RetryCount + 1
	err = s.repo.Transaction(ctx, func(tx model.Repository) error {
		if err := tx.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusFailed}, entity.JobUpdates{
			Status:             &queued,
			ErrorMessage:       &emptyMessage,
			RetryCount:         &retryCount,
			ClearProviderJobID: true,
			ClearCompletedAt:   true,
			ClearRefundedAt:    true,
		}); err != nil {
			return err
		}
		if job.CostCredits <= 0 {
			return nil
		}
		jobID := job.ID
		_, err := s.credits.DebitTx(ctx, tx, CreditChange{
			UserID:      job.UserID,
			Amount:      job.CostCredits,
			Type:        entity.CreditTypeGeneration,
			Description: fmt.Sprintf("%s generation retry %d", strings.ToLower(string(job.Kind)), retryCount),
			JobID:       &jobID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidStateError{JobID: job.ID, Status: job.Status, Action: "retry"}
		}
		return nil, err
	}

	job.Status = queued
	job.RetryCount = retryCount
	job.RefundedAt = nil
	logger := jobLogger(job)
	logger.WithField("retry_count", retryCount).Info("generation_job_retried")

	if err := s.dispatchStage(ctx, job); err != nil {
		logger.WithError(err).Error("generation_dispatch_failed")
		if _, failErr := s.failJob(ctx, job.ID, "dispatch unavailable"); failErr != nil {
			logger.WithError(failErr).Error("generation_dispatch_fail_failed")
		}
		return nil, ErrDispatchUnavailable
	}

	s.notify(job, queued, "")
	return s.GetJobStatus(ctx, userID, job.ID)
}

// GetJobStatus 查询任务状态，只能查看自己的任务
func (s *GenerationService) GetJobStatus(ctx context.Context, userID uint, jobID string) (*entity.JobStatusView, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	views, err := s.buildViews(ctx, []entity.DbGenerationJob{*job})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListJobs 分页列出用户的任务
func (s *GenerationService) ListJobs(ctx context.Context, userID uint, query entity.GenerationJobQuery) (*entity.JobListResponse, error) {
	query.UserID = userID
	jobs, meta, err := s.repo.ListJobs(ctx, &query)
	if err != nil {
		return nil, err
	}
	views, err := s.buildViews(ctx, jobs)
	if err != nil {
		return nil, err
	}
	return &entity.JobListResponse{Jobs: views, Meta: meta}, nil
}

func (s *GenerationService) ownedJob(ctx context.Context, userID uint, jobID string) (*entity.DbGenerationJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, newValidationError("id", "job id is required")
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, notFoundOr(err, "job", jobID)
	}
	if job.UserID != userID {
		return nil, &NotFoundError{Resource: "job", ID: jobID}
	}
	return job, nil
}

func (s *GenerationService) buildViews(ctx context.Context, jobs []entity.DbGenerationJob) ([]entity.JobStatusView, error) {
	var ids []string
	for _, job := range jobs {
		if job.OutputImageAssetID != nil {
			ids = append(ids, *job.OutputImageAssetID)
		}
		if job.OutputVideoAssetID != nil {
			ids = append(ids, *job.OutputVideoAssetID)
		}
	}
	assets, err := s.repo.GetAssetsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.DbAsset, len(assets))
	for i := range assets {
		byID[assets[i].ID] = &assets[i]
	}

	views := make([]entity.JobStatusView, 0, len(jobs))
	for _, job := range jobs {
		view := entity.JobStatusView{
			ID:           job.ID,
			Kind:         job.Kind,
			Status:       job.Status,
			Progress:     job.Status.Progress(),
			Prompt:       job.Prompt,
			CostCredits:  job.CostCredits,
			RetryCount:   job.RetryCount,
			ErrorMessage: job.ErrorMessage,
			CreatedAt:    job.CreatedAt,
			StartedAt:    job.StartedAt,
			CompletedAt:  job.CompletedAt,
		}
		if job.OutputImageAssetID != nil {
			view.ImageAsset = byID[*job.OutputImageAssetID].ToView()
		}
		if job.OutputVideoAssetID != nil {
			view.VideoAsset = byID[*job.OutputVideoAssetID].ToView()
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *GenerationService) notify(job *entity.DbGenerationJob, status entity.JobStatus, errMsg string) {
	if s.notifyFunc == nil || job == nil {
		return
	}
	s.notifyFunc(JobEvent{
		ClientID: job.ParsedConfig().ClientID,
		UserID:   job.UserID,
		JobID:    job.ID,
		Status:   status,
		Progress: status.Progress(),
		Error:    errMsg,
	})
}

func jobLogger(job *entity.DbGenerationJob) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"user_id": job.UserID,
		"kind":    job.Kind,
	})
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
