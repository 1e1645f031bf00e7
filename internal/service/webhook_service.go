package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"vidgenie/internal/auth"
	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
	"vidgenie/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookConfig 回调验签配置
type WebhookConfig struct {
	Secret        string
	AllowUnsigned bool
	Production    bool
}

// WebhookService 处理视频服务商的异步回调
type WebhookService struct {
	repo        model.Repository
	generations *GenerationService
	cfg         WebhookConfig
}

func NewWebhookService(repo model.Repository, generations *GenerationService, cfg WebhookConfig) *WebhookService {
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	return &WebhookService{repo: repo, generations: generations, cfg: cfg}
}

// HandleProviderWebhook 验签、落审计记录，再按回调状态完成或失败任务
//
// 同一任务的重复回调不会产生任何变化。
func (s *WebhookService) HandleProviderWebhook(ctx context.Context, rawBody []byte, signature string) (*entity.WebhookAckResponse, error) {
	signatureValid, err := s.verify(rawBody, signature)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"reason":     err.Error(),
			"body_bytes": len(rawBody),
		}).Warn("webhook_signature_rejected")
		return nil, err
	}

	var payload entity.VideoWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, newValidationError("body", "invalid webhook payload")
	}
	providerJobID := strings.TrimSpace(payload.JobIdentifier())
	if providerJobID == "" {
		return nil, newValidationError("id", "provider job id is required")
	}

	record := &entity.DbWebhookEvent{
		Provider:       strings.TrimSpace(payload.Provider),
		ProviderJobID:  providerJobID,
		EventStatus:    strings.ToLower(strings.TrimSpace(payload.Status)),
		Payload:        append([]byte(nil), rawBody...),
		SignatureValid: signatureValid,
	}
	if err := s.repo.CreateWebhookEvent(ctx, record); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"webhook_id":      record.ID,
		"provider_job_id": providerJobID,
		"status":          record.EventStatus,
	})

	job, err := s.repo.GetJobByProviderJobID(ctx, providerJobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.markProcessed(ctx, record, nil, "job not found")
			logger.Warn("webhook_job_not_found")
			return nil, &NotFoundError{Resource: "job", ID: providerJobID}
		}
		return nil, err
	}
	jobID := job.ID
	logger = logger.WithField("job_id", jobID)

	var changed bool
	var processErr error
	switch llm.MapTaskStatus(payload.Status) {
	case llm.TaskStatusSucceeded:
		changed, processErr = s.generations.CompleteVideo(ctx, job.ID, VideoOutcome{
			VideoURL:     payload.ResultURL(),
			ThumbnailURL: payload.ThumbnailOrLastFrame(),
		})
	case llm.TaskStatusFailed, llm.TaskStatusCancelled:
		message := payload.FailureMessage()
		if message == "" {
			message = "video generation " + record.EventStatus
		}
		changed, processErr = s.generations.FailJob(ctx, job.ID, message)
	default:
		s.markProcessed(ctx, record, &jobID, "")
		logger.Debug("webhook_progress_ignored")
		return &entity.WebhookAckResponse{Success: true, Message: "acknowledged"}, nil
	}

	if processErr != nil {
		s.markProcessed(ctx, record, &jobID, processErr.Error())
		logger.WithError(processErr).Error("webhook_processing_failed")
		return nil, processErr
	}
	s.markProcessed(ctx, record, &jobID, "")

	if !changed {
		logger.Info("webhook_duplicate_ignored")
		return &entity.WebhookAckResponse{Success: true, Message: "already processed"}, nil
	}
	logger.Info("webhook_processed")
	return &entity.WebhookAckResponse{Success: true, Message: "processed"}, nil
}

// verify 返回签名是否有效；未配置密钥时只有非生产环境显式放开才接受
func (s *WebhookService) verify(rawBody []byte, signature string) (bool, error) {
	if s.cfg.Secret == "" {
		if s.cfg.AllowUnsigned && !s.cfg.Production {
			logrus.Warn("webhook_accepted_unsigned")
			return false, nil
		}
		return false, &InvalidSignatureError{Reason: "webhook secret is not configured"}
	}
	if strings.TrimSpace(signature) == "" {
		return false, &InvalidSignatureError{Reason: "missing signature"}
	}
	if !auth.VerifySignature(s.cfg.Secret, rawBody, signature) {
		return false, &InvalidSignatureError{Reason: "signature mismatch"}
	}
	return true, nil
}

func (s *WebhookService) markProcessed(ctx context.Context, record *entity.DbWebhookEvent, jobID *string, processingErr string) {
	if err := s.repo.MarkWebhookEventProcessed(ctx, record.ID, jobID, processingErr); err != nil {
		logrus.WithError(err).WithField("webhook_id", record.ID).Warn("webhook_mark_processed_failed")
	}
}
