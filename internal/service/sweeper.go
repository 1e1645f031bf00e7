package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
	"vidgenie/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const defaultSweepBatch = 50

// QueueMaintainer 调度队列的维护操作
type QueueMaintainer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteOldEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SweeperConfig 清扫任务配置
type SweeperConfig struct {
	Schedule string
	// StaleAfter 任务在同一状态停留超过该时长视为卡住
	StaleAfter time.Duration
	// DispatchTimeout 处理中的调度事件超过该时长重新入队
	DispatchTimeout time.Duration
	// Retention 已完成调度事件的保留时长
	Retention time.Duration
	BatchSize int
}

// SweepResult 一轮清扫的统计
type SweepResult struct {
	Polled    int
	Completed int
	Failed    int
	Requeued  int64
	Purged    int64
}

// Sweeper 定时兜底：轮询丢失回调的视频任务，失败并退款卡住的任务，清理调度队列
type Sweeper struct {
	repo        model.Repository
	generations *GenerationService
	poller      llm.TaskPoller
	queue       QueueMaintainer
	cfg         SweeperConfig

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	now     func() time.Time
}

func NewSweeper(repo model.Repository, generations *GenerationService, queue QueueMaintainer, cfg SweeperConfig) *Sweeper {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}

	var poller llm.TaskPoller
	if generations != nil {
		poller, _ = generations.VideoGenerator().(llm.TaskPoller)
	}

	return &Sweeper{
		repo:        repo,
		generations: generations,
		poller:      poller,
		queue:       queue,
		cfg:         cfg,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:         time.Now,
	}
}

// Start 按 Schedule 注册清扫任务并启动
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add sweeper schedule: %w", err)
	}
	s.cron.Start()
	s.started = true

	logrus.WithFields(logrus.Fields{
		"schedule":    s.cfg.Schedule,
		"stale_after": s.cfg.StaleAfter.String(),
		"polling":     s.poller != nil,
	}).Info("sweeper_started")
	return nil
}

// Stop 停止调度并等待正在运行的清扫结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	logrus.Info("sweeper_stopped")
}

// RunOnce 执行一轮清扫
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	var result SweepResult
	cutoff := s.now().Add(-s.cfg.StaleAfter)

	s.sweepVideoJobs(ctx, cutoff, &result)
	s.sweepPendingJobs(ctx, cutoff, &result)
	s.maintainQueue(ctx, &result)

	if result.Polled+result.Completed+result.Failed > 0 || result.Requeued+result.Purged > 0 {
		logrus.WithFields(logrus.Fields{
			"polled":    result.Polled,
			"completed": result.Completed,
			"failed":    result.Failed,
			"requeued":  result.Requeued,
			"purged":    result.Purged,
		}).Info("sweeper_run_done")
	}
	return result
}

func (s *Sweeper) sweepVideoJobs(ctx context.Context, cutoff time.Time, result *SweepResult) {
	jobs, err := s.repo.ListStaleJobs(ctx, []entity.JobStatus{entity.JobStatusGeneratingVideo}, cutoff, s.cfg.BatchSize)
	if err != nil {
		logrus.WithError(err).Error("sweeper_list_video_jobs_failed")
		return
	}

	deadline := s.now().Add(-2 * s.cfg.StaleAfter)
	for i := range jobs {
		job := &jobs[i]
		logger := jobLogger(job)

		if s.poller != nil && job.ProviderJobID != nil {
			result.Polled++
			task, err := s.poller.Poll(llm.WithJobID(ctx, job.ID), *job.ProviderJobID)
			if err != nil {
				logger.WithError(err).Warn("sweeper_poll_failed")
			} else {
				switch task.Status {
				case llm.TaskStatusSucceeded:
					changed, err := s.generations.CompleteVideo(ctx, job.ID, VideoOutcome{
						VideoURL:     task.VideoURL,
						ThumbnailURL: task.LastFrameURL,
					})
					if err != nil {
						logger.WithError(err).Error("sweeper_complete_failed")
					} else if changed {
						result.Completed++
					}
					continue
				case llm.TaskStatusFailed, llm.TaskStatusCancelled:
					message := task.Error
					if message == "" {
						message = "video generation " + string(task.Status)
					}
					s.fail(ctx, job, message, result)
					continue
				}
			}
		}

		if job.UpdatedAt.Before(deadline) || s.poller == nil {
			s.fail(ctx, job, "video generation timed out", result)
		}
	}
}

func (s *Sweeper) sweepPendingJobs(ctx context.Context, cutoff time.Time, result *SweepResult) {
	statuses := []entity.JobStatus{
		entity.JobStatusQueued,
		entity.JobStatusGeneratingImage,
		entity.JobStatusImageReady,
	}
	jobs, err := s.repo.ListStaleJobs(ctx, statuses, cutoff, s.cfg.BatchSize)
	if err != nil {
		logrus.WithError(err).Error("sweeper_list_pending_jobs_failed")
		return
	}
	for i := range jobs {
		job := &jobs[i]
		if job.IsTerminal() {
			continue
		}
		s.fail(ctx, job, "generation timed out", result)
	}
}

func (s *Sweeper) fail(ctx context.Context, job *entity.DbGenerationJob, message string, result *SweepResult) {
	changed, err := s.generations.FailJob(ctx, job.ID, message)
	if err != nil {
		jobLogger(job).WithError(err).Error("sweeper_fail_job_failed")
		return
	}
	if changed {
		result.Failed++
	}
}

func (s *Sweeper) maintainQueue(ctx context.Context, result *SweepResult) {
	if s.queue == nil {
		return
	}
	if s.cfg.DispatchTimeout > 0 {
		requeued, err := s.queue.RequeueStale(ctx, s.cfg.DispatchTimeout)
		if err != nil {
			logrus.WithError(err).Warn("sweeper_requeue_failed")
		}
		result.Requeued = requeued
	}
	if s.cfg.Retention > 0 {
		purged, err := s.queue.DeleteOldEvents(ctx, s.cfg.Retention)
		if err != nil {
			logrus.WithError(err).Warn("sweeper_purge_failed")
		}
		result.Purged = purged
	}
}
