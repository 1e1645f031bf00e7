package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
)

type stubPoller struct {
	tasks map[string]*llm.AsyncTask
	err   error
}

func (p *stubPoller) Poll(_ context.Context, taskID string) (*llm.AsyncTask, error) {
	if p.err != nil {
		return nil, p.err
	}
	task, ok := p.tasks[taskID]
	if !ok {
		return nil, errors.New("unknown task")
	}
	return task, nil
}

type stubQueue struct {
	requeueCalls int
	purgeCalls   int
	purgeAge     time.Duration
}

func (q *stubQueue) RequeueStale(context.Context, time.Duration) (int64, error) {
	q.requeueCalls++
	return 2, nil
}

func (q *stubQueue) DeleteOldEvents(_ context.Context, olderThan time.Duration) (int64, error) {
	q.purgeCalls++
	q.purgeAge = olderThan
	return 7, nil
}

func newTestSweeper(env *testEnv, poller llm.TaskPoller, queue QueueMaintainer, offset time.Duration) *Sweeper {
	sweeper := NewSweeper(env.repo, env.gen, queue, SweeperConfig{
		StaleAfter:      30 * time.Minute,
		DispatchTimeout: 10 * time.Minute,
		Retention:       168 * time.Hour,
	})
	sweeper.poller = poller
	sweeper.now = func() time.Time { return time.Now().Add(offset) }
	return sweeper
}

func TestSweeperVideoJobs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		task       llm.AsyncTask
		pollErr    error
		offset     time.Duration
		wantStatus entity.JobStatus
		wantRefund bool
	}{
		{
			name:       "轮询成功补全视频",
			task:       llm.AsyncTask{Status: llm.TaskStatusSucceeded, VideoURL: llm.FakeVideoDataURL()},
			offset:     45 * time.Minute,
			wantStatus: entity.JobStatusVideoReady,
		},
		{
			name:       "轮询失败退款",
			task:       llm.AsyncTask{Status: llm.TaskStatusFailed, Error: "render error"},
			offset:     45 * time.Minute,
			wantStatus: entity.JobStatusFailed,
			wantRefund: true,
		},
		{
			name:       "仍在运行未超时",
			task:       llm.AsyncTask{Status: llm.TaskStatusRunning},
			offset:     45 * time.Minute,
			wantStatus: entity.JobStatusGeneratingVideo,
		},
		{
			name:       "仍在运行已超时",
			task:       llm.AsyncTask{Status: llm.TaskStatusRunning},
			offset:     2 * time.Hour,
			wantStatus: entity.JobStatusFailed,
			wantRefund: true,
		},
		{
			name:       "轮询出错且已超时",
			pollErr:    errors.New("provider down"),
			offset:     2 * time.Hour,
			wantStatus: entity.JobStatusFailed,
			wantRefund: true,
		},
		{
			name:       "未到卡住阈值不处理",
			task:       llm.AsyncTask{Status: llm.TaskStatusFailed},
			offset:     0,
			wantStatus: entity.JobStatusGeneratingVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.createUser(t, "sweep@example.com", 20)
			job := submitVideoJob(t, env, user.ID)

			task := tt.task
			task.ID = *job.ProviderJobID
			poller := &stubPoller{tasks: map[string]*llm.AsyncTask{task.ID: &task}, err: tt.pollErr}
			sweeper := newTestSweeper(env, poller, nil, tt.offset)
			sweeper.RunOnce(ctx)

			current := env.job(t, job.ID)
			if current.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, current.Status)
			}
			wantBalance := int64(0)
			if tt.wantRefund {
				wantBalance = 20
			}
			if got := env.balance(t, user.ID); got != wantBalance {
				t.Fatalf("expected balance %d, got %d", wantBalance, got)
			}
			env.assertConsistent(t, user.ID)
		})
	}
}

func TestSweeperPendingJobs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "pending@example.com", 10)

	done, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "finished scene"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.drain(t)

	stuck, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "lost event"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.dispatcher.take()

	queue := &stubQueue{}
	sweeper := newTestSweeper(env, nil, queue, time.Hour)
	result := sweeper.RunOnce(ctx)

	if result.Failed != 1 {
		t.Fatalf("expected one failed job, got %#v", result)
	}
	if env.job(t, stuck.JobID).Status != entity.JobStatusFailed {
		t.Fatal("stuck QUEUED job should fail")
	}
	if env.job(t, done.JobID).Status != entity.JobStatusImageReady {
		t.Fatal("terminal IMAGE_READY job must be left alone")
	}
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("expected stuck job refunded, got balance %d", got)
	}
	if queue.requeueCalls != 1 || queue.purgeCalls != 1 || queue.purgeAge != 168*time.Hour {
		t.Fatalf("unexpected queue maintenance %#v", queue)
	}
	if result.Requeued != 2 || result.Purged != 7 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestSweeperWithoutPollerFailsStaleVideo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "nopoll@example.com", 20)
	job := submitVideoJob(t, env, user.ID)

	sweeper := newTestSweeper(env, nil, nil, 45*time.Minute)
	sweeper.RunOnce(ctx)

	current := env.job(t, job.ID)
	if current.Status != entity.JobStatusFailed || current.ErrorMessage != "video generation timed out" {
		t.Fatalf("unexpected job %#v", current)
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv(t)

	bad := NewSweeper(env.repo, env.gen, nil, SweeperConfig{Schedule: "not a schedule"})
	if err := bad.Start(); err == nil {
		t.Fatal("expected invalid schedule error")
	}

	sweeper := NewSweeper(env.repo, env.gen, nil, SweeperConfig{Schedule: "@every 1h"})
	if sweeper.poller == nil {
		t.Fatal("fake video provider should be used as poller")
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	sweeper.Stop()
	sweeper.Stop()
}
