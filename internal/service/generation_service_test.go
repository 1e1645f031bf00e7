package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vidgenie/internal/dispatch"
	"vidgenie/internal/entity"
	"vidgenie/internal/llm"
	"vidgenie/internal/model"
	"vidgenie/internal/moderation"
	"vidgenie/internal/storage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	events    []dispatch.Event
	cancelled []string
	err       error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event dispatch.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) CancelByKey(_ context.Context, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, key)
	kept := d.events[:0]
	var removed int64
	for _, event := range d.events {
		if event.Key == key {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	d.events = kept
	return removed, nil
}

func (d *recordingDispatcher) take() []dispatch.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	events := d.events
	d.events = nil
	return events
}

func (d *recordingDispatcher) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type testEnv struct {
	repo       model.Repository
	credits    *CreditService
	gen        *GenerationService
	webhooks   *WebhookService
	assets     *AssetService
	media      *MediaStore
	images     *llm.FakeImage
	videos     *llm.FakeVideo
	gate       *moderation.FakeGate
	dispatcher *recordingDispatcher

	mu       sync.Mutex
	notified []JobEvent
}

const testWebhookSecret = "whsec-test"

func newTestRepo(t *testing.T) model.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := model.MigrateSchema(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return model.NewGormRepository(db)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newTestRepo(t)

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	env := &testEnv{
		repo:       repo,
		credits:    NewCreditService(repo),
		media:      NewMediaStore(store, storage.NewURLBuilder("https://cdn.example.com/files"), storage.TypeLocal),
		images:     llm.NewFakeImage("fake"),
		videos:     llm.NewFakeVideo("fake", llm.FakeVideoOptions{Delay: time.Hour}),
		gate:       &moderation.FakeGate{},
		dispatcher: &recordingDispatcher{},
	}
	env.gen = NewGenerationService(GenerationDeps{
		Repo:       repo,
		Credits:    env.credits,
		Moderation: env.gate,
		Dispatcher: env.dispatcher,
		Images:     env.images,
		Videos:     env.videos,
		Media:      env.media,
		Config:     GenerationConfig{CallbackURL: "https://api.example.com/api/webhooks/video"},
	})
	env.gen.SetNotifyFunc(func(event JobEvent) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.notified = append(env.notified, event)
	})
	env.webhooks = NewWebhookService(repo, env.gen, WebhookConfig{Secret: testWebhookSecret})
	env.assets = NewAssetService(repo, env.media)
	return env
}

// createUser 通过流水发放初始积分，保证余额与流水一致
func (e *testEnv) createUser(t *testing.T, email string, balance int64) *entity.DbUser {
	t.Helper()
	ctx := context.Background()
	user := &entity.DbUser{Email: email, PasswordHash: "x", Role: entity.UserRoleUser, Plan: entity.PlanFree, IsActive: true}
	if err := e.repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if balance > 0 {
		if _, err := e.credits.Credit(ctx, CreditChange{UserID: user.ID, Amount: balance, Type: entity.CreditTypePromotion, Description: "seed"}); err != nil {
			t.Fatalf("seed credits: %v", err)
		}
	}
	return user
}

// drain 依次执行已投递的事件，直到没有新事件
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		events := e.dispatcher.take()
		if len(events) == 0 {
			return
		}
		for _, event := range events {
			var err error
			switch event.Name {
			case dispatch.EventImageRequested:
				err = e.gen.HandleImageRequested(ctx, event)
			case dispatch.EventVideoRequested:
				err = e.gen.HandleVideoRequested(ctx, event)
			default:
				t.Fatalf("unexpected event %q", event.Name)
			}
			if err != nil {
				t.Fatalf("handle %s: %v", event.Name, err)
			}
		}
	}
	t.Fatal("events did not settle")
}

func (e *testEnv) job(t *testing.T, id string) *entity.DbGenerationJob {
	t.Helper()
	job, err := e.repo.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (e *testEnv) balance(t *testing.T, userID uint) int64 {
	t.Helper()
	balance, err := e.credits.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (e *testEnv) ledger(t *testing.T, userID uint, jobID string) []entity.DbCreditLedger {
	t.Helper()
	entries, _, err := e.repo.ListLedger(context.Background(), &entity.CreditLedgerQuery{UserID: userID, JobID: jobID})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	return entries
}

func (e *testEnv) assertConsistent(t *testing.T, userID uint) {
	t.Helper()
	report, err := e.credits.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("balance %d does not match ledger sum %d", report.Balance, report.LedgerSum)
	}
}

func (e *testEnv) countJobs(t *testing.T, userID uint) int64 {
	t.Helper()
	_, meta, err := e.repo.ListJobs(context.Background(), &entity.GenerationJobQuery{UserID: userID})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	return meta.Total
}

func TestSubmitImageJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "img@example.com", 12)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{
		Kind:     "image",
		Prompt:   "  a red fox in the snow ",
		Size:     "32x32",
		ClientID: "tab-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != entity.JobStatusQueued || resp.Cost != 5 {
		t.Fatalf("unexpected response %#v", resp)
	}
	if got := env.balance(t, user.ID); got != 7 {
		t.Fatalf("expected balance 7, got %d", got)
	}

	env.drain(t)

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusImageReady || !job.IsTerminal() {
		t.Fatalf("expected terminal IMAGE_READY, got %s", job.Status)
	}
	if job.Prompt != "a red fox in the snow" {
		t.Fatalf("prompt should be trimmed, got %q", job.Prompt)
	}
	if job.OutputImageAssetID == nil || job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("missing output or timestamps: %#v", job)
	}

	view, err := env.gen.GetJobStatus(ctx, user.ID, job.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.Progress != 50 || view.ImageAsset == nil {
		t.Fatalf("unexpected view %#v", view)
	}
	if view.ImageAsset.Width != 32 || view.ImageAsset.MimeType != "image/png" {
		t.Fatalf("unexpected asset %#v", view.ImageAsset)
	}
	if !strings.HasPrefix(view.ImageAsset.URL, "https://cdn.example.com/files/images/") {
		t.Fatalf("unexpected asset url %q", view.ImageAsset.URL)
	}

	env.mu.Lock()
	defer env.mu.Unlock()
	if len(env.notified) == 0 || env.notified[len(env.notified)-1].ClientID != "tab-1" {
		t.Fatalf("expected notifications for client, got %#v", env.notified)
	}
	env.assertConsistent(t, user.ID)
}

func TestSubmitComboJobRefundedOnWebhookFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "combo@example.com", 20)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{
		Kind:       "VIDEO",
		Prompt:     "a lighthouse at dusk, slow pan",
		Duration:   5,
		Resolution: "720P",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.balance(t, user.ID) != 0 {
		t.Fatalf("expected balance 0 after debit")
	}
	debits := env.ledger(t, user.ID, resp.JobID)
	if len(debits) != 1 || debits[0].Amount != -20 || debits[0].Type != entity.CreditTypeGeneration {
		t.Fatalf("expected one -20 debit, got %#v", debits)
	}
	if env.job(t, resp.JobID).Status != entity.JobStatusQueued {
		t.Fatal("expected QUEUED after submit")
	}

	env.drain(t)
	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusGeneratingVideo || job.ProviderJobID == nil {
		t.Fatalf("expected GENERATING_VIDEO with provider id, got %s", job.Status)
	}
	if cfg := job.ParsedConfig(); cfg.Resolution != "720p" || cfg.Duration != 5 {
		t.Fatalf("unexpected config %#v", cfg)
	}

	body, err := llm.FakeWebhookBody(*job.ProviderJobID, llm.TaskStatusFailed, "", "content policy")
	if err != nil {
		t.Fatalf("build body: %v", err)
	}
	ack, err := env.webhooks.HandleProviderWebhook(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if !ack.Success {
		t.Fatalf("unexpected ack %#v", ack)
	}

	job = env.job(t, resp.JobID)
	if job.Status != entity.JobStatusFailed || job.ErrorMessage != "content policy" || job.RefundedAt == nil {
		t.Fatalf("unexpected job after failure %#v", job)
	}
	if got := env.balance(t, user.ID); got != 20 {
		t.Fatalf("expected balance 20 after refund, got %d", got)
	}
	entries := env.ledger(t, user.ID, resp.JobID)
	var refunds []entity.DbCreditLedger
	for _, entry := range entries {
		if entry.Type == entity.CreditTypeRefund {
			refunds = append(refunds, entry)
		}
	}
	if len(refunds) != 1 || refunds[0].Amount != 20 {
		t.Fatalf("expected one +20 refund, got %#v", refunds)
	}
	env.assertConsistent(t, user.ID)
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		balance int64
		req     entity.SubmitGenerationRequest
		setup   func(env *testEnv)
		check   func(t *testing.T, err error)
	}{
		{
			name:    "余额不足",
			balance: 4,
			req:     entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"},
			check: func(t *testing.T, err error) {
				var insufficient *InsufficientCreditsError
				if !errors.As(err, &insufficient) || insufficient.Have != 4 || insufficient.Need != 5 {
					t.Fatalf("expected InsufficientCredits{4,5}, got %v", err)
				}
			},
		},
		{
			name:    "提示词过短",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: " a "},
			check: func(t *testing.T, err error) {
				var validation *ValidationError
				if !errors.As(err, &validation) || validation.Field != "prompt" {
					t.Fatalf("expected prompt validation error, got %v", err)
				}
			},
		},
		{
			name:    "未知类型",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "audio", Prompt: "a quiet harbour"},
			check: func(t *testing.T, err error) {
				var validation *ValidationError
				if !errors.As(err, &validation) || validation.Field != "kind" {
					t.Fatalf("expected kind validation error, got %v", err)
				}
			},
		},
		{
			name:    "审核拒绝",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "something forbidden"},
			setup:   func(env *testEnv) { env.gate.RejectWith("violence") },
			check: func(t *testing.T, err error) {
				var rejected *ContentRejectedError
				if !errors.As(err, &rejected) || rejected.Reason != "violence" {
					t.Fatalf("expected ContentRejected, got %v", err)
				}
			},
		},
		{
			name:    "审核服务异常",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"},
			setup:   func(env *testEnv) { env.gate.FailWith(errors.New("moderation down")) },
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "moderation down") {
					t.Fatalf("expected moderation error, got %v", err)
				}
			},
		},
		{
			name:    "视频时长越界",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "VIDEO", Prompt: "a quiet harbour", Duration: 30},
			check: func(t *testing.T, err error) {
				var validation *ValidationError
				if !errors.As(err, &validation) || validation.Field != "duration" {
					t.Fatalf("expected duration validation error, got %v", err)
				}
			},
		},
		{
			name:    "图生视频缺少输入",
			balance: 50,
			req:     entity.SubmitGenerationRequest{Kind: "IMAGE_TO_VIDEO", Prompt: "make it move"},
			check: func(t *testing.T, err error) {
				var validation *ValidationError
				if !errors.As(err, &validation) || validation.Field != "input_asset_id" {
					t.Fatalf("expected input asset validation error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			user := env.createUser(t, "reject@example.com", tt.balance)
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.gen.Submit(ctx, user.ID, tt.req)
			tt.check(t, err)

			if n := env.countJobs(t, user.ID); n != 0 {
				t.Fatalf("expected no job rows, got %d", n)
			}
			if got := env.balance(t, user.ID); got != tt.balance {
				t.Fatalf("balance changed to %d", got)
			}
			if len(env.dispatcher.take()) != 0 {
				t.Fatal("nothing should be dispatched")
			}
			env.assertConsistent(t, user.ID)
		})
	}
}

func TestSubmitDispatchUnavailable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "dispatch@example.com", 10)
	env.dispatcher.failWith(errors.New("queue down"))

	_, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if !errors.Is(err, ErrDispatchUnavailable) {
		t.Fatalf("expected ErrDispatchUnavailable, got %v", err)
	}

	jobs, _, err := env.repo.ListJobs(ctx, &entity.GenerationJobQuery{UserID: user.ID})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job row, got %d (%v)", len(jobs), err)
	}
	if jobs[0].Status != entity.JobStatusFailed || jobs[0].RefundedAt == nil {
		t.Fatalf("expected failed and refunded job, got %#v", jobs[0])
	}
	if got := env.balance(t, user.ID); got != 10 {
		t.Fatalf("expected full refund, got balance %d", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestImageProviderFailureRefunds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "provider@example.com", 5)
	env.images.FailWith(errors.New("quota exceeded"))

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.drain(t)

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusFailed || !strings.Contains(job.ErrorMessage, "quota exceeded") {
		t.Fatalf("unexpected job %#v", job)
	}
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("expected refund, got balance %d", got)
	}

	// 再次失败不会重复退款
	changed, err := env.gen.FailJob(ctx, job.ID, "again")
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestImageToVideoJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "i2v@example.com", 40)
	other := env.createUser(t, "other@example.com", 40)

	first, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a paper boat"})
	if err != nil {
		t.Fatalf("submit image: %v", err)
	}
	env.drain(t)
	inputID := *env.job(t, first.JobID).OutputImageAssetID

	t.Run("他人资产不可用", func(t *testing.T) {
		_, err := env.gen.Submit(ctx, other.ID, entity.SubmitGenerationRequest{Kind: "IMAGE_TO_VIDEO", Prompt: "make it sail", InputAssetID: &inputID})
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE_TO_VIDEO", Prompt: "make it sail", InputAssetID: &inputID})
	if err != nil {
		t.Fatalf("submit i2v: %v", err)
	}
	if resp.Cost != 15 {
		t.Fatalf("expected cost 15, got %d", resp.Cost)
	}
	env.drain(t)

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusGeneratingVideo || job.ProviderJobID == nil {
		t.Fatalf("expected GENERATING_VIDEO, got %s", job.Status)
	}
	if job.OutputImageAssetID == nil || *job.OutputImageAssetID != inputID {
		t.Fatal("input asset should become the first frame")
	}
	if env.images.Calls() != 1 {
		t.Fatalf("image provider should not be called for i2v, calls=%d", env.images.Calls())
	}

	body, err := llm.FakeWebhookBody(*job.ProviderJobID, llm.TaskStatusSucceeded, llm.FakeVideoDataURL(), "")
	if err != nil {
		t.Fatalf("build body: %v", err)
	}
	if _, err := env.webhooks.HandleProviderWebhook(ctx, body, signBody(body)); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	view, err := env.gen.GetJobStatus(ctx, user.ID, job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != entity.JobStatusVideoReady || view.Progress != 100 || view.VideoAsset == nil {
		t.Fatalf("unexpected view %#v", view)
	}
	if view.VideoAsset.MimeType != "video/mp4" || view.VideoAsset.Kind != entity.ModVideo {
		t.Fatalf("unexpected video asset %#v", view.VideoAsset)
	}
	if got := env.balance(t, user.ID); got != 40-5-15 {
		t.Fatalf("unexpected balance %d", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "cancel@example.com", 20)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "VIDEO", Prompt: "city lights timelapse"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.drain(t)
	job := env.job(t, resp.JobID)

	t.Run("他人不可取消", func(t *testing.T) {
		_, err := env.gen.Cancel(ctx, user.ID+100, job.ID)
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	view, err := env.gen.Cancel(ctx, user.ID, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if view.Status != entity.JobStatusFailed || view.ErrorMessage != cancelledByUser {
		t.Fatalf("unexpected view %#v", view)
	}
	task, err := env.videos.Poll(ctx, *job.ProviderJobID)
	if err != nil || task.Status != llm.TaskStatusCancelled {
		t.Fatalf("provider task should be cancelled, got %#v (%v)", task, err)
	}
	if got := env.balance(t, user.ID); got != 20 {
		t.Fatalf("expected refund, got balance %d", got)
	}

	t.Run("终态不可取消", func(t *testing.T) {
		_, err := env.gen.Cancel(ctx, user.ID, job.ID)
		var invalid *InvalidStateError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidState, got %v", err)
		}
	})

	// 取消后迟到的成功回调不改变状态
	body, _ := llm.FakeWebhookBody(*job.ProviderJobID, llm.TaskStatusSucceeded, llm.FakeVideoDataURL(), "")
	ack, err := env.webhooks.HandleProviderWebhook(ctx, body, signBody(body))
	var notFound *NotFoundError
	if err == nil && ack.Message != "already processed" {
		t.Fatalf("late webhook should be ignored, got %#v", ack)
	}
	if err != nil && !errors.As(err, &notFound) {
		t.Fatalf("unexpected webhook error %v", err)
	}
	if env.job(t, job.ID).Status != entity.JobStatusFailed {
		t.Fatal("cancelled job must stay FAILED")
	}
	env.assertConsistent(t, user.ID)
}

func TestCancelQueuedJobDropsEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "queued@example.com", 5)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.gen.Cancel(ctx, user.ID, resp.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(env.dispatcher.take()) != 0 {
		t.Fatal("pending event should be removed")
	}
	if len(env.dispatcher.cancelled) != 1 || env.dispatcher.cancelled[0] != resp.JobID {
		t.Fatalf("expected cancel by job key, got %v", env.dispatcher.cancelled)
	}
	if env.images.Calls() != 0 {
		t.Fatal("provider must not be called")
	}
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("expected refund, got %d", got)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "retry@example.com", 5)
	env.images.FailWith(errors.New("upstream 503"))

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.drain(t)

	t.Run("非失败任务不可重试", func(t *testing.T) {
		other := env.createUser(t, "retry-other@example.com", 5)
		env.images.FailWith(nil)
		r, err := env.gen.Submit(ctx, other.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		env.drain(t)
		_, err = env.gen.Retry(ctx, other.ID, r.JobID)
		var invalid *InvalidStateError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidState, got %v", err)
		}
		env.images.FailWith(errors.New("upstream 503"))
	})

	for attempt := 1; attempt <= 3; attempt++ {
		view, err := env.gen.Retry(ctx, user.ID, resp.JobID)
		if err != nil {
			t.Fatalf("retry %d: %v", attempt, err)
		}
		if view.Status != entity.JobStatusQueued || view.RetryCount != attempt || view.ErrorMessage != "" {
			t.Fatalf("unexpected view after retry %d: %#v", attempt, view)
		}
		env.drain(t)
		if env.job(t, resp.JobID).Status != entity.JobStatusFailed {
			t.Fatalf("retry %d should fail again", attempt)
		}
	}

	_, err = env.gen.Retry(ctx, user.ID, resp.JobID)
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 || exhausted.Max != 3 {
		t.Fatalf("expected RetryExhausted, got %v", err)
	}
	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusFailed || job.RetryCount != 3 {
		t.Fatalf("exhausted retry must not mutate the job: %#v", job)
	}

	// 每次尝试各扣一次、各退一次
	entries := env.ledger(t, user.ID, resp.JobID)
	if len(entries) != 8 {
		t.Fatalf("expected four debits and four refunds, got %d entries", len(entries))
	}
	var debits, refunds int
	for _, entry := range entries {
		switch {
		case entry.Type == entity.CreditTypeGeneration && entry.Amount == -5:
			debits++
		case entry.Type == entity.CreditTypeRefund && entry.Amount == 5:
			refunds++
		default:
			t.Fatalf("unexpected ledger entry %#v", entry)
		}
	}
	if debits != 4 || refunds != 4 {
		t.Fatalf("expected 4 debits and 4 refunds, got %d/%d", debits, refunds)
	}
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("expected balance 5, got %d", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "retry-ok@example.com", 5)
	env.images.FailWith(errors.New("flaky"))

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.drain(t)
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("failed job should be refunded, balance %d", got)
	}

	env.images.FailWith(nil)
	if _, err := env.gen.Retry(ctx, user.ID, resp.JobID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := env.balance(t, user.ID); got != 0 {
		t.Fatalf("retry should debit again, balance %d", got)
	}
	env.drain(t)

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusImageReady || job.CompletedAt == nil || job.ErrorMessage != "" {
		t.Fatalf("unexpected job %#v", job)
	}
	if job.RefundedAt != nil {
		t.Fatalf("successful retry must not carry a refund stamp: %v", job.RefundedAt)
	}
	if got := env.balance(t, user.ID); got != 0 {
		t.Fatalf("expected balance 0 after successful retry, got %d", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestCancelThenRetryChargesOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "cancel-retry@example.com", 5)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.gen.Cancel(ctx, user.ID, resp.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.drain(t)
	if got := env.balance(t, user.ID); got != 5 {
		t.Fatalf("cancel should refund, balance %d", got)
	}

	if _, err := env.gen.Retry(ctx, user.ID, resp.JobID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	env.drain(t)

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusImageReady {
		t.Fatalf("expected IMAGE_READY, got %s", job.Status)
	}
	if job.RefundedAt != nil {
		t.Fatalf("successful job must not carry a refund stamp")
	}

	var net int64
	for _, entry := range env.ledger(t, user.ID, resp.JobID) {
		net += entry.Amount
	}
	if net != -job.CostCredits {
		t.Fatalf("expected net charge %d, got %d", job.CostCredits, -net)
	}
	if got := env.balance(t, user.ID); got != 5-job.CostCredits {
		t.Fatalf("expected balance %d, got %d", 5-job.CostCredits, got)
	}
	env.assertConsistent(t, user.ID)
}

func TestRetryRequiresCredits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "retry-broke@example.com", 5)

	resp, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.gen.Cancel(ctx, user.ID, resp.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.drain(t)

	// 退回的积分花在另一个任务上
	spend, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a busy market"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	env.drain(t)
	if env.job(t, spend.JobID).Status != entity.JobStatusImageReady {
		t.Fatalf("second job should succeed")
	}

	_, err = env.gen.Retry(ctx, user.ID, resp.JobID)
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) || insufficient.Have != 0 || insufficient.Need != 5 {
		t.Fatalf("expected InsufficientCredits{0, 5}, got %v", err)
	}

	job := env.job(t, resp.JobID)
	if job.Status != entity.JobStatusFailed || job.RetryCount != 0 || job.RefundedAt == nil {
		t.Fatalf("rejected retry must leave the job untouched: %#v", job)
	}
	if got := len(env.ledger(t, user.ID, resp.JobID)); got != 2 {
		t.Fatalf("expected debit and refund only, got %d entries", got)
	}
	env.assertConsistent(t, user.ID)
}

func TestConcurrentSubmitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, "race@example.com", 20)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, insufficient int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.gen.Submit(ctx, user.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "a quiet harbour"})
			mu.Lock()
			defer mu.Unlock()
			var insufficientErr *InsufficientCreditsError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &insufficientErr):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 4 || insufficient != 4 {
		t.Fatalf("expected 4 successes and 4 rejections, got %d/%d", succeeded, insufficient)
	}
	if got := env.balance(t, user.ID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	if n := env.countJobs(t, user.ID); n != 4 {
		t.Fatalf("expected 4 jobs, got %d", n)
	}
	env.assertConsistent(t, user.ID)
}

func TestListJobsOwnerScoped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice@example.com", 50)
	bob := env.createUser(t, "bob@example.com", 50)

	for i := 0; i < 3; i++ {
		if _, err := env.gen.Submit(ctx, alice.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: fmt.Sprintf("scene %d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	bobJob, err := env.gen.Submit(ctx, bob.ID, entity.SubmitGenerationRequest{Kind: "IMAGE", Prompt: "bob scene"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	list, err := env.gen.ListJobs(ctx, alice.ID, entity.GenerationJobQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Jobs) != 3 || list.Meta.Total != 3 {
		t.Fatalf("expected 3 jobs for alice, got %d", len(list.Jobs))
	}
	for _, job := range list.Jobs {
		if job.ID == bobJob.JobID {
			t.Fatal("bob's job leaked into alice's list")
		}
		if job.Progress != entity.JobStatusQueued.Progress() {
			t.Fatalf("unexpected progress %d", job.Progress)
		}
	}

	if _, err := env.gen.GetJobStatus(ctx, alice.ID, bobJob.JobID); err == nil {
		t.Fatal("expected NotFound for another user's job")
	}
}
