package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vidgenie/internal/config"
	"vidgenie/internal/entity"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) Repository {
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
	if err := MigrateSchema(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormRepository(db)
}

func createUser(t *testing.T, repo Repository, email string, balance int64) *entity.DbUser {
	t.Helper()
	user := &entity.DbUser{Email: email, PasswordHash: "x", Role: entity.UserRoleUser, Plan: entity.PlanFree, IsActive: true, CreditBalance: balance}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestDebitBalance(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := createUser(t, repo, "a@example.com", 10)

	tests := []struct {
		name    string
		amount  int64
		want    int64
		wantErr error
	}{
		{name: "足额扣减", amount: 6, want: 4},
		{name: "余额不足", amount: 5, wantErr: ErrInsufficientBalance},
		{name: "恰好扣完", amount: 4, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.DebitBalance(ctx, user.ID, tt.amount)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected balance %d, got %d", tt.want, got)
			}
		})
	}

	if _, err := repo.DebitBalance(ctx, 9999, 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := createUser(t, repo, "race@example.com", 20)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DebitBalance(ctx, user.ID, 5); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 4 {
		t.Fatalf("expected 4 successful debits, got %d", succeeded)
	}
	reloaded, err := repo.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CreditBalance != 0 {
		t.Fatalf("expected balance 0, got %d", reloaded.CreditBalance)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := createUser(t, repo, "tx@example.com", 10)

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx Repository) error {
		if _, err := tx.DebitBalance(ctx, user.ID, 5); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &entity.DbCreditLedger{UserID: user.ID, Amount: -5, Type: entity.CreditTypeGeneration}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	reloaded, _ := repo.GetUserByID(ctx, user.ID)
	if reloaded.CreditBalance != 10 {
		t.Fatalf("expected balance restored to 10, got %d", reloaded.CreditBalance)
	}
	sum, err := repo.SumLedger(ctx, user.ID)
	if err != nil || sum != 0 {
		t.Fatalf("expected empty ledger, got %d (%v)", sum, err)
	}
}

func TestTransitionJobIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := createUser(t, repo, "job@example.com", 0)

	job := &entity.DbGenerationJob{ID: "job-1", UserID: user.ID, Kind: entity.JobKindImage, Status: entity.JobStatusQueued, Prompt: "a cat", CostCredits: 5}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	generating := entity.JobStatusGeneratingImage
	if err := repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusQueued}, entity.JobUpdates{Status: &generating}); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := repo.TransitionJob(ctx, job.ID, []entity.JobStatus{entity.JobStatusQueued}, entity.JobUpdates{Status: &generating})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected stale transition to miss, got %v", err)
	}

	now := time.Now()
	if err := repo.MarkJobRefunded(ctx, job.ID, now); err != nil {
		t.Fatalf("first refund mark: %v", err)
	}
	if err := repo.MarkJobRefunded(ctx, job.ID, now); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected second refund mark to miss, got %v", err)
	}
}

func TestGetJobByProviderJobID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := createUser(t, repo, "p@example.com", 0)
	providerJobID := "cgt-123"
	job := &entity.DbGenerationJob{ID: "job-2", UserID: user.ID, Kind: entity.JobKindVideo, Status: entity.JobStatusGeneratingVideo, Prompt: "waves", CostCredits: 15, ProviderJobID: &providerJobID}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	found, err := repo.GetJobByProviderJobID(ctx, providerJobID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != job.ID {
		t.Fatalf("expected %s, got %s", job.ID, found.ID)
	}
	if _, err := repo.GetJobByProviderJobID(ctx, "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedDemoUserLedgerMatchesBalance(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cfg := config.Config{AppEnv: config.EnvDevelopment, DemoUserEmail: "demo@example.com", DemoUserPassword: "demo-password", DemoUserCredits: 100}

	if err := SeedDemoUser(ctx, repo, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// 重复执行不会重复发放
	if err := SeedDemoUser(ctx, repo, cfg); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	user, err := repo.GetUserByEmail(ctx, "demo@example.com")
	if err != nil {
		t.Fatalf("lookup demo user: %v", err)
	}
	sum, err := repo.SumLedger(ctx, user.ID)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if user.CreditBalance != 100 || sum != 100 {
		t.Fatalf("expected balance and ledger 100, got %d / %d", user.CreditBalance, sum)
	}
}

func TestSeedDefaultProviders(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cfg := config.Config{AppEnv: config.EnvDevelopment, VolcengineAPIKey: "ark-key"}

	if err := SeedDefaultProviders(ctx, repo, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := SeedDefaultProviders(ctx, repo, cfg); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	provider, err := repo.GetProvider(ctx, "volcengine")
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if _, ok := provider.DefaultModel(entity.CapabilityVideo); !ok {
		t.Fatal("expected a video model for volcengine")
	}
	if len(provider.Models) != 2 {
		t.Fatalf("expected 2 models after re-seed, got %d", len(provider.Models))
	}
}
