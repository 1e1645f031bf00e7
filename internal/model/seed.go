package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidgenie/internal/auth"
	"vidgenie/internal/config"
	"vidgenie/internal/entity"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type providerSeed struct {
	Provider entity.DbProvider
	Models   []entity.DbModel
}

// SeedDefaultProviders ensures the built-in providers/models exist in the database.
func SeedDefaultProviders(ctx context.Context, repo Repository, cfg config.Config) error {
	if repo == nil {
		return nil
	}

	seeds := buildDefaultProviderSeeds(cfg)
	for _, seed := range seeds {
		existing, err := repo.GetProvider(ctx, seed.Provider.ID)
		switch {
		case err == nil:
			if err := syncExistingProvider(ctx, repo, existing, seed); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := createSeedProvider(ctx, repo, seed); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

func createSeedProvider(ctx context.Context, repo Repository, seed providerSeed) error {
	provider := seed.Provider
	provider.Models = nil

	if err := repo.CreateProvider(ctx, &provider); err != nil {
		return err
	}

	for _, modelSeed := range seed.Models {
		model := modelSeed
		model.ProviderID = provider.ID
		if err := repo.CreateModel(ctx, &model); err != nil {
			return err
		}
	}
	return nil
}

func syncExistingProvider(ctx context.Context, repo Repository, existing *entity.DbProvider, seed providerSeed) error {
	if existing == nil {
		return nil
	}

	var updates entity.ProviderUpdates
	envAPIKey := strings.TrimSpace(seed.Provider.APIKey)
	if envAPIKey != "" && strings.TrimSpace(existing.APIKey) == "" {
		updates.APIKey = &envAPIKey
		if !existing.IsActive {
			active := true
			updates.IsActive = &active
		}
	}
	if !updates.IsEmpty() {
		if err := repo.UpdateProvider(ctx, existing.ID, updates); err != nil {
			return err
		}
	}

	existingModelSet := make(map[string]struct{}, len(existing.Models))
	for _, model := range existing.Models {
		existingModelSet[strings.ToLower(strings.TrimSpace(model.ModelID))] = struct{}{}
	}

	for _, modelSeed := range seed.Models {
		key := strings.ToLower(strings.TrimSpace(modelSeed.ModelID))
		if _, ok := existingModelSet[key]; ok {
			continue
		}
		model := modelSeed
		model.ProviderID = existing.ID
		if err := repo.CreateModel(ctx, &model); err != nil {
			return err
		}
	}
	return nil
}

func buildDefaultProviderSeeds(cfg config.Config) []providerSeed {
	openAIKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	volcengineKey := strings.TrimSpace(cfg.VolcengineAPIKey)

	return []providerSeed{
		{
			Provider: entity.DbProvider{
				ID:       "openai",
				Name:     "OpenAI",
				Driver:   entity.ProviderDriverOpenAI,
				BaseURL:  strings.TrimSpace(cfg.OpenAIBaseURL),
				APIKey:   openAIKey,
				IsActive: openAIKey != "",
			},
			Models: []entity.DbModel{
				{
					ModelID:        "dall-e-3",
					Name:           "DALL-E 3",
					Price:          "$0.04/IMG",
					Capability:     entity.CapabilityImage,
					SupportedSizes: entity.StringArray{"1024x1024", "1792x1024", "1024x1792"},
					IsActive:       true,
				},
			},
		},
		{
			Provider: entity.DbProvider{
				ID:       "volcengine",
				Name:     "Volcengine",
				Driver:   entity.ProviderDriverVolcengine,
				APIKey:   volcengineKey,
				IsActive: volcengineKey != "",
			},
			Models: []entity.DbModel{
				{
					ModelID:        "doubao-seedream-4-0-250828",
					Name:           "Doubao Seedream 4.0",
					Description:    "火山引擎图像生成模型",
					Capability:     entity.CapabilityImage,
					SupportedSizes: entity.StringArray{"1K", "2K", "4K"},
					IsActive:       true,
				},
				{
					ModelID:     "doubao-seedance-1-0-pro-250528",
					Name:        "Doubao Seedance 1.0 Pro",
					Description: "火山引擎图生视频模型",
					Capability:  entity.CapabilityVideo,
					Settings: entity.JSONMap{
						"resolutions": []string{"480p", "720p", "1080p"},
						"durations":   []int{5, 10},
					},
					IsActive: true,
				},
			},
		},
		{
			Provider: entity.DbProvider{
				ID:          "fake",
				Name:        "Local Fake",
				Driver:      entity.ProviderDriverFake,
				Description: "本地开发用的模拟服务商",
				IsActive:    !cfg.IsProduction(),
			},
			Models: []entity.DbModel{
				{ModelID: "fake-image", Name: "Fake Image", Capability: entity.CapabilityImage, IsActive: true},
				{ModelID: "fake-video", Name: "Fake Video", Capability: entity.CapabilityVideo, IsActive: true},
			},
		},
	}
}

// SeedDemoUser 开发环境下创建演示账号，初始积分以赠送流水入账
func SeedDemoUser(ctx context.Context, repo Repository, cfg config.Config) error {
	if repo == nil || cfg.IsProduction() {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.DemoUserEmail))
	if email == "" {
		return nil
	}

	_, err := repo.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := auth.HashPassword(cfg.DemoUserPassword)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	return repo.Transaction(ctx, func(tx Repository) error {
		user := &entity.DbUser{
			Email:        email,
			PasswordHash: hash,
			DisplayName:  "Demo",
			Role:         entity.UserRoleUser,
			Plan:         entity.PlanCreator,
			IsActive:     true,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if cfg.DemoUserCredits <= 0 {
			return nil
		}
		if _, err := tx.CreditBalance(ctx, user.ID, cfg.DemoUserCredits); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &entity.DbCreditLedger{
			UserID:      user.ID,
			Amount:      cfg.DemoUserCredits,
			Type:        entity.CreditTypePromotion,
			Description: "demo account starting balance",
		}); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"email":   email,
			"credits": cfg.DemoUserCredits,
		}).Info("demo user seeded")
		return nil
	})
}
