package service

import (
	"context"
	"strings"

	"vidgenie/internal/entity"
	"vidgenie/internal/model"

	"github.com/sirupsen/logrus"
)

const maxAssetTags = 20

// AssetService 资产查询、标注和删除，所有操作都校验归属
type AssetService struct {
	repo  model.Repository
	media *MediaStore
}

func NewAssetService(repo model.Repository, media *MediaStore) *AssetService {
	return &AssetService{repo: repo, media: media}
}

// List 分页列出用户资产，可按类型和项目过滤
func (s *AssetService) List(ctx context.Context, userID uint, query entity.AssetQuery) (*entity.AssetListResponse, error) {
	if kind := strings.ToLower(strings.TrimSpace(query.Kind)); kind != "" {
		if kind != string(entity.ModImage) && kind != string(entity.ModVideo) {
			return nil, newValidationError("kind", "unsupported asset kind %q", query.Kind)
		}
		query.Kind = kind
	}
	query.UserID = userID

	assets, meta, err := s.repo.ListAssets(ctx, &query)
	if err != nil {
		return nil, err
	}
	views := make([]entity.AssetView, 0, len(assets))
	for i := range assets {
		views = append(views, *assets[i].ToView())
	}
	return &entity.AssetListResponse{Assets: views, Meta: meta}, nil
}

// Get 查询单个资产
func (s *AssetService) Get(ctx context.Context, userID uint, id string) (*entity.AssetView, error) {
	asset, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return asset.ToView(), nil
}

// UpdateMetadata 合并标题、描述、标签等标注信息
func (s *AssetService) UpdateMetadata(ctx context.Context, userID uint, id string, req entity.AssetMetadataRequest) (*entity.AssetView, error) {
	asset, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	metadata := entity.JSONMap{}
	for key, value := range asset.Metadata {
		metadata[key] = value
	}
	if req.Title != nil {
		metadata["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		metadata["description"] = strings.TrimSpace(*req.Description)
	}
	if req.AltText != nil {
		metadata["alt_text"] = strings.TrimSpace(*req.AltText)
	}
	if req.Tags != nil {
		tags := normalizeTags(req.Tags)
		if len(tags) > maxAssetTags {
			return nil, newValidationError("tags", "at most %d tags are allowed", maxAssetTags)
		}
		metadata["tags"] = tags
	}

	if err := s.repo.UpdateAsset(ctx, asset.ID, entity.AssetUpdates{Metadata: &metadata}); err != nil {
		return nil, notFoundOr(err, "asset", asset.ID)
	}
	asset.Metadata = metadata
	return asset.ToView(), nil
}

// Delete 删除资产记录，存储对象尽力删除
func (s *AssetService) Delete(ctx context.Context, userID uint, id string) error {
	asset, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAsset(ctx, asset.ID); err != nil {
		return notFoundOr(err, "asset", asset.ID)
	}
	s.media.Remove(ctx, asset.StorageKey)

	logrus.WithFields(logrus.Fields{
		"asset_id": asset.ID,
		"user_id":  userID,
	}).Info("asset_deleted")
	return nil
}

func (s *AssetService) owned(ctx context.Context, userID uint, id string) (*entity.DbAsset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newValidationError("id", "asset id is required")
	}
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "asset", id)
	}
	if asset.UserID != userID {
		return nil, &NotFoundError{Resource: "asset", ID: id}
	}
	return asset, nil
}

func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
