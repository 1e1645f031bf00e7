package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vidgenie/internal/entity"
	"vidgenie/internal/storage"
	"vidgenie/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultMaxMediaBytes = 200 << 20

// PersistRequest 需要落盘的一份生成结果
type PersistRequest struct {
	UserID          uint
	ProjectID       *string
	JobID           string
	Kind            entity.Modality
	Source          string
	Provider        string
	Prompt          string
	Width           int
	Height          int
	DurationSeconds int
	ThumbnailURL    string
}

// MediaStore 下载服务商结果并写入对象存储
type MediaStore struct {
	storage  storage.Storage
	urls     storage.URLBuilder
	backend  string
	client   *http.Client
	maxBytes int64
}

func NewMediaStore(store storage.Storage, urls storage.URLBuilder, backend string) *MediaStore {
	return &MediaStore{
		storage:  store,
		urls:     urls,
		backend:  storage.NormalizeType(backend),
		client:   &http.Client{Timeout: 5 * time.Minute},
		maxBytes: defaultMaxMediaBytes,
	}
}

// Persist 拉取 Source 内容保存到存储，返回尚未入库的资产
func (m *MediaStore) Persist(ctx context.Context, req PersistRequest) (*entity.DbAsset, error) {
	if m == nil || m.storage == nil {
		return nil, errors.New("storage is not configured")
	}

	data, mimeType, err := m.fetch(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	ext := utils.ExtensionFromMime(mimeType)
	if ext == "" {
		ext = utils.ExtensionFromMime(http.DetectContentType(data))
	}
	if ext == "" {
		if req.Kind == entity.ModVideo {
			ext = "mp4"
		} else {
			ext = "png"
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = utils.MimeFromExtension(ext)
	}

	width, height := req.Width, req.Height
	if req.Kind == entity.ModImage {
		if cfg, _, decodeErr := image.DecodeConfig(bytes.NewReader(data)); decodeErr == nil {
			width, height = cfg.Width, cfg.Height
		}
	}

	assetID := uuid.NewString()
	category := "images"
	if req.Kind == entity.ModVideo {
		category = "videos"
	}
	key, err := m.storage.Save(ctx, data, storage.SaveOptions{
		Category:  category,
		Owner:     strconv.FormatUint(uint64(req.UserID), 10),
		Extension: ext,
		BaseName:  assetID,
	})
	if err != nil {
		return nil, fmt.Errorf("storage upload failed: %w", err)
	}

	asset := &entity.DbAsset{
		ID:              assetID,
		UserID:          req.UserID,
		ProjectID:       req.ProjectID,
		Kind:            req.Kind,
		Filename:        assetID + "." + ext,
		MimeType:        mimeType,
		FileSize:        int64(len(data)),
		Width:           width,
		Height:          height,
		DurationSeconds: req.DurationSeconds,
		StorageBackend:  m.backend,
		StorageKey:      key,
		PublicURL:       m.urls.PublicURL(key),
		ThumbnailURL:    req.ThumbnailURL,
		Provider:        req.Provider,
		Prompt:          req.Prompt,
		Status:          entity.AssetStatusReady,
	}
	if req.JobID != "" {
		jobID := req.JobID
		asset.JobID = &jobID
	}
	if storage.IsAbsoluteURL(req.Source) {
		asset.SourceURL = req.Source
	}
	return asset, nil
}

// Remove 尽力删除已上传的对象
func (m *MediaStore) Remove(ctx context.Context, key string) {
	if m == nil || m.storage == nil || strings.TrimSpace(key) == "" {
		return
	}
	if err := m.storage.Delete(ctx, key); err != nil {
		logrus.WithError(err).WithField("storage_key", key).Warn("storage_delete_failed")
	}
}

// fetch 支持 http(s) 地址和 data URL
func (m *MediaStore) fetch(ctx context.Context, source string) ([]byte, string, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return nil, "", errors.New("empty media source")
	case utils.IsDataURL(source):
		payload, err := utils.ParseMediaPayload(source)
		if err != nil {
			return nil, "", fmt.Errorf("decode media: %w", err)
		}
		return payload.Data, payload.MimeType, nil
	case storage.IsAbsoluteURL(source):
		return m.download(ctx, source)
	default:
		return nil, "", fmt.Errorf("unsupported media source")
	}
}

func (m *MediaStore) download(ctx context.Context, url string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", m.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", errors.New("media body is empty")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// firstFrameURL 选择服务商能访问到的图片地址
func firstFrameURL(asset *entity.DbAsset) string {
	if asset == nil {
		return ""
	}
	if storage.IsAbsoluteURL(asset.PublicURL) {
		return asset.PublicURL
	}
	if storage.IsAbsoluteURL(asset.SourceURL) {
		return asset.SourceURL
	}
	return asset.PublicURL
}
