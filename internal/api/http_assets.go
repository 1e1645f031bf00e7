package api

import (
	"context"
	"net/http"
	"time"

	"vidgenie/internal/entity"

	"github.com/gin-gonic/gin"
)

func (h *HTTPHandler) ListAssets(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var query entity.AssetQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.assets.List(ctx, userID, query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) GetAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	view, err := h.assets.Get(ctx, userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) UpdateAssetMetadata(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req entity.AssetMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	view, err := h.assets.UpdateMetadata(ctx, userID, c.Param("id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) DeleteAsset(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.assets.Delete(ctx, userID, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
