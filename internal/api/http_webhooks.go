package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"vidgenie/internal/llm"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// VideoWebhook 接收视频服务商回调，签名基于原始请求体
func (h *HTTPHandler) VideoWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		InvalidPayload(c)
		return
	}
	if len(body) > maxWebhookBodyBytes {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "payload too large")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	ack, err := h.webhooks.HandleProviderWebhook(ctx, body, c.GetHeader(llm.SignatureHeader))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
