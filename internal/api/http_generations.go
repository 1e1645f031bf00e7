package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"vidgenie/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SubmitGeneration 提交生成任务，立即返回 202
func (h *HTTPHandler) SubmitGeneration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req entity.SubmitGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	resp, err := h.generations.Submit(ctx, userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *HTTPHandler) ListGenerations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var query entity.GenerationJobQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.generations.ListJobs(ctx, userID, query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) GetGeneration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	view, err := h.generations.GetJobStatus(ctx, userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) CancelGeneration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	view, err := h.generations.Cancel(ctx, userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *HTTPHandler) RetryGeneration(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	view, err := h.generations.Retry(ctx, userID, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// StreamGenerationEvents 以 SSE 推送当前用户在该 client_id 下的任务进度
func (h *HTTPHandler) StreamGenerationEvents(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	clientID := strings.TrimSpace(c.Query("client_id"))
	if clientID == "" {
		MissingField(c, "client_id")
		return
	}

	ctx := c.Request.Context()
	sub := h.jobEvents.subscribe(clientID, requestUser.ID, 16)
	defer h.jobEvents.unsubscribe(clientID, sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()

	fields := logrus.Fields{
		"user_id":   requestUser.ID,
		"client_id": clientID,
	}
	logrus.WithFields(fields).Info("generation_sse_connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			logrus.WithFields(fields).Info("generation_sse_disconnected")
			return false
		case <-heartbeatTicker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UnixMilli()})
			return true
		case event := <-sub.events:
			c.SSEvent(jobEventName, event)
			return true
		}
	})
}
