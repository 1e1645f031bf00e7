package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"vidgenie/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (h *HTTPHandler) GetCreditBalance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	balance, err := h.credits.Balance(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity.CreditBalanceResponse{Balance: balance})
}

func (h *HTTPHandler) ListCreditLedger(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var query entity.CreditLedgerQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.credits.ListLedger(ctx, userID, query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GrantUserCredits 管理员发放积分（购买或促销）
func (h *HTTPHandler) GrantUserCredits(c *gin.Context) {
	admin := CurrentUser(c)
	userID, ok := parseUserIDParam(c)
	if !ok {
		return
	}

	var req entity.CreditGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	balance, err := h.credits.Grant(ctx, userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"admin_id": admin.ID,
		"user_id":  userID,
		"amount":   req.Amount,
		"type":     req.Type,
	}).Info("credits_granted")

	c.JSON(http.StatusOK, entity.CreditBalanceResponse{Balance: balance})
}

func (h *HTTPHandler) ReconcileUserCredits(c *gin.Context) {
	userID, ok := parseUserIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, err := h.credits.Reconcile(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseUserIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, ErrCodeInvalidRequest, "invalid user id")
		return 0, false
	}
	return uint(id), true
}
