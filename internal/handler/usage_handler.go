package handler

import (
	"invoice-assistant-go/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

// UsageHandler 提供用量与订阅状态查询。
type UsageHandler struct {
	usage         service.UsageService
	subscriptions service.SubscriptionService
}

// NewUsageHandler 创建一个新的 UsageHandler。
func NewUsageHandler(usage service.UsageService, subscriptions service.SubscriptionService) *UsageHandler {
	return &UsageHandler{usage: usage, subscriptions: subscriptions}
}

// GetUsage 返回当前用户的累计用量与是否可以继续创建。
func (h *UsageHandler) GetUsage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	subscribed := h.subscriptions.IsUserSubscribed(ctx, user.ID)
	stats := h.usage.GetUserUsageStats(ctx, user.ID)
	if subscribed {
		stats.CanCreateInvoice = true
		stats.CanCreateItem = true
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"usage":        stats,
			"isSubscribed": subscribed,
		},
	})
}

// GetSubscription 返回当前用户的订阅等级。
func (h *UsageHandler) GetSubscription(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	tier, err := h.subscriptions.GetTier(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取订阅信息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"tier":         tier,
			"isSubscribed": tier.Unlimited(),
		},
	})
}
