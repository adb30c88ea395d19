package handler

import (
	"errors"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/service"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/token"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 分页列出用户及其订阅等级和用量。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	users, err := h.adminService.ListUsers(c.Request.Context(), page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": users})
}

// SetSubscriptionRequest 定义了修改订阅等级 API 的请求体结构。
type SetSubscriptionRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// SetUserSubscription 修改指定用户的订阅等级，通过事件异步生效。
func (h *AdminHandler) SetUserSubscription(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	var req SetSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	err := h.adminService.SetUserTier(c.Request.Context(), userID, model.SubscriptionTier(req.Tier))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "用户不存在", "data": nil})
		return
	default:
		log.Error("SetUserSubscription: Failed to set tier", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "修改订阅等级失败", "data": nil})
		return
	}

	claims := c.MustGet("claims").(*token.CustomClaims)
	log.Infof("Admin user '%s' set subscription of user %d to '%s'", claims.Username, userID, req.Tier)
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "订阅变更已提交", "data": nil})
}

// GetUserConversation 返回指定用户的完整对话记录。
func (h *AdminHandler) GetUserConversation(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	history, err := h.adminService.GetUserConversation(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "用户不存在", "data": nil})
			return
		}
		log.Error("GetUserConversation: Failed to load conversation", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": history})
}

func parseUserID(c *gin.Context) (uint, bool) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的用户ID", "data": nil})
		return 0, false
	}
	return uint(userID), true
}
