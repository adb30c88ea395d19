package handler

import (
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/log"
	"invoice-assistant-go/pkg/storage"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// 商户 Logo 的大小上限
const maxLogoSize = 2 << 20

var allowedLogoTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/svg+xml": true,
	"image/webp":    true,
}

// UploadHandler 负责商户 Logo 上传与商户资料查询。
type UploadHandler struct {
	logos    storage.LogoStore
	business repository.BusinessRepository
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。logos 为 nil 时上传接口不可用。
func NewUploadHandler(logos storage.LogoStore, business repository.BusinessRepository) *UploadHandler {
	return &UploadHandler{logos: logos, business: business}
}

// UploadLogo 处理 multipart 表单中的 "file" 字段，保存到对象存储并记录到商户设置。
func (h *UploadHandler) UploadLogo(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if h.logos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "对象存储未启用", "data": nil})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少文件", "data": nil})
		return
	}
	if fileHeader.Size > maxLogoSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Logo 不能超过 2MB", "data": nil})
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !allowedLogoTypes[strings.ToLower(contentType)] {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "不支持的图片格式", "data": nil})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("UploadLogo: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	// 1. 上传到对象存储
	objectName, err := h.logos.Put(ctx, user.ID, filepath.Base(fileHeader.Filename), file, fileHeader.Size, contentType)
	if err != nil {
		log.Errorf("UploadLogo: 上传失败, userId: %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "上传失败", "data": nil})
		return
	}

	// 2. 记录到商户设置
	settings, err := h.business.GetSettings(ctx, user.ID)
	if err == nil {
		settings.LogoObject = objectName
		err = h.business.SaveSettings(ctx, settings)
	}
	if err != nil {
		log.Errorf("UploadLogo: 保存商户设置失败, userId: %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存商户设置失败", "data": nil})
		return
	}

	url, err := h.logos.PresignedURL(ctx, objectName)
	if err != nil {
		url = ""
	}
	log.Infof("User '%s' uploaded logo '%s'", user.Username, objectName)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"objectName": objectName,
			"logoUrl":    url,
		},
	})
}

// GetBusinessSettings 返回当前用户的商户资料与收款方式。
func (h *UploadHandler) GetBusinessSettings(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	settings, err := h.business.GetSettings(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取商户设置失败", "data": nil})
		return
	}
	options, err := h.business.ListPaymentOptions(ctx, user.ID)
	if err != nil {
		log.Warnf("GetBusinessSettings: 获取收款方式失败, userId: %d, error: %v", user.ID, err)
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"settings":       settings,
			"paymentOptions": options,
		},
	})
}
