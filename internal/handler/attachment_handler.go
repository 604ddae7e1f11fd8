package handler

import (
	"errors"
	"net/http"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/pkg/ginutil"
	"github.com/gin-gonic/gin"
)

// AttachmentHandler handles attachment uploads
type AttachmentHandler struct {
	service service.AttachmentService
	maxSize int64
}

// NewAttachmentHandler creates a new AttachmentHandler
func NewAttachmentHandler(service service.AttachmentService, maxSize int64) *AttachmentHandler {
	return &AttachmentHandler{service: service, maxSize: maxSize}
}

// Upload handles POST /api/v1/attachments
// @Summary 첨부파일 업로드
// @Description 업로드된 첨부는 변경되지 않으며, 반환된 항목을 메시지 전송에 그대로 사용합니다
// @Tags attachments
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "첨부 파일"
// @Param duration formData number false "동영상 길이 (초)"
// @Success 201 {object} common.APIResponse{data=domain.Attachment}
// @Failure 400 {object} common.APIResponse
// @Failure 502 {object} common.APIResponse
// @Router /attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	if middleware.GetUserID(c) == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	// multipart 오버헤드를 위해 1MB 여유
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1<<20)

	file, err := c.FormFile("file")
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		common.FailFromError(c, common.Validationf("file too large (max %dMB)", h.maxSize/(1024*1024)))
		return
	case err != nil:
		common.FailFromError(c, common.Validationf("파일을 선택해 주세요"))
		return
	}

	var duration *float64
	d, ok, err := ginutil.QueryFloat(c, "duration")
	if err != nil {
		common.FailFromError(c, common.Validationf("duration must be a non-negative number"))
		return
	}
	if ok {
		duration = &d
	}

	body, err := file.Open()
	if err != nil {
		common.FailFromError(c, &common.UploadError{Filename: file.Filename, Err: err})
		return
	}
	defer body.Close()

	att, err := h.service.Upload(c.Request.Context(), &service.Blob{
		Filename: file.Filename,
		Size:     file.Size,
		Body:     body,
		Duration: duration,
	})
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.CreatedResponse(c, att)
}
