package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/middleware"
	"health-smart-go/internal/model"
	"health-smart-go/internal/service"
	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// HealthRecordHandler 处理健康记录的增删改查与导出。
type HealthRecordHandler struct {
	recordService service.HealthRecordService
	exportService service.ExportService
	registry      *service.RecordTypeRegistry
}

// NewHealthRecordHandler 创建一个新的 HealthRecordHandler。
func NewHealthRecordHandler(recordService service.HealthRecordService, exportService service.ExportService, registry *service.RecordTypeRegistry) *HealthRecordHandler {
	return &HealthRecordHandler{recordService: recordService, exportService: exportService, registry: registry}
}

// CreateRecordRequest 是创建记录的请求体。observedAt 使用 RFC 3339 格式。
type CreateRecordRequest struct {
	Type       string          `json:"type" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	ObservedAt *time.Time      `json:"observedAt" binding:"required"`
}

// UpdateRecordRequest 是更新记录的请求体；observedAt 可选。
type UpdateRecordRequest struct {
	Payload    json.RawMessage `json:"payload" binding:"required"`
	ObservedAt *time.Time      `json:"observedAt"`
}

// Create 创建一条记录。
func (h *HealthRecordHandler) Create(c *gin.Context) {
	var req CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "CreateRecord", err)
		return
	}
	record, err := h.recordService.Create(c.Request.Context(), middleware.CurrentUserID(c), service.RecordInput{
		Type:       req.Type,
		Payload:    req.Payload,
		ObservedAt: *req.ObservedAt,
	})
	if err != nil {
		respondError(c, "CreateRecord", err)
		return
	}
	respond(c, http.StatusCreated, "创建成功", record)
}

// parseFilter 读取 type、from、to 查询参数。
func parseFilter(c *gin.Context) (model.RecordFilter, error) {
	filter := model.RecordFilter{Type: c.Query("type")}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return filter, common.Invalid(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}
	return filter, nil
}

// List 分页列出当前用户的记录。
func (h *HealthRecordHandler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, "ListRecords", err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(c, "ListRecords", common.Invalid("limit", fmt.Sprintf("must be between 1 and %d", service.MaxPageSize)))
			return
		}
	}

	page, err := h.recordService.List(c.Request.Context(), middleware.CurrentUserID(c), service.ListQuery{
		Filter: filter,
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, "ListRecords", err)
		return
	}
	respond(c, http.StatusOK, "success", page)
}

// Get 返回一条记录。
func (h *HealthRecordHandler) Get(c *gin.Context) {
	record, err := h.recordService.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, "GetRecord", err)
		return
	}
	respond(c, http.StatusOK, "success", record)
}

// Update 修改记录的 payload 与可选的 observedAt。
func (h *HealthRecordHandler) Update(c *gin.Context) {
	var req UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "UpdateRecord", err)
		return
	}
	record, err := h.recordService.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Payload, req.ObservedAt)
	if err != nil {
		respondError(c, "UpdateRecord", err)
		return
	}
	respond(c, http.StatusOK, "更新成功", record)
}

// Delete 删除一条记录，成功返回 204。
func (h *HealthRecordHandler) Delete(c *gin.Context) {
	if err := h.recordService.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		respondError(c, "DeleteRecord", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Export 以 NDJSON 流式输出全部匹配的记录。
func (h *HealthRecordHandler) Export(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, "ExportRecords", err)
		return
	}
	userID := middleware.CurrentUserID(c)

	c.Header("Content-Type", service.NDJSONContentType)
	c.Header("Content-Disposition", `attachment; filename="health-records.ndjson"`)
	n, err := h.exportService.WriteNDJSON(c.Request.Context(), userID, filter, c.Writer)
	if err != nil {
		if !c.Writer.Written() {
			c.Header("Content-Type", "")
			c.Header("Content-Disposition", "")
			respondError(c, "ExportRecords", err)
			return
		}
		// 已经开始输出，只能截断
		log.Errorw("ExportRecords: stream interrupted", "userID", userID, "written", n, "error", err)
		return
	}
	if !c.Writer.Written() {
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}
}

// Archive 把导出上传到对象存储，返回预签名下载地址。
func (h *HealthRecordHandler) Archive(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, "ArchiveRecords", err)
		return
	}
	archive, err := h.exportService.Archive(c.Request.Context(), middleware.CurrentUserID(c), filter)
	if err != nil {
		respondError(c, "ArchiveRecords", err)
		return
	}
	respond(c, http.StatusCreated, "导出成功", archive)
}

// RecordTypes 列出可用的记录类型。
func (h *HealthRecordHandler) RecordTypes(c *gin.Context) {
	respond(c, http.StatusOK, "success", h.registry.Types())
}
