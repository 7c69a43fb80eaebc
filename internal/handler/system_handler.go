package handler

import (
	"context"
	"net/http"
	"time"

	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ReadinessCheck 检查一个外部依赖是否可用。
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// SystemHandler 提供存活与就绪探针。
type SystemHandler struct {
	checks []ReadinessCheck
}

// NewSystemHandler 创建一个新的 SystemHandler。
func NewSystemHandler(checks ...ReadinessCheck) *SystemHandler {
	return &SystemHandler{checks: checks}
}

// Ping 是存活探针，不访问任何依赖。
func (h *SystemHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Ready 逐个检查依赖，全部可用时返回 200，否则返回 503 与失败的依赖名称。
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{}
	ready := true
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			log.Warnw("readiness check failed", "dependency", chk.Name, "error", err)
			status[chk.Name] = "down"
			ready = false
			continue
		}
		status[chk.Name] = "up"
	}
	if !ready {
		respond(c, http.StatusServiceUnavailable, "not ready", status)
		return
	}
	respond(c, http.StatusOK, "ready", status)
}
