// Package api 以 JSON 接口暴露执行协调器、熔断状态与审计记录。
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-gate/internal/audit"
	"trade-gate/internal/breaker"
	"trade-gate/internal/config"
	"trade-gate/internal/execution"
	"trade-gate/internal/order"
	"trade-gate/internal/risk"
)

const (
	defaultAuditLimit = 200
	maxAuditLimit     = 1000
)

// AuditReader 查询已持久化的审计事件。
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// Handler 持有接口所需的依赖。
type Handler struct {
	dispatcher *execution.Dispatcher
	breakers   *breaker.Registry
	audit      AuditReader
	logger     *zap.Logger
}

// NewHandler 创建接口处理器。audit 为 nil 时审计查询返回 404。
func NewHandler(dispatcher *execution.Dispatcher, breakers *breaker.Registry, reader AuditReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dispatcher: dispatcher,
		breakers:   breakers,
		audit:      reader,
		logger:     logger.Named("api"),
	}
}

// NewRouter 组装 gin 路由与中间件。
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), Logging(h.logger), RateLimit(cfg.RequestsPerSecond, cfg.Burst))

	router.NoRoute(func(c *gin.Context) {
		failure(c, http.StatusNotFound, "not_found", "Route not found", nil, nil)
	})

	api := router.Group("/api")
	{
		api.GET("/ping", func(c *gin.Context) {
			success(c, "pong", nil)
		})
		api.POST("/orders", h.submitOrder)
		api.GET("/circuits", h.listCircuits)
		api.GET("/audit", h.listAudit)
	}
	return router
}

// OrderPayload 为下单接口的请求体。
type OrderPayload struct {
	Request   order.OrderRequest     `json:"request"`
	RiskState order.AccountRiskState `json:"risk_state"`
	Profile   []float64              `json:"profile,omitempty"`
}

func (h *Handler) submitOrder(c *gin.Context) {
	var payload OrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		failure(c, http.StatusBadRequest, "bad_request", "请求体无法解析", err, nil)
		return
	}

	job := execution.Job{Request: payload.Request, RiskState: payload.RiskState}
	if len(payload.Profile) > 0 {
		job.Options = append(job.Options, execution.WithProfile(payload.Profile))
	}

	outcome := h.dispatcher.Execute(c.Request.Context(), job)
	res := outcome.Result

	var (
		verr    *order.ValidationError
		blocked *risk.RiskBlockedError
	)
	switch {
	case errors.As(outcome.Err, &verr):
		failure(c, http.StatusUnprocessableEntity, "validation_failed", "请求校验失败", outcome.Err, res)
	case errors.As(outcome.Err, &blocked):
		failure(c, http.StatusUnprocessableEntity, "risk_blocked", "风控拦截", outcome.Err, res)
	case outcome.Err != nil:
		failure(c, http.StatusUnprocessableEntity, "plan_failed", "无法生成执行计划", outcome.Err, res)
	case res.Status == order.StatusRejected:
		failure(c, http.StatusBadGateway, "broker_rejected", "券商未接受任何切片", nil, res)
	default:
		success(c, string(res.Status), res)
	}
}

func (h *Handler) listCircuits(c *gin.Context) {
	if h.breakers == nil {
		success(c, "ok", []breaker.Snapshot{})
		return
	}
	success(c, "ok", h.breakers.Snapshots())
}

func (h *Handler) listAudit(c *gin.Context) {
	if h.audit == nil {
		failure(c, http.StatusNotFound, "audit_disabled", "审计存储未启用", nil, nil)
		return
	}

	limit := defaultAuditLimit
	if qs := c.Query("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > maxAuditLimit {
				v = maxAuditLimit
			}
			limit = v
		}
	}

	filter := audit.Filter{
		Type:        audit.EventType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		ExecutionID: strings.TrimSpace(c.Query("execution_id")),
		Limit:       limit,
	}
	events, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Warn("查询审计事件失败", zap.Error(err))
		failure(c, http.StatusInternalServerError, "audit_query_failed", "查询审计事件失败", err, nil)
		return
	}
	success(c, "ok", events)
}
