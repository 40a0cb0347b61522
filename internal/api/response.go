package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 为统一的接口响应结构。
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo 为错误详情。
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Status: "success", Message: message, Data: data})
}

func failure(c *gin.Context, statusCode int, code, message string, err error, data interface{}) {
	info := &ErrorInfo{Code: code}
	if err != nil {
		info.Details = err.Error()
	}
	c.JSON(statusCode, Response{Status: "error", Message: message, Data: data, Error: info})
}
