package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpn-bot/internal/service"
)

// APIHandler atiende los endpoints que consume la app.
type APIHandler struct {
	logger      *zap.Logger
	credentials *service.CredentialService
}

func NewAPIHandler(logger *zap.Logger, credentials *service.CredentialService) *APIHandler {
	return &APIHandler{
		logger:      logger,
		credentials: credentials,
	}
}

type validateResponse struct {
	OK                 bool   `json:"ok"`
	SubscriptionActive bool   `json:"subscriptionActive"`
	Message            string `json:"message"`
}

// Validate maneja POST /api/validate. No consume el codigo.
func (h *APIHandler) Validate(c *gin.Context) {
	var req struct {
		Code any `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, validateResponse{Message: "invalid json"})
		return
	}

	res := h.credentials.ValidateCode(codeString(req.Code))
	c.JSON(http.StatusOK, validateResponse{
		OK:                 res.OK,
		SubscriptionActive: res.SubscriptionActive,
		Message:            res.Message,
	})
}

// GetConfig maneja GET /api/config. Consume el codigo y devuelve el .conf en texto plano.
func (h *APIHandler) GetConfig(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.String(http.StatusBadRequest, "missing code")
		return
	}

	cfg, err := h.credentials.FetchConfig(code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCode):
			c.String(http.StatusUnauthorized, "invalid or expired code")
		case errors.Is(err, service.ErrSubscriptionInactive):
			c.String(http.StatusForbidden, "subscription inactive")
		case errors.Is(err, service.ErrPoolExhausted):
			c.String(http.StatusServiceUnavailable, "service unavailable, contact support")
		default:
			h.logger.Error("http config error", zap.Error(err))
			c.String(http.StatusInternalServerError, "server error")
		}
		return
	}
	c.String(http.StatusOK, cfg)
}

// TelegramLink maneja GET /api/telegram-link.
func (h *APIHandler) TelegramLink(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": h.credentials.TelegramLink()})
}

// codeString acepta el codigo como string o como numero JSON.
func codeString(v any) string {
	switch code := v.(type) {
	case string:
		return code
	case float64:
		return strconv.FormatFloat(code, 'f', -1, 64)
	default:
		return ""
	}
}
