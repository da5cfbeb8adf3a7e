package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vpn-bot/internal/repository"
	"vpn-bot/internal/service"
)

// AdminHandler expone operaciones de soporte sobre el store mientras el servidor corre.
type AdminHandler struct {
	logger   *zap.Logger
	store    *repository.UserStore
	payments *service.PaymentService
	sweeper  *service.ExpirySweeper
}

func NewAdminHandler(logger *zap.Logger, store *repository.UserStore, payments *service.PaymentService, sweeper *service.ExpirySweeper) *AdminHandler {
	return &AdminHandler{
		logger:   logger,
		store:    store,
		payments: payments,
		sweeper:  sweeper,
	}
}

type adminProfile struct {
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

type adminUser struct {
	UserID            int64         `json:"user_id"`
	Subscribed        bool          `json:"subscribed"`
	Active            bool          `json:"active"`
	SubscriptionStart *time.Time    `json:"subscription_start"`
	SubscriptionEnd   *time.Time    `json:"subscription_end"`
	Profile           *adminProfile `json:"profile"`
}

// GetUser maneja GET /api/admin/users/:id. Nunca devuelve la clave privada.
func (h *AdminHandler) GetUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	rec, found := h.store.Get(userID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	out := adminUser{
		UserID:            userID,
		Subscribed:        rec.Subscribed,
		Active:            rec.IsActive(time.Now()),
		SubscriptionStart: rec.SubscriptionStart,
		SubscriptionEnd:   rec.SubscriptionEnd,
	}
	if rec.Profile != nil {
		out.Profile = &adminProfile{PublicKey: rec.Profile.PublicKey, Address: rec.Profile.Address}
	}
	c.JSON(http.StatusOK, gin.H{"user": out})
}

// Grant maneja POST /api/admin/users/:id/grant.
func (h *AdminHandler) Grant(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	var req struct {
		Days int `json:"days" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	out, err := h.payments.Grant(userID, req.Days)
	if err != nil {
		h.logger.Error("admin grant failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not grant subscription"})
		return
	}
	admin, _ := GetAdminClaims(c)
	h.logger.Info("admin grant",
		zap.String("admin", admin.Subject),
		zap.Int64("user_id", userID),
		zap.Int("days", req.Days),
	)

	resp := gin.H{"user_id": userID, "until": out.Until}
	if out.ProfileErr != nil {
		resp["profile_error"] = out.ProfileErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Sweep maneja POST /api/admin/sweep.
func (h *AdminHandler) Sweep(c *gin.Context) {
	n, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("admin sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func parseUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
