package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/events"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/storage"
)

// Service exposes the admin surface over HTTP: stats, user lookup, point
// adjustments, bans, broadcasts, mandatory channels, special content and
// redemption codes.
type Service struct {
	config    *config.Config
	storage   *storage.Storage
	publisher events.Publisher
}

func NewService(cfg *config.Config, storage *storage.Storage, publisher events.Publisher) *Service {
	return &Service{config: cfg, storage: storage, publisher: publisher}
}

func (s *Service) Register(e *echo.Echo) {
	g := e.Group("", s.requireAdminToken)

	g.GET("/stats", s.handleStats)
	g.GET("/users/:id", s.handleUserInfo)
	g.POST("/users/:id/ban", s.handleBan)
	g.POST("/users/:id/unban", s.handleUnban)
	g.POST("/users/:id/points", s.handleAdjustPoints)
	g.POST("/broadcast", s.handleBroadcast)
	g.GET("/mandatory-channels", s.handleListMandatory)
	g.POST("/mandatory-channels", s.handleAddMandatory)
	g.DELETE("/mandatory-channels/:username", s.handleRemoveMandatory)
	g.GET("/special-content", s.handleListContent)
	g.POST("/special-content", s.handleAddContent)
	g.POST("/codes", s.handleCreateCode)
}

func (s *Service) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.AdminToken == "" || c.Request().Header.Get("X-Admin-Token") != s.config.AdminToken {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin token"})
		}
		return next(c)
	}
}

func (s *Service) handleStats(c echo.Context) error {
	stats, err := s.storage.GetStats(c.Request().Context())
	if err != nil {
		logrus.Errorf("failed to get stats: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to get stats"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":           stats.Users,
		"active_channels": stats.ActiveChannels,
		"total_points":    stats.TotalPoints,
		"pending_orders":  stats.PendingOrders,
	})
}

func userIDParam(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// handleUserInfo returns the user's state together with an independent ledger
// sum so an operator can spot a cached balance that drifted from the entries.
func (s *Service) handleUserInfo(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx := c.Request().Context()
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownUser) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		logrus.Errorf("failed to get user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to get user"})
	}

	ledgerSum, err := s.storage.SumLedger(ctx, userID)
	if err != nil {
		logrus.Errorf("failed to sum ledger for user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to sum ledger"})
	}

	subscriptions, err := s.storage.ActiveSubscriptionChannelUsernames(ctx, userID)
	if err != nil {
		logrus.Errorf("failed to list subscriptions for user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list subscriptions"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"telegram_id":     user.TelegramID,
		"username":        user.Username,
		"first_name":      user.FirstName,
		"balance":         user.Balance,
		"ledger_sum":      ledgerSum,
		"referrals":       user.Referrals,
		"channels_joined": user.ChannelsJoined,
		"subscriptions":   subscriptions,
		"banned":          user.Banned,
		"ban_reason":      user.BanReason,
		"created_at":      user.CreatedAt,
	})
}

func (s *Service) handleBroadcast(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "text is required"})
	}

	ids, err := s.storage.ListUserIDs(c.Request().Context())
	if err != nil {
		logrus.Errorf("failed to list users for broadcast: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list users"})
	}

	// Delivery happens asynchronously through the dispatcher; unreachable
	// users are skipped after its usual retries.
	s.publisher.Publish(events.Broadcast{Recipients: ids, Text: req.Text})
	return c.JSON(http.StatusAccepted, echo.Map{"recipients": len(ids)})
}

func (s *Service) handleBan(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Reason == "" {
		req.Reason = "admin ban"
	}

	if err := s.storage.BanUser(c.Request().Context(), userID, s.config.AdminID, req.Reason); err != nil {
		if errors.Is(err, storage.ErrUnknownUser) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		logrus.Errorf("failed to ban user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to ban user"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleUnban(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	if err := s.storage.UnbanUser(c.Request().Context(), userID); err != nil {
		if errors.Is(err, storage.ErrUnknownUser) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		logrus.Errorf("failed to unban user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to unban user"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleAdjustPoints(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := c.Bind(&req); err != nil || req.Amount == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be a non-zero integer"})
	}

	balance, err := s.storage.ApplyDelta(
		c.Request().Context(), userID, req.Amount, models.LedgerReasonAdminAdjust, nil,
	)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownUser) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		logrus.Errorf("failed to adjust points for user %d: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to adjust points"})
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": balance})
}

func (s *Service) handleListMandatory(c echo.Context) error {
	channels, err := s.storage.MandatoryChannels(c.Request().Context())
	if err != nil {
		logrus.Errorf("failed to list mandatory channels: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list mandatory channels"})
	}
	return c.JSON(http.StatusOK, channels)
}

func (s *Service) handleAddMandatory(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Title    string `json:"title"`
		Link     string `json:"link"`
	}
	if err := c.Bind(&req); err != nil || req.Username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}

	if err := s.storage.AddMandatoryChannel(c.Request().Context(), req.Username, req.Title, req.Link); err != nil {
		logrus.Errorf("failed to add mandatory channel: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add mandatory channel"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleRemoveMandatory(c echo.Context) error {
	username := c.Param("username")
	if username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}

	if err := s.storage.RemoveMandatoryChannel(c.Request().Context(), username); err != nil {
		logrus.Errorf("failed to remove mandatory channel: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove mandatory channel"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleListContent(c echo.Context) error {
	contents, err := s.storage.SpecialContents(c.Request().Context())
	if err != nil {
		logrus.Errorf("failed to list special content: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list special content"})
	}
	return c.JSON(http.StatusOK, contents)
}

func (s *Service) handleAddContent(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := c.Bind(&req); err != nil || req.Title == "" || req.Body == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and body are required"})
	}

	if err := s.storage.AddSpecialContent(c.Request().Context(), req.Title, req.Body); err != nil {
		logrus.Errorf("failed to add special content: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add special content"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleCreateCode(c echo.Context) error {
	var req struct {
		Code       string `json:"code"`
		Points     int64  `json:"points"`
		UsageLimit int    `json:"usage_limit"`
	}
	if err := c.Bind(&req); err != nil || req.Code == "" || req.Points <= 0 || req.UsageLimit <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code, points and usage_limit are required"})
	}

	if err := s.storage.CreateCode(c.Request().Context(), req.Code, req.Points, req.UsageLimit); err != nil {
		logrus.Errorf("failed to create code: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create code"})
	}
	return c.NoContent(http.StatusNoContent)
}
