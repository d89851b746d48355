package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"perp-trading-agent/internal/auth"
	"perp-trading-agent/internal/bot"
	"perp-trading-agent/internal/tracker"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// StatsSummary aggregates trade statistics over all bots
type StatsSummary struct {
	Bots        int                      `json:"bots"`
	Running     int                      `json:"running"`
	TotalTrades int                      `json:"total_trades"`
	OpenTrades  int                      `json:"open_trades"`
	WinRate     float64                  `json:"win_rate"`
	TotalPnLUSD float64                  `json:"total_pnl_usd"`
	PerBot      map[string]tracker.Stats `json:"per_bot"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, hc := range s.health {
		if err := hc.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	running := 0
	statuses := s.bots.Statuses()
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}

	body := gin.H{
		"status":       "healthy",
		"checks":       checks,
		"bots":         len(statuses),
		"bots_running": running,
		"ws_clients":   s.hub.GetClientCount(),
	}
	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleListBots(c *gin.Context) {
	successResponse(c, s.bots.Statuses())
}

func (s *Server) handleGetBot(c *gin.Context) {
	st, err := s.bots.Status(c.Param("name"))
	if err != nil {
		s.botError(c, err)
		return
	}
	successResponse(c, st)
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	limit := parseLimit(c)
	entries, err := s.bots.Decisions(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		s.botError(c, err)
		return
	}
	successResponse(c, entries)
}

// handleGetTrades returns trades of one bot (?bot=) or of all bots, newest first
func (s *Server) handleGetTrades(c *gin.Context) {
	limit := parseLimit(c)

	names := []string{c.Query("bot")}
	if names[0] == "" {
		names = names[:0]
		for _, st := range s.bots.Statuses() {
			names = append(names, st.Name)
		}
	}

	var all []tracker.TradeRecord
	for _, name := range names {
		trades, err := s.bots.Trades(name, limit)
		if err != nil {
			s.botError(c, err)
			return
		}
		all = append(all, trades...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].OpenedAt.After(all[j].OpenedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	successResponse(c, all)
}

func (s *Server) handleGetStats(c *gin.Context) {
	successResponse(c, Summarize(s.bots.Statuses(), time.Now()))
}

func (s *Server) handleStartBot(c *gin.Context) {
	name := c.Param("name")
	if err := s.bots.StartBot(name); err != nil {
		s.botError(c, err)
		return
	}
	s.logger.Info("Bot started by operator", "bot", name, "operator", auth.GetSubject(c))
	successResponse(c, gin.H{"bot": name, "running": true})
}

func (s *Server) handleStopBot(c *gin.Context) {
	name := c.Param("name")
	if err := s.bots.StopBot(name); err != nil {
		s.botError(c, err)
		return
	}
	s.logger.Info("Bot stopped by operator", "bot", name, "operator", auth.GetSubject(c))
	successResponse(c, gin.H{"bot": name, "running": false})
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := s.bots.ResetBreaker(name); err != nil {
		s.botError(c, err)
		return
	}
	s.logger.Info("Circuit breaker reset by operator", "bot", name, "operator", auth.GetSubject(c))
	successResponse(c, gin.H{"bot": name, "circuit_breaker": "closed"})
}

func (s *Server) botError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bot.ErrUnknownBot):
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, bot.ErrNoBreaker):
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("API request failed", "path", c.FullPath(), "error", err)
	errorResponse(c, http.StatusInternalServerError, err.Error())
}

// Summarize folds per-bot statistics into one summary. The win rate is
// weighted by closed trades.
func Summarize(statuses []bot.Status, now time.Time) StatsSummary {
	sum := StatsSummary{
		Bots:        len(statuses),
		PerBot:      make(map[string]tracker.Stats, len(statuses)),
		GeneratedAt: now,
	}
	correct := 0
	for _, st := range statuses {
		if st.Running {
			sum.Running++
		}
		sum.TotalTrades += st.Stats.TotalTrades
		sum.OpenTrades += st.Stats.OpenTrades
		sum.TotalPnLUSD += st.Stats.TotalPnLUSD
		correct += st.Stats.CorrectPredictions
		sum.PerBot[st.Name] = st.Stats
	}
	if sum.TotalTrades > 0 {
		sum.WinRate = float64(correct) / float64(sum.TotalTrades)
	}
	return sum
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
