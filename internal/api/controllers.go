package api

import (
	"errors"
	"net/http"

	"momentum-core/internal/engine"

	"github.com/gin-gonic/gin"
)

type tradesQuery struct {
	Limit int `form:"limit"`
}

func (q *tradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// strictnessRequest sets either an explicit looseness or a named mode
// ("strict", "loose", "loose:<factor>"). Exactly one must be present.
type strictnessRequest struct {
	Looseness *float64 `json:"looseness"`
	Mode      string   `json:"mode"`
}

type testSignalRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Status(c.Request.Context()))
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Svc.Positions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	var q tradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "limit must be an integer")
		return
	}
	q.normalize()

	trades, err := s.Svc.RecentTrades(c.Request.Context(), q.Limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list trades")
		respondError(c, http.StatusInternalServerError, "STORE_ERROR", "failed to load trades")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.RiskMetrics(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Metrics())
}

func (s *Server) getStrictness(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Strictness())
}

func (s *Server) updateStrictness(c *gin.Context) {
	var req strictnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	switch {
	case req.Looseness != nil && req.Mode != "":
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "set either looseness or mode, not both")
	case req.Looseness != nil:
		snap := s.Svc.SetLooseness(*req.Looseness)
		s.log.Info().Float64("looseness", snap.Looseness).Msg("strictness updated")
		c.JSON(http.StatusOK, snap)
	case req.Mode != "":
		snap, err := s.Svc.SetStrictnessMode(req.Mode)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_MODE", err.Error())
			return
		}
		s.log.Info().Str("mode", req.Mode).Float64("looseness", snap.Looseness).Msg("strictness updated")
		c.JSON(http.StatusOK, snap)
	default:
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "looseness or mode is required")
	}
}

func (s *Server) updateTestSignal(c *gin.Context) {
	var req testSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "enabled is required")
		return
	}
	snap := s.Svc.SetTestSignal(*req.Enabled)
	s.log.Info().Bool("force_test_signal", snap.ForceTestSignal).Msg("test signal toggled")
	c.JSON(http.StatusOK, snap)
}

func (s *Server) armLive(c *gin.Context) {
	if err := s.Svc.ArmLive(); err != nil {
		s.respondArmError(c, err)
		return
	}
	s.log.Warn().Msg("live trading armed")
	c.JSON(http.StatusOK, gin.H{"armed": true})
}

func (s *Server) disarmLive(c *gin.Context) {
	if err := s.Svc.DisarmLive(); err != nil {
		s.respondArmError(c, err)
		return
	}
	s.log.Info().Msg("live trading disarmed")
	c.JSON(http.StatusOK, gin.H{"armed": false})
}

func (s *Server) respondArmError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrNotLive) {
		respondError(c, http.StatusConflict, "NOT_LIVE", err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, "ARM_FAILED", err.Error())
}
