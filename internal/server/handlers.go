package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"x402arcade/internal/arcade"
	"x402arcade/internal/settlement"
	"x402arcade/internal/version"
	"x402arcade/internal/x402"
)

// tokenDecimals converts atomic token units to display units for prize
// pool accounting. devUSDC.e carries six decimals.
const tokenDecimals = 6

const ctxKeyGame = "arcade_game"

const defaultHistoryLimit = 50

type settleBody struct {
	PaymentHeader string `json:"paymentHeader" binding:"required"`
	Recipient     string `json:"recipient"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	Network       string `json:"network"`
}

type verifyBody struct {
	TxHash string `json:"txHash" binding:"required"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type refundBody struct {
	OriginalTxHash string `json:"originalTxHash" binding:"required"`
	Reason         string `json:"reason"`
	Amount         string `json:"amount"`
}

type scoreBody struct {
	Score int64 `json:"score" binding:"min=0"`
}

// handleSettle is the facilitator settlement endpoint. Protocol failures
// come back as a tagged 200 body; only a malformed request is a 400.
func (s *Server) handleSettle(c *gin.Context) {
	var body settleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"error":     "paymentHeader is required",
			"errorCode": x402.CodeMissingHeader,
		})
		return
	}

	key, fresh := s.pending.Begin(body.PaymentHeader)
	if !fresh {
		c.JSON(http.StatusConflict, gin.H{
			"success":   false,
			"error":     "payment already in progress",
			"errorCode": x402.CodeTransactionPending,
		})
		return
	}
	defer s.pending.End(key)

	req := s.requirements
	if body.Recipient != "" {
		req.Recipient = body.Recipient
	}
	if body.Amount != "" {
		req.Amount = body.Amount
	}
	if body.Token != "" {
		req.Token = body.Token
	}
	if body.Network != "" {
		req.Network = body.Network
	}

	outcome := s.coordinator.Settle(c.Request.Context(), settlement.SettleRequest{
		RawHeader:    body.PaymentHeader,
		Requirements: req,
	})
	if !outcome.Success {
		s.metrics.Settlements.WithLabelValues(outcome.Failure.Code).Inc()
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"error":     outcome.Failure.Message,
			"errorCode": outcome.Failure.Code,
			"retryable": x402.Retryable(outcome.Failure.Code),
		})
		return
	}

	s.metrics.Settlements.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"txHash":      outcome.TxHash,
		"blockNumber": outcome.BlockNumber,
		"timestamp":   outcome.Timestamp.Unix(),
	})
}

// handleVerify reports whether a settlement is recorded and matches the
// caller's expectations.
func (s *Server) handleVerify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"verified":  false,
			"error":     "txHash is required",
			"errorCode": x402.CodeTransactionNotFound,
		})
		return
	}

	outcome := s.verifier.Verify(c.Request.Context(), body.TxHash, settlement.Expectations{
		From:   body.From,
		To:     body.To,
		Amount: body.Amount,
	})
	if !outcome.Verified {
		c.JSON(http.StatusOK, gin.H{
			"verified":  false,
			"error":     outcome.Failure.Message,
			"errorCode": outcome.Failure.Code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified":    true,
		"transaction": outcome.Transaction,
	})
}

// handleRefund reverses a recorded settlement, at most once per tx hash.
func (s *Server) handleRefund(c *gin.Context) {
	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":   false,
			"error":     "originalTxHash is required",
			"errorCode": x402.CodeTransactionNotFound,
		})
		return
	}

	outcome := s.refunds.Refund(c.Request.Context(), body.OriginalTxHash, body.Reason, body.Amount)
	if !outcome.Success {
		s.metrics.Refunds.WithLabelValues(outcome.Failure.Code).Inc()
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"error":     outcome.Failure.Message,
			"errorCode": outcome.Failure.Code,
		})
		return
	}

	s.metrics.Refunds.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"refundTxHash":   outcome.RefundTxHash,
		"amountRefunded": outcome.AmountRefunded,
	})
}

// handleSupported advertises the networks and tokens this facilitator
// settles on.
func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"kinds": []gin.H{
			{"scheme": "exact", "network": s.cfg.Payment.Network},
		},
		"networks": []string{s.cfg.Payment.Network},
		"tokens":   []string{s.cfg.Payment.Token},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     version.Version,
		"environment": s.cfg.App.Environment,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleListGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": s.games})
}

// guardGame resolves the :game parameter against the catalogue before any
// payment is taken, so nobody pays for a title that does not exist.
func (s *Server) guardGame(c *gin.Context) {
	id := c.Param("game")
	for _, game := range s.games {
		if game.ID == id {
			c.Set(ctxKeyGame, game)
			c.Next()
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown game"})
}

// requireGamePayment gates session starts behind a payment priced per game.
func (s *Server) requireGamePayment() gin.HandlerFunc {
	return func(c *gin.Context) {
		game := c.MustGet(ctxKeyGame).(arcade.Game)
		req := s.requirements
		req.Amount = game.Price
		s.RequirePayment(req)(c)
	}
}

// handleStartSession runs after the payment middleware has settled the
// entry fee. It opens the session and folds the fee into the day's pool.
func (s *Server) handleStartSession(c *gin.Context) {
	game := c.MustGet(ctxKeyGame).(arcade.Game)
	player := c.GetString(ctxKeyPaymentFrom)
	txHash := c.GetString(ctxKeyPaymentTxHash)

	session := s.sessions.Open(game.ID, player, txHash)
	s.metrics.OpenSessions.Inc()

	s.contribute(c, game)

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// contribute adds the entry fee to the game's pool for today. Contribution
// failures never fail the paid request; the player already settled.
func (s *Server) contribute(c *gin.Context, game arcade.Game) {
	price, err := decimal.NewFromString(game.Price)
	if err != nil {
		s.logger.Error().Err(err).Str("game", game.ID).Msg("unparseable game price, skipping pool contribution")
		return
	}

	day := time.Now().UTC()
	pool, err := s.pools.Contribute(game.ID, day, price.Shift(-tokenDecimals))
	if err != nil {
		s.logger.Error().Err(err).Str("game", game.ID).Msg("pool contribution rejected")
		return
	}

	if s.sink != nil {
		if err := s.sink.UpsertPool(c.Request.Context(), *pool); err != nil {
			s.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("pool snapshot not persisted")
		}
	}
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// handleSubmitScore closes a session and folds the score into the board.
func (s *Server) handleSubmitScore(c *gin.Context) {
	var body scoreBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score must be a non-negative integer"})
		return
	}

	session, err := s.sessions.SubmitScore(c.Param("id"), body.Score)
	switch {
	case errors.Is(err, arcade.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	case errors.Is(err, arcade.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session is no longer active"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record score"})
		return
	}

	s.boards.Record(session.Game, session.Player, session.Score, session.StartedAt)
	s.metrics.OpenSessions.Dec()

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	game := c.Param("game")

	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{
		"game":    game,
		"day":     day.Format("2006-01-02"),
		"entries": s.boards.Top(game, day, limit),
	})
}

// handlePrizeHistory lists persisted payouts; without a database it falls
// back to the in-memory pool snapshots so the endpoint still answers.
func (s *Server) handlePrizeHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	if s.history == nil {
		pools := s.pools.Snapshot()
		out := make([]gin.H, 0, len(pools))
		for _, pool := range pools {
			out = append(out, gin.H{
				"poolId": pool.ID,
				"game":   pool.Game,
				"day":    pool.Day.Format("2006-01-02"),
				"total":  pool.Total.String(),
				"state":  string(pool.State),
			})
		}
		c.JSON(http.StatusOK, gin.H{"payouts": []gin.H{}, "pools": out})
		return
	}

	payouts, err := s.history.ListPayoutHistory(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("payout history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payout history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}
