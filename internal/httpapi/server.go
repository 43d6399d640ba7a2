package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/playforge/vault/pkg/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds the HTTP façade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	AdminToken     string
	HistoryLimit   int
}

const defaultHistoryLimit = 50

// Run serves the vault API until the context is cancelled.
func Run(ctx context.Context, cfg Config, service *vault.Service, logger *zap.Logger) error {
	router := NewRouter(cfg, service, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vault api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with all vault routes mounted.
func NewRouter(cfg Config, service *vault.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/v1")
	api.POST("/game/outcomes", handler.handleGameOutcome)
	api.POST("/rewards/deliver", handler.handleRewardDelivery)
	api.GET("/users/:id/vault", handler.handleVaultStatus)
	api.GET("/users/:id/ledger", handler.handleLedgerHistory)
	api.POST("/withdrawals", handler.handleWithdrawalRequest)
	api.POST("/withdrawals/:id/process", handler.handleWithdrawalProcess)
	api.POST("/withdrawals/:id/amount", handler.handleWithdrawalAmount)

	admin := api.Group("/admin")
	admin.Use(requireAdminToken(cfg.AdminToken))
	admin.POST("/adjust", handler.handleAdminAdjust)
	admin.POST("/set", handler.handleAdminSet)
	admin.POST("/sweep", handler.handleSweep)

	return router
}

func requireAdminToken(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("admin_disabled", "admin endpoints require a configured token"))
			return
		}
		header := ctx.GetHeader("Authorization")
		presented, found := strings.CutPrefix(header, "Bearer ")
		if !found || presented != token {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid admin token"))
			return
		}
		ctx.Next()
	}
}

type httpHandler struct {
	logger  *zap.Logger
	service *vault.Service
	cfg     Config
}

type gameOutcomeRequest struct {
	UserID          string `json:"user_id"`
	GameType        string `json:"game_type"`
	GameLogID       int64  `json:"game_log_id"`
	TokenType       string `json:"token_type"`
	Mode            string `json:"mode"`
	Outcome         string `json:"outcome"`
	RawPayout       int64  `json:"raw_payout"`
	PlayedAtUnixUTC int64  `json:"played_at_unix_utc"`
}

func (handler *httpHandler) handleGameOutcome(ctx *gin.Context) {
	var request gameOutcomeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	outcome, err := vault.ParseOutcome(request.Outcome)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	mode := vault.PlayModeNormal
	if request.Mode != "" {
		mode = vault.PlayMode(strings.ToUpper(request.Mode))
	}
	input := vault.GameOutcomeInput{
		UserID:    request.UserID,
		GameType:  vault.GameType(request.GameType),
		GameLogID: request.GameLogID,
		TokenType: request.TokenType,
		Mode:      mode,
		Outcome:   outcome,
		RawPayout: request.RawPayout,
	}
	if request.PlayedAtUnixUTC > 0 {
		playedAt := time.Unix(request.PlayedAtUnixUTC, 0).UTC()
		input.PlayedAt = &playedAt
	}
	credited, err := handler.service.ApplyGameOutcome(ctx.Request.Context(), input)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credited": credited})
}

type rewardDeliveryRequest struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
	Token  string `json:"token"`
}

func (handler *httpHandler) handleRewardDelivery(ctx *gin.Context) {
	var request rewardDeliveryRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	kind, err := vault.ParseRewardKind(request.Kind)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	credited, err := handler.service.DeliverReward(ctx.Request.Context(), request.UserID, kind, request.Amount, request.Token)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credited": credited})
}

func (handler *httpHandler) handleVaultStatus(ctx *gin.Context) {
	snapshot, err := handler.service.Status(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"vault": snapshotView(snapshot)})
}

func (handler *httpHandler) handleLedgerHistory(ctx *gin.Context) {
	limit := handler.cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	entries, err := handler.service.LedgerHistory(ctx.Request.Context(), ctx.Param("id"), limit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]ledgerEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, ledgerEntryPayload{
			EntryID:        entry.EntryID,
			Delta:          entry.Delta,
			BalanceAfter:   entry.BalanceAfter,
			Reason:         entry.Reason,
			Meta:           entry.Meta,
			CreatedUnixUTC: entry.CreatedAt.UTC().Unix(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

type withdrawalCreateRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

func (handler *httpHandler) handleWithdrawalRequest(ctx *gin.Context) {
	var request withdrawalCreateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	created, err := handler.service.RequestWithdrawal(ctx.Request.Context(), request.UserID, request.Amount)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithdrawal(ctx, http.StatusCreated, created)
}

type withdrawalProcessRequest struct {
	Action  string `json:"action"`
	AdminID string `json:"admin_id"`
	Memo    string `json:"memo"`
}

func (handler *httpHandler) handleWithdrawalProcess(ctx *gin.Context) {
	var request withdrawalProcessRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	action, err := vault.ParseWithdrawalAction(request.Action)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	processed, err := handler.service.ProcessWithdrawal(ctx.Request.Context(), ctx.Param("id"), action, request.AdminID, request.Memo)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithdrawal(ctx, http.StatusOK, processed)
}

type withdrawalAmountRequest struct {
	Amount int64 `json:"amount"`
}

func (handler *httpHandler) handleWithdrawalAmount(ctx *gin.Context) {
	var request withdrawalAmountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	adjusted, err := handler.service.AdjustPendingAmount(ctx.Request.Context(), ctx.Param("id"), request.Amount)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithdrawal(ctx, http.StatusOK, adjusted)
}

type adminAdjustRequest struct {
	UserID         string `json:"user_id"`
	LockedDelta    int64  `json:"locked_delta"`
	AvailableDelta int64  `json:"available_delta"`
	Reason         string `json:"reason"`
	AdminID        string `json:"admin_id"`
}

func (handler *httpHandler) handleAdminAdjust(ctx *gin.Context) {
	var request adminAdjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	audit, err := handler.service.AdjustDelta(ctx.Request.Context(), request.UserID, request.LockedDelta, request.AvailableDelta, request.Reason, request.AdminID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"audit": auditView(audit)})
}

type adminSetRequest struct {
	UserID    string `json:"user_id"`
	Locked    *int64 `json:"locked"`
	Available *int64 `json:"available"`
	Reason    string `json:"reason"`
	AdminID   string `json:"admin_id"`
}

func (handler *httpHandler) handleAdminSet(ctx *gin.Context) {
	var request adminSetRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	audit, err := handler.service.SetAbsolute(ctx.Request.Context(), request.UserID, vault.AbsoluteTargets{
		Locked:    request.Locked,
		Available: request.Available,
	}, request.Reason, request.AdminID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"audit": auditView(audit)})
}

type sweepRequest struct {
	Limit int `json:"limit"`
}

func (handler *httpHandler) handleSweep(ctx *gin.Context) {
	var request sweepRequest
	// The body is optional; an empty sweep uses the default batch limit.
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	updated, err := handler.service.Tick(ctx.Request.Context(), request.Limit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}

// respondWithdrawal returns the withdrawal row together with the
// post-operation vault snapshot, so admin tooling sees the balance effect of
// the request it just made.
func (handler *httpHandler) respondWithdrawal(ctx *gin.Context, status int, request vault.WithdrawalRequest) {
	snapshot, err := handler.service.Status(ctx.Request.Context(), request.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(status, gin.H{
		"withdrawal": withdrawalView(request),
		"vault":      snapshotView(snapshot),
	})
}

func snapshotView(snapshot vault.StatusSnapshot) statusPayload {
	payload := statusPayload{
		Locked:           snapshot.Locked,
		Available:        snapshot.Available,
		Cash:             snapshot.Cash,
		Reserved:         snapshot.Reserved,
		Eligible:         snapshot.Eligible,
		ActiveMultiplier: snapshot.ActiveMultiplier,
	}
	if snapshot.ExpiresAt != nil {
		payload.ExpiresAtUnixUTC = snapshot.ExpiresAt.UTC().Unix()
	}
	return payload
}

// respondDomainError maps a domain error to a stable code and HTTP status.
// Anything without a known code is a 500 and never leaks its message.
func (handler *httpHandler) respondDomainError(ctx *gin.Context, err error) {
	code := vault.CodeFor(err)
	status := httpStatusFor(code)
	if status == http.StatusInternalServerError {
		handler.logger.Error("vault request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func httpStatusFor(code string) int {
	switch code {
	case vault.CodeInvalidAmount, vault.CodeInvalidArgument:
		return http.StatusBadRequest
	case vault.CodeUnknownRequest, vault.CodeUnknownProgram:
		return http.StatusNotFound
	case vault.CodeAlreadyProcessed, vault.CodeDuplicateEvent:
		return http.StatusConflict
	case vault.CodeBelowMinimum, vault.CodeNoDepositActivity,
		vault.CodeInsufficientAvailable, vault.CodeInsufficientFunds,
		vault.CodeUnsupportedRewardKind:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type statusPayload struct {
	Locked           int64   `json:"locked"`
	Available        int64   `json:"available"`
	Cash             int64   `json:"cash"`
	Reserved         int64   `json:"reserved"`
	ExpiresAtUnixUTC int64   `json:"expires_at_unix_utc,omitempty"`
	Eligible         bool    `json:"eligible"`
	ActiveMultiplier float64 `json:"active_multiplier"`
}

type ledgerEntryPayload struct {
	EntryID        string `json:"entry_id"`
	Delta          int64  `json:"delta"`
	BalanceAfter   int64  `json:"balance_after"`
	Reason         string `json:"reason"`
	Meta           string `json:"meta,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type withdrawalPayload struct {
	RequestID        string `json:"request_id"`
	UserID           string `json:"user_id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	AdminMemo        string `json:"admin_memo,omitempty"`
	ProcessedBy      string `json:"processed_by,omitempty"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
	ProcessedUnixUTC int64  `json:"processed_unix_utc,omitempty"`
}

func withdrawalView(request vault.WithdrawalRequest) withdrawalPayload {
	payload := withdrawalPayload{
		RequestID:      request.RequestID,
		UserID:         request.UserID,
		Amount:         request.Amount,
		Status:         string(request.Status),
		AdminMemo:      request.AdminMemo,
		ProcessedBy:    request.ProcessedBy,
		CreatedUnixUTC: request.CreatedAt.UTC().Unix(),
	}
	if request.ProcessedAt != nil {
		payload.ProcessedUnixUTC = request.ProcessedAt.UTC().Unix()
	}
	return payload
}

type auditPayload struct {
	AuditID         string `json:"audit_id"`
	UserID          string `json:"user_id"`
	AdminID         string `json:"admin_id"`
	Reason          string `json:"reason,omitempty"`
	LockedBefore    int64  `json:"locked_before"`
	LockedAfter     int64  `json:"locked_after"`
	AvailableBefore int64  `json:"available_before"`
	AvailableAfter  int64  `json:"available_after"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
}

func auditView(audit vault.AdjustmentAudit) auditPayload {
	return auditPayload{
		AuditID:         audit.AuditID,
		UserID:          audit.UserID,
		AdminID:         audit.AdminID,
		Reason:          audit.Reason,
		LockedBefore:    audit.LockedBefore,
		LockedAfter:     audit.LockedAfter,
		AvailableBefore: audit.AvailableBefore,
		AvailableAfter:  audit.AvailableAfter,
		CreatedUnixUTC:  audit.CreatedAt.UTC().Unix(),
	}
}
