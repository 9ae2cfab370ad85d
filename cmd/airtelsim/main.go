package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TxnStatus mirrors the Airtel Money settlement vocabulary.
type TxnStatus string

const (
	StatusSuccess TxnStatus = "TS"
	StatusFailed  TxnStatus = "TF"
)

type AuthRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
	GrantType    string `json:"grant_type"`
}

type AuthResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type CollectRequest struct {
	Reference  string `json:"reference" binding:"required"`
	Subscriber struct {
		Country  string `json:"country"`
		Currency string `json:"currency"`
		MSISDN   string `json:"msisdn" binding:"required"`
	} `json:"subscriber"`
	Transaction struct {
		Amount   json.Number `json:"amount"`
		Country  string      `json:"country"`
		Currency string      `json:"currency"`
		ID       string      `json:"id" binding:"required"`
	} `json:"transaction"`
	CallbackURL string `json:"callback_url"`
}

type DisburseRequest struct {
	Payee struct {
		Currency string `json:"currency"`
		MSISDN   string `json:"msisdn" binding:"required"`
	} `json:"payee"`
	Reference   string `json:"reference" binding:"required"`
	PIN         string `json:"pin" binding:"required"`
	Transaction struct {
		Amount json.Number `json:"amount"`
		ID     string      `json:"id" binding:"required"`
		Type   string      `json:"type"`
	} `json:"transaction"`
}

type ProviderResponse struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			ReferenceID   string `json:"reference_id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			Status        string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
	Status struct {
		ResponseCode string `json:"response_code"`
		Success      bool   `json:"success"`
		Message      string `json:"message"`
	} `json:"status"`
}

/// MockProvider simulates the Airtel Money API: token exchange, collections,
// disbursements, and the asynchronous settlement callback.
type MockProvider struct {
	successRate float64
	syncSettle  float64 // share of requests settled in the synchronous response
	minDelay    time.Duration
	maxDelay    time.Duration
	callbackURL string
	providerID  string
	rng         *rand.Rand
	client      *http.Client
}

func NewMockProvider(successRate, syncSettle float64, minDelay, maxDelay time.Duration, callbackURL string) *MockProvider {
	return &MockProvider{
		successRate: successRate,
		syncSettle:  syncSettle,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		callbackURL: callbackURL,
		providerID:  "MOCK_AIRTEL_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MockProvider) shouldSucceed() bool {
	return m.rng.Float64() < m.successRate
}

func (m *MockProvider) settlesSynchronously() bool {
	return m.rng.Float64() < m.syncSettle
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) newMoneyID() string {
	return fmt.Sprintf("MP%s.%04d.L%05d",
		time.Now().Format("060102"), m.rng.Intn(10000), m.rng.Intn(100000))
}

// settle builds the immediate response and, when settlement is deferred,
// schedules the asynchronous callback the way the real provider does.
func (m *MockProvider) settle(transactionID, reference, callbackURL string) ProviderResponse {
	var resp ProviderResponse
	resp.Data.Transaction.ID = transactionID
	resp.Data.Transaction.ReferenceID = reference
	resp.Data.Transaction.AirtelMoneyID = m.newMoneyID()
	resp.Status.Success = true
	resp.Status.ResponseCode = "DP00800001006"
	resp.Status.Message = "Transaction in progress"

	if m.settlesSynchronously() {
		if m.shouldSucceed() {
			resp.Data.Transaction.Status = string(StatusSuccess)
			resp.Status.Message = "Transaction successful"
		} else {
			resp.Data.Transaction.Status = string(StatusFailed)
			resp.Status.Success = false
			resp.Status.ResponseCode = "DP00800001007"
			resp.Status.Message = "Transaction failed"
		}
		return resp
	}

	go m.sendCallback(transactionID, reference, resp.Data.Transaction.AirtelMoneyID, callbackURL)
	return resp
}

func (m *MockProvider) sendCallback(transactionID, reference, airtelMoneyID, callbackURL string) {
	if callbackURL == "" {
		callbackURL = m.callbackURL
	}
	if callbackURL == "" {
		log.Warn().Str("transaction_id", transactionID).Msg("No callback URL, settlement dropped")
		return
	}

	time.Sleep(m.randomDelay())

	status := StatusSuccess
	if !m.shouldSucceed() {
		status = StatusFailed
	}

	payload := map[string]any{
		"transaction": map[string]any{
			"id":              transactionID,
			"reference_id":    reference,
			"airtel_money_id": airtelMoneyID,
			"status_code":     string(status),
			"message":         "Settlement notification",
		},
	}
	body, _ := json.Marshal(payload)

	resp, err := m.client.Post(callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("Callback delivery failed")
		return
	}
	defer resp.Body.Close()

	log.Info().
		Str("transaction_id", transactionID).
		Str("status", string(status)).
		Int("http_status", resp.StatusCode).
		Msg("Callback delivered")
}

type Handler struct {
	provider *MockProvider
	tokens   map[string]time.Time
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{
		provider: provider,
		tokens:   make(map[string]time.Time),
	}
}

// Token implements the OAuth2 client-credentials exchange.
func (h *Handler) Token(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": err.Error()})
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	token := uuid.New().String()
	h.tokens[token] = time.Now().Add(180 * time.Second)

	log.Info().Str("client_id", req.ClientID).Msg("Token issued")

	c.JSON(http.StatusOK, AuthResponse{
		TokenType:   "bearer",
		AccessToken: token,
		ExpiresIn:   180,
	})
}

func (h *Handler) Collect(c *gin.Context) {
	var req CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	log.Info().
		Str("transaction_id", req.Transaction.ID).
		Str("msisdn", req.Subscriber.MSISDN).
		Str("amount", req.Transaction.Amount.String()).
		Msg("Collection request received")

	resp := h.provider.settle(req.Transaction.ID, req.Reference, req.CallbackURL)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Disburse(c *gin.Context) {
	var req DisburseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	log.Info().
		Str("transaction_id", req.Transaction.ID).
		Str("msisdn", req.Payee.MSISDN).
		Str("amount", req.Transaction.Amount.String()).
		Msg("Disbursement request received")

	resp := h.provider.settle(req.Transaction.ID, req.Reference, "")
	c.JSON(http.StatusOK, resp)
}

// UpdateConfig allows changing provider behavior at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
		SyncSettle  *float64 `json:"sync_settle"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
		h.provider.successRate = *config.SuccessRate
		log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
	}
	if config.SyncSettle != nil && *config.SyncSettle >= 0 && *config.SyncSettle <= 1.0 {
		h.provider.syncSettle = *config.SyncSettle
		log.Info().Float64("rate", *config.SyncSettle).Msg("Updated sync settle rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"success_rate": h.provider.successRate,
		"sync_settle":  h.provider.syncSettle,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"provider_id": h.provider.providerID,
		"timestamp":   time.Now(),
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.POST("/auth/oauth2/token", handler.Token)
	router.POST("/merchant/v1/payments/", handler.Collect)
	router.POST("/standard/v2/disbursements/", handler.Disburse)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	successRate := getEnvFloat("SUCCESS_RATE", 0.95)
	syncSettle := getEnvFloat("SYNC_SETTLE", 0.7)
	minDelay := getEnvDuration("MIN_DELAY", 500*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 3*time.Second)
	callbackURL := getEnv("CALLBACK_URL", "")

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Float64("sync_settle", syncSettle).
		Str("callback_url", callbackURL).
		Msg("Starting Mock Airtel Money Provider")

	provider := NewMockProvider(successRate, syncSettle, minDelay, maxDelay, callbackURL)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
