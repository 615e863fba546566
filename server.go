package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/adrata/crm_backend/config"
	"github.com/adrata/crm_backend/discovery"
	"github.com/adrata/crm_backend/models"
	"github.com/adrata/crm_backend/models/reports"
	"github.com/adrata/crm_backend/utils"
	"github.com/adrata/crm_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func intFromEnv(name string, def int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// buildOrchestrator wires the discovery engine from env config. Provider
// failures at startup degrade to an empty provider chain instead of
// crashing; requests then yield empty flagged groups until config is fixed.
func buildOrchestrator(logger *logrus.Logger) *discovery.Orchestrator {
	providers, err := discovery.ProvidersFromEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field": "buildOrchestrator",
		}).Warn("no candidate providers configured: " + err.Error())
	}

	var contacts discovery.ContactValidator
	if name := strings.TrimSpace(os.Getenv("DISCOVERY_CONTACT_PROVIDER")); name != "" {
		p, err := discovery.NewHTTPProvider(name)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "buildOrchestrator",
			}).Warn("contact validator disabled: " + err.Error())
		} else {
			contacts = p
		}
	}

	var insights discovery.InsightProvider
	if name := strings.TrimSpace(os.Getenv("DISCOVERY_INSIGHT_PROVIDER")); name != "" {
		p, err := discovery.NewHTTPProvider(name)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field": "buildOrchestrator",
			}).Warn("insight provider disabled: " + err.Error())
		} else {
			insights = p
		}
	}

	o := discovery.NewOrchestrator(providers, contacts, insights, logger)
	o.CallTimeout = time.Duration(intFromEnv("DISCOVERY_CALL_TIMEOUT_SECONDS", 20)) * time.Second
	o.ProviderDelay = time.Duration(intFromEnv("DISCOVERY_PROVIDER_DELAY_MS", 0)) * time.Millisecond
	o.MaxRetries = intFromEnv("DISCOVERY_MAX_RETRIES", 3)
	return o
}

type discoverRequest struct {
	models.CompanyContext
	EnrichmentTier string `json:"enrichment_tier"`
	// Async queues the run via Pub/Sub instead of blocking the request.
	Async bool `json:"async"`
}

func discoverHandler(orchestrator *discovery.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req discoverRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		tier, err := models.ParseEnrichmentTier(req.EnrichmentTier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.CompanyContext.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		cid, _ := utils.GetCorrelationIdFromContext(ctx)

		if req.Async {
			old, _ := models.GetLatestBuyerGroup(ctx, req.CompanyContext.CompanyKey())
			oldId := ""
			if old != nil {
				oldId = old.ID
			}
			msgId, err := config.PublishDiscoveryJobWithResult(ctx, config.DiscoveryJobMessage{
				CompanyKey:     req.CompanyContext.CompanyKey(),
				CompanyName:    req.CompanyContext.Name,
				EmployeeCount:  req.CompanyContext.EmployeeCount,
				Industry:       req.CompanyContext.Industry,
				EnrichmentTier: string(tier),
				RequestedAt:    time.Now().UTC(),
				OldGroupId:     oldId,
				CorrelationId:  cid,
			})
			if err != nil {
				config.LogError(logger, "server.go", "discoverHandler", "publish", req.CompanyContext.CompanyKey(), err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue discovery job"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{
				"company_key":    req.CompanyContext.CompanyKey(),
				"message_id":     msgId,
				"correlation_id": cid,
			})
			return
		}

		if _, err := models.GetOrCreateCompany(ctx, req.CompanyContext); err != nil {
			config.LogError(logger, "server.go", "discoverHandler", "company", req.CompanyContext.CompanyKey(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record company"})
			return
		}

		group, err := orchestrator.Discover(ctx, req.CompanyContext, tier)
		if err != nil {
			var invalid *discovery.ValidationError
			if errors.As(err, &invalid) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			config.LogError(logger, "server.go", "discoverHandler", "discover", req.CompanyContext.CompanyKey(), err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		if err := models.SaveBuyerGroup(ctx, group); err != nil {
			config.LogError(logger, "server.go", "discoverHandler", "save", group.CompanyKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist buyer group"})
			return
		}

		c.JSON(http.StatusOK, group)
	}
}

type discoverBatchRequest struct {
	Companies      []models.CompanyContext `json:"companies"`
	EnrichmentTier string                  `json:"enrichment_tier"`
	Concurrency    int                     `json:"concurrency"`
}

func discoverBatchHandler(orchestrator *discovery.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req discoverBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if len(req.Companies) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "companies is required"})
			return
		}
		tier, err := models.ParseEnrichmentTier(req.EnrichmentTier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		groups, stats, err := orchestrator.DiscoverBatch(ctx, req.Companies, tier, req.Concurrency)
		if err != nil {
			config.LogError(logger, "server.go", "discoverBatchHandler", "batch", len(req.Companies), err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		for _, group := range groups {
			if err := models.SaveBuyerGroup(ctx, group); err != nil {
				config.LogError(logger, "server.go", "discoverBatchHandler", "save", group.CompanyKey, err)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"groups": groups,
			"stats":  stats,
		})
	}
}

func getBuyerGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyKey := c.Param("companyKey")
		if companyKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company key is required"})
			return
		}
		group, err := models.GetLatestBuyerGroup(c.Request.Context(), companyKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if group == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no buyer group for company"})
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

func exportBuyerGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyKey := c.Param("companyKey")
		group, err := models.GetLatestBuyerGroup(c.Request.Context(), companyKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if group == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no buyer group for company"})
			return
		}

		file, err := reports.BuildBuyerGroupWorkbook(group)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "exportBuyerGroupHandler", companyKey, nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=buyer-group-%s.xlsx", companyKey))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := file.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "server.go", "exportBuyerGroupHandler", companyKey, nil, err)
		}
	}
}

func discoveryPubSubHandler(orchestrator *discovery.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization; duplicate deliveries are
		// also caught by the durable job record keyed on message ID.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "discoveryPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "discoveryPubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var m config.DiscoveryJobMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "discoveryPubSubHandler", "Unmarshal pubsub message", msg.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.CompanyKey == "" || m.CompanyName == "" {
			config.LogError(logger, "server.go", "discoveryPubSubHandler", "Invalid pubsub message (missing required fields)", m, fmt.Errorf("company_key/company_name required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		// Best-effort per-company lock so concurrent deliveries for the same
		// company don't race; the job record serializes safely without it.
		var lock *redislock.Lock
		if redisLock != nil {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:discovery:%s", m.CompanyKey), 2*time.Minute, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":       "discoveryPubSubHandler",
					"company_key": m.CompanyKey,
					"message_id":  msg.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":       "discoveryPubSubHandler",
					"company_key": m.CompanyKey,
					"message_id":  msg.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":       "discoveryPubSubHandler",
					"company_key": m.CompanyKey,
					"message_id":  msg.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		ctx = utils.SetRequestSourceInContext(ctx, "pubsub")
		if err := workflow.ProcessDiscoveryJob(ctx, logger, orchestrator, msg.Message.ID, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "discoveryPubSubHandler",
				"company_key":    m.CompanyKey,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	orchestrator := buildOrchestrator(logger)

	r.POST("/v1/buyer-groups/discover", discoverHandler(orchestrator))
	r.POST("/v1/buyer-groups/discover-batch", discoverBatchHandler(orchestrator))
	r.GET("/v1/buyer-groups/:companyKey", getBuyerGroupHandler())
	r.GET("/v1/buyer-groups/:companyKey/export", exportBuyerGroupHandler())
	r.POST("/pubsub", discoveryPubSubHandler(orchestrator))
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("buyer group discovery API listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
