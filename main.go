package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"paper-pulse/config"
	"paper-pulse/llm"
	"paper-pulse/models"
	"paper-pulse/providers/arxiv"
	"paper-pulse/providers/github"
	"paper-pulse/providers/pwc"
	"paper-pulse/services"
	"paper-pulse/storage"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Obergrenzen für Request-Eingaben.
const (
	maxLookupIDs      = 50
	maxWatchlistTerms = 50
)

var (
	papersIngestedCounter prometheus.Counter
	papersEnrichedCounter prometheus.Counter
	digestsSentCounter    prometheus.Counter
)

func init() {
	papersIngestedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_ingested_total",
			Help: "Total number of new papers added by ingestion runs.",
		},
	)
	papersEnrichedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papers_enriched_total",
			Help: "Total number of papers enriched with code and LLM signals.",
		},
	)
	digestsSentCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "digests_sent_total",
			Help: "Total number of digests delivered to the webhook.",
		},
	)
	prometheus.MustRegister(papersIngestedCounter, papersEnrichedCounter, digestsSentCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// jwtAuthMiddleware prüft das Bearer-Token der User-Endpunkte und legt die
// User-ID aus dem Subject-Claim in den Kontext.
func jwtAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid token"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

// currentUserID liest die vom JWT-Middleware gesetzte User-ID.
func currentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	// Auto-Migration
	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable(
			&models.Paper{}, &models.PaperVersion{}, &models.Author{}, &models.PaperAuthor{},
			&models.Enrichment{}, &models.StructuredExtraction{}, &models.Review{}, &models.Score{},
			&models.Watchlist{}, &models.UserSettings{}, &models.Digest{}, &models.DigestItem{},
			&models.JobRun{},
		)
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Paper{}, &models.PaperVersion{}, &models.Author{}, &models.PaperAuthor{},
		&models.Enrichment{}, &models.StructuredExtraction{}, &models.Review{}, &models.Score{},
		&models.Watchlist{}, &models.UserSettings{}, &models.Digest{}, &models.DigestItem{},
		&models.JobRun{},
	)

	// Redis ist optional: ohne Queue fängt der Enrich-Sweep alles auf,
	// der Feed läuft dann ohne Cache.
	redisClient, err := storage.NewRedisClient(cfg)
	if err != nil {
		logging.Warn("Redis not reachable, queue and feed cache disabled", zap.Error(err))
		redisClient = nil
	}

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	llmClient, err := llm.NewFromConfig(cfg)
	if err != nil {
		logging.Fatal("LLM client creation failed", zap.Error(err))
	}

	// Setup Fetchers
	arxivFetcher := arxiv.NewFetcher(cfg, logging)
	githubFetcher := github.NewFetcher(cfg, logging)
	pwcFetcher := pwc.NewFetcher(cfg, logging)

	// Setup Services
	ingestService := services.NewIngestService(cfg, db, redisClient, logging, arxivFetcher)
	enrichService := services.NewEnrichService(cfg, db, redisClient, logging, githubFetcher, pwcFetcher, llmClient)
	digestService := services.NewDigestService(cfg, db, s3Client, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Setup Routes
	setupFeedRoutes(router, cfg, db, redisClient, logging)
	setupPaperRoutes(router, cfg, db, logging)
	setupWatchlistRoutes(router, cfg, db, logging)
	setupSettingsRoutes(router, cfg, db, logging)
	setupDigestRoutes(router, cfg, db, logging)
	setupJobRoutes(router, cfg, db, redisClient, ingestService, enrichService, digestService, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.IngestCron, func() {
		logging.Info("Running scheduled ingest job...")
		summary, err := ingestService.Run(context.Background())
		if err != nil {
			logging.Error("Ingest cron job failed", zap.Error(err))
			return
		}
		logging.Info("Ingest cron job completed", zap.Int("created", summary.Created), zap.Int("updated", summary.Updated))
		papersIngestedCounter.Add(float64(summary.Created))
	})
	cronScheduler.AddFunc(cfg.EnrichCron, func() {
		logging.Info("Running scheduled enrich job...")
		summary, err := enrichService.Run(context.Background())
		if err != nil {
			logging.Error("Enrich cron job failed", zap.Error(err))
			return
		}
		logging.Info("Enrich cron job completed", zap.Int("enriched", summary.Enriched))
		papersEnrichedCounter.Add(float64(summary.Enriched))
	})
	cronScheduler.AddFunc(cfg.DigestCron, func() {
		logging.Info("Running scheduled digest job...")
		summary, err := digestService.Run(context.Background())
		if err != nil {
			logging.Error("Digest cron job failed", zap.Error(err))
			return
		}
		logging.Info("Digest cron job completed", zap.Int("sent", summary.Sent))
		digestsSentCounter.Add(float64(summary.Sent))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// feedItem ist eine Feed-Zeile: Paper plus Score und jüngste Anreicherung.
type feedItem struct {
	models.Paper
	Score       float64  `json:"score"`
	PrimaryRepo string   `json:"primary_repo,omitempty"`
	RepoStars   int      `json:"repo_stars"`
	HasWeights  bool     `json:"has_weights"`
	Method      string   `json:"method,omitempty"`
	Benchmarks  []string `json:"benchmarks,omitempty"`
	Novelty     *int     `json:"novelty,omitempty"`
}

func setupFeedRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, redisClient *redis.Client, log *zap.Logger) {
	rg := router.Group("/feed", jwtAuthMiddleware(cfg))

	rg.GET("/", func(c *gin.Context) {
		userID := currentUserID(c)

		// Defaults kommen aus den gespeicherten User-Einstellungen,
		// Query-Parameter überschreiben pro Request.
		days := 7
		minStars := 0
		var settings models.UserSettings
		if err := db.Where("user_id = ?", userID).First(&settings).Error; err == nil {
			if settings.FeedDays > 0 {
				days = settings.FeedDays
			}
			minStars = settings.FeedMinStars
		}

		if v, err := strconv.Atoi(c.Query("days")); err == nil && v > 0 && v <= 90 {
			days = v
		}
		if v, err := strconv.Atoi(c.Query("min_stars")); err == nil && v >= 0 {
			minStars = v
		}
		limit := 50
		if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 100 {
			limit = v
		}
		category := strings.TrimSpace(c.Query("category"))

		cacheKey := fmt.Sprintf("paperpulse:cache:feed:%s:%d:%d:%d:%s", userID, days, minStars, limit, category)
		if redisClient != nil {
			if cached, err := storage.CacheGet(c.Request.Context(), redisClient, cacheKey); err == nil {
				c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
				return
			}
		}

		since := time.Now().AddDate(0, 0, -days)
		query := db.Where("published_at >= ?", since)
		if category != "" {
			// Kategorien stehen leerzeichen-getrennt in einer Spalte;
			// das Padding verhindert Teilstring-Treffer wie cs.AI in cs.AIX.
			query = query.Where("' ' || categories || ' ' LIKE ?", "% "+category+" %")
		}

		var papers []models.Paper
		if err := query.Order("published_at desc").Limit(500).Find(&papers).Error; err != nil {
			log.Error("Feed query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		items, err := buildFeedItems(db, papers, minStars, limit)
		if err != nil {
			log.Error("Feed assembly failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		data, err := json.Marshal(items)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encoding error"})
			return
		}
		if redisClient != nil {
			if err := storage.CacheSet(c.Request.Context(), redisClient, cacheKey, string(data), cfg.FeedCacheTTL); err != nil {
				log.Debug("Feed cache write failed", zap.Error(err))
			}
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	})
}

// buildFeedItems hängt Score und jüngste Anreicherung an die Papers,
// filtert nach Mindest-Stars und sortiert nach Score absteigend.
func buildFeedItems(db *gorm.DB, papers []models.Paper, minStars, limit int) ([]feedItem, error) {
	if len(papers) == 0 {
		return []feedItem{}, nil
	}

	ids := make([]uint, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}

	var scores []models.Score
	if err := db.Where("paper_id IN ?", ids).Find(&scores).Error; err != nil {
		return nil, err
	}
	scoreByPaper := make(map[uint]float64, len(scores))
	for _, s := range scores {
		scoreByPaper[s.PaperID] = s.Global
	}

	var enrichments []models.Enrichment
	if err := db.Where("paper_id IN ?", ids).Order("created_at asc").Find(&enrichments).Error; err != nil {
		return nil, err
	}
	latestEnrichment := services.LatestEnrichments(enrichments)

	var extractions []models.StructuredExtraction
	if err := db.Where("paper_id IN ?", ids).Order("created_at asc").Find(&extractions).Error; err != nil {
		return nil, err
	}
	latestExtraction := services.LatestExtractions(extractions)

	var reviews []models.Review
	if err := db.Where("paper_id IN ?", ids).Order("created_at asc").Find(&reviews).Error; err != nil {
		return nil, err
	}
	latestReview := services.LatestReviews(reviews)

	items := make([]feedItem, 0, len(papers))
	for _, p := range papers {
		item := feedItem{Paper: p, Score: scoreByPaper[p.ID]}
		if e, ok := latestEnrichment[p.ID]; ok {
			item.PrimaryRepo = e.PrimaryRepo
			item.RepoStars = e.RepoStars
			item.HasWeights = e.HasWeights
		}
		if minStars > 0 && item.RepoStars < minStars {
			continue
		}
		if x, ok := latestExtraction[p.ID]; ok {
			item.Method = x.Method
			item.Benchmarks = decodeJSONList(x.Benchmarks)
		}
		if r, ok := latestReview[p.ID]; ok {
			item.Novelty = &r.NoveltyScore
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// paperDetail ist die Detailsicht eines Papers mit allen Signalen.
// Bei den append-only Tabellen gewinnt die jüngste Zeile.
type paperDetail struct {
	models.Paper
	Authors    []string                     `json:"authors"`
	Versions   []models.PaperVersion        `json:"versions,omitempty"`
	Enrichment *models.Enrichment           `json:"enrichment,omitempty"`
	Extraction *models.StructuredExtraction `json:"extraction,omitempty"`
	Review     *models.Review               `json:"review,omitempty"`
	Score      *models.Score                `json:"score,omitempty"`
}

func setupPaperRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/papers", jwtAuthMiddleware(cfg))

	// Einzelnes Paper; akzeptiert auch versionierte IDs wie 2501.12345v2.
	rg.GET("/:id", func(c *gin.Context) {
		baseID, ok := arxiv.NormalizeID(c.Param("id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid arxiv id"})
			return
		}

		var paper models.Paper
		if err := db.Where("arxiv_id = ?", baseID).First(&paper).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
				return
			}
			log.Error("DB error loading paper", zap.String("arxiv_id", baseID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		detail, err := buildPaperDetail(db, paper)
		if err != nil {
			log.Error("DB error building paper detail", zap.String("arxiv_id", baseID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	// Batch-Lookup: normalisiert beliebige ID-Formen (bare, versioniert,
	// abs/pdf-URL) und meldet alles Unparsebare oder Unbekannte zurück.
	rg.POST("/lookup", func(c *gin.Context) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.IDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
			return
		}
		if len(req.IDs) > maxLookupIDs {
			req.IDs = req.IDs[:maxLookupIDs]
		}

		var notFound []string
		var baseIDs []string
		seen := make(map[string]bool, len(req.IDs))
		for _, raw := range req.IDs {
			baseID, ok := arxiv.NormalizeID(raw)
			if !ok {
				notFound = append(notFound, raw)
				continue
			}
			if !seen[baseID] {
				seen[baseID] = true
				baseIDs = append(baseIDs, baseID)
			}
		}

		var papers []models.Paper
		if len(baseIDs) > 0 {
			if err := db.Where("arxiv_id IN ?", baseIDs).Find(&papers).Error; err != nil {
				log.Error("DB error on paper lookup", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
		}
		found := make(map[string]bool, len(papers))
		for _, p := range papers {
			found[p.ArxivID] = true
		}
		for _, id := range baseIDs {
			if !found[id] {
				notFound = append(notFound, id)
			}
		}

		c.JSON(http.StatusOK, gin.H{"papers": papers, "not_found": notFound})
	})

	// Vergleich zweier Papers nebeneinander, inklusive Extraktion und Review.
	rg.POST("/compare", func(c *gin.Context) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.IDs) != 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactly two ids required"})
			return
		}

		var details []paperDetail
		var notFound []string
		for _, raw := range req.IDs {
			baseID, ok := arxiv.NormalizeID(raw)
			if !ok {
				notFound = append(notFound, raw)
				continue
			}
			var paper models.Paper
			if err := db.Where("arxiv_id = ?", baseID).First(&paper).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					notFound = append(notFound, raw)
					continue
				}
				log.Error("DB error on paper compare", zap.String("arxiv_id", baseID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			detail, err := buildPaperDetail(db, paper)
			if err != nil {
				log.Error("DB error building compare detail", zap.String("arxiv_id", baseID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			details = append(details, *detail)
		}

		if len(notFound) > 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "not all papers found", "not_found": notFound})
			return
		}
		c.JSON(http.StatusOK, gin.H{"papers": details})
	})
}

func buildPaperDetail(db *gorm.DB, paper models.Paper) (*paperDetail, error) {
	detail := &paperDetail{Paper: paper, Authors: []string{}}

	if err := db.Table("paper_authors").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Where("paper_authors.paper_id = ?", paper.ID).
		Order("paper_authors.position").
		Pluck("authors.name", &detail.Authors).Error; err != nil {
		return nil, err
	}

	if err := db.Where("paper_id = ?", paper.ID).Order("version asc").Find(&detail.Versions).Error; err != nil {
		return nil, err
	}

	var enrichment models.Enrichment
	if err := db.Where("paper_id = ?", paper.ID).Order("created_at desc").First(&enrichment).Error; err == nil {
		detail.Enrichment = &enrichment
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var extraction models.StructuredExtraction
	if err := db.Where("paper_id = ?", paper.ID).Order("created_at desc").First(&extraction).Error; err == nil {
		detail.Extraction = &extraction
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var review models.Review
	if err := db.Where("paper_id = ?", paper.ID).Order("created_at desc").First(&review).Error; err == nil {
		detail.Review = &review
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var score models.Score
	if err := db.Where("paper_id = ?", paper.ID).First(&score).Error; err == nil {
		detail.Score = &score
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return detail, nil
}

var validWatchlistTypes = map[string]bool{
	models.WatchlistKeyword:     true,
	models.WatchlistAuthor:      true,
	models.WatchlistBenchmark:   true,
	models.WatchlistInstitution: true,
}

func setupWatchlistRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/watchlists", jwtAuthMiddleware(cfg))

	type watchlistRequest struct {
		Type       string   `json:"type"`
		Name       string   `json:"name"`
		Terms      []string `json:"terms"`
		Categories []string `json:"categories"`
	}

	rg.GET("/", func(c *gin.Context) {
		var lists []models.Watchlist
		if err := db.Where("user_id = ?", currentUserID(c)).Order("id").Find(&lists).Error; err != nil {
			log.Error("Watchlist query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, lists)
	})

	rg.POST("/", func(c *gin.Context) {
		var req watchlistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if !validWatchlistTypes[req.Type] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid watchlist type"})
			return
		}
		if len(req.Terms) > maxWatchlistTerms {
			req.Terms = req.Terms[:maxWatchlistTerms]
		}

		wl := models.Watchlist{
			UserID:     currentUserID(c),
			Type:       req.Type,
			Name:       req.Name,
			Terms:      mustJSONList(req.Terms),
			Categories: mustJSONList(req.Categories),
		}
		if err := db.Create(&wl).Error; err != nil {
			log.Error("Watchlist creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create watchlist"})
			return
		}
		c.JSON(http.StatusCreated, wl)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		// Zuerst prüfen, ob die Watchlist existiert und dem User gehört
		var wl models.Watchlist
		if err := db.Where("id = ? AND user_id = ?", c.Param("id"), currentUserID(c)).First(&wl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "watchlist not found"})
				return
			}
			log.Error("DB error checking for watchlist on PUT", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var req watchlistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		// Nur die gesendeten Felder aktualisieren
		updates := map[string]interface{}{}
		if req.Type != "" {
			if !validWatchlistTypes[req.Type] {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid watchlist type"})
				return
			}
			updates["type"] = req.Type
		}
		if req.Name != "" {
			updates["name"] = req.Name
		}
		if req.Terms != nil {
			if len(req.Terms) > maxWatchlistTerms {
				req.Terms = req.Terms[:maxWatchlistTerms]
			}
			updates["terms"] = mustJSONList(req.Terms)
		}
		if req.Categories != nil {
			updates["categories"] = mustJSONList(req.Categories)
		}

		if len(updates) > 0 {
			if err := db.Model(&wl).Updates(updates).Error; err != nil {
				log.Error("Watchlist update failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update watchlist"})
				return
			}
		}
		c.JSON(http.StatusOK, wl)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		res := db.Where("id = ? AND user_id = ?", c.Param("id"), currentUserID(c)).Delete(&models.Watchlist{})
		if res.Error != nil {
			log.Error("Watchlist deletion failed", zap.Error(res.Error))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "watchlist not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "watchlist deleted"})
	})
}

func setupSettingsRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/settings", jwtAuthMiddleware(cfg))

	rg.GET("/", func(c *gin.Context) {
		var settings models.UserSettings
		if err := db.Where("user_id = ?", currentUserID(c)).First(&settings).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Defaults, solange noch nichts gespeichert wurde.
				c.JSON(http.StatusOK, models.UserSettings{UserID: currentUserID(c), DigestEnabled: true, FeedDays: 7})
				return
			}
			log.Error("Settings query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, settings)
	})

	rg.PUT("/", func(c *gin.Context) {
		userID := currentUserID(c)

		var req struct {
			DigestEnabled    *bool    `json:"digest_enabled"`
			DigestCategories []string `json:"digest_categories"`
			FeedDays         *int     `json:"feed_days"`
			FeedMinStars     *int     `json:"feed_min_stars"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		var settings models.UserSettings
		err := db.Where("user_id = ?", userID).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			settings = models.UserSettings{UserID: userID, DigestEnabled: true, FeedDays: 7}
			if cerr := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; cerr != nil {
				log.Error("Settings creation failed", zap.Error(cerr))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
				return
			}
			if settings.ID == 0 {
				// Parallel angelegt; Zeile nachlesen.
				if rerr := db.Where("user_id = ?", userID).First(&settings).Error; rerr != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
					return
				}
			}
		} else if err != nil {
			log.Error("Settings query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Map-Updates, damit auch false und 0 zuverlässig ankommen.
		updates := map[string]interface{}{}
		if req.DigestEnabled != nil {
			updates["digest_enabled"] = *req.DigestEnabled
		}
		if req.DigestCategories != nil {
			updates["digest_categories"] = mustJSONList(req.DigestCategories)
		}
		if req.FeedDays != nil && *req.FeedDays > 0 && *req.FeedDays <= 90 {
			updates["feed_days"] = *req.FeedDays
		}
		if req.FeedMinStars != nil && *req.FeedMinStars >= 0 {
			updates["feed_min_stars"] = *req.FeedMinStars
		}

		if len(updates) > 0 {
			if err := db.Model(&settings).Updates(updates).Error; err != nil {
				log.Error("Settings update failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
				return
			}
		}
		c.JSON(http.StatusOK, settings)
	})
}

func setupDigestRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/digests", jwtAuthMiddleware(cfg))

	rg.GET("/", func(c *gin.Context) {
		var digests []models.Digest
		if err := db.Where("user_id = ?", currentUserID(c)).Order("scheduled_for desc").Limit(20).Find(&digests).Error; err != nil {
			log.Error("Digest query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, digests)
	})

	rg.GET("/:public_id", func(c *gin.Context) {
		var digest models.Digest
		if err := db.Where("public_id = ? AND user_id = ?", c.Param("public_id"), currentUserID(c)).First(&digest).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "digest not found"})
				return
			}
			log.Error("DB error loading digest", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var items []models.DigestItem
		if err := db.Where("digest_id = ?", digest.ID).Order("rank asc").Find(&items).Error; err != nil {
			log.Error("DB error loading digest items", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		paperIDs := make([]uint, 0, len(items))
		for _, it := range items {
			paperIDs = append(paperIDs, it.PaperID)
		}
		papersByID := make(map[uint]models.Paper, len(paperIDs))
		if len(paperIDs) > 0 {
			var papers []models.Paper
			if err := db.Where("id IN ?", paperIDs).Find(&papers).Error; err != nil {
				log.Error("DB error loading digest papers", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			for _, p := range papers {
				papersByID[p.ID] = p
			}
		}

		type digestDetailItem struct {
			ArxivID    string   `json:"arxiv_id"`
			Title      string   `json:"title"`
			AbsURL     string   `json:"abs_url,omitempty"`
			Rank       int      `json:"rank"`
			MatchScore float64  `json:"match_score"`
			Reasons    []string `json:"reasons,omitempty"`
		}
		out := make([]digestDetailItem, 0, len(items))
		for _, it := range items {
			p := papersByID[it.PaperID]
			out = append(out, digestDetailItem{
				ArxivID:    p.ArxivID,
				Title:      p.Title,
				AbsURL:     p.AbsURL,
				Rank:       it.Rank,
				MatchScore: it.MatchScore,
				Reasons:    decodeJSONList(it.Reasons),
			})
		}

		c.JSON(http.StatusOK, gin.H{"digest": digest, "items": out})
	})
}

func setupJobRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, redisClient *redis.Client, ingestService *services.IngestService, enrichService *services.EnrichService, digestService *services.DigestService, log *zap.Logger) {
	rg := router.Group("/jobs", apiKeyAuthMiddleware(cfg))

	// Jobs laufen asynchron; die Antwort bestätigt nur den Start.
	// Der Verlauf ist über /jobs/runs abrufbar.
	rg.POST("/ingest", func(c *gin.Context) {
		go func() {
			summary, err := ingestService.Run(context.Background())
			if err != nil {
				log.Error("Async ingest run failed", zap.Error(err))
				return
			}
			papersIngestedCounter.Add(float64(summary.Created))
			log.Info("Async ingest run completed", zap.Int("created", summary.Created), zap.Int("updated", summary.Updated))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Ingest job triggered."})
	})

	rg.POST("/enrich", func(c *gin.Context) {
		go func() {
			summary, err := enrichService.Run(context.Background())
			if err != nil {
				log.Error("Async enrich run failed", zap.Error(err))
				return
			}
			papersEnrichedCounter.Add(float64(summary.Enriched))
			log.Info("Async enrich run completed", zap.Int("enriched", summary.Enriched))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Enrich job triggered."})
	})

	rg.POST("/digest", func(c *gin.Context) {
		go func() {
			summary, err := digestService.Run(context.Background())
			if err != nil {
				log.Error("Async digest run failed", zap.Error(err))
				return
			}
			digestsSentCounter.Add(float64(summary.Sent))
			log.Info("Async digest run completed", zap.Int("sent", summary.Sent))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Digest job triggered."})
	})

	rg.GET("/runs", func(c *gin.Context) {
		limit := 20
		if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 100 {
			limit = v
		}
		query := db.Model(&models.JobRun{})
		if name := c.Query("name"); name != "" {
			query = query.Where("job_name = ?", name)
		}
		var runs []models.JobRun
		if err := query.Order("started_at desc").Limit(limit).Find(&runs).Error; err != nil {
			log.Error("Job run query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, runs)
	})

	// Rückstau der Anreicherungs-Queue, für das operative Monitoring.
	rg.GET("/queue", func(c *gin.Context) {
		if redisClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
			return
		}
		pending, err := storage.QueueLen(c.Request.Context(), redisClient, storage.EnrichQueueKey)
		if err != nil {
			log.Error("Queue length query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "redis error"})
			return
		}
		failed, err := storage.QueueLen(c.Request.Context(), redisClient, storage.EnrichDeadLetterKey)
		if err != nil {
			log.Error("Dead letter length query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "redis error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enrich_pending": pending, "enrich_failed": failed})
	})
}

// decodeJSONList dekodiert ein JSON-String-Array; kaputtes JSON zählt wie leer.
func decodeJSONList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// mustJSONList serialisiert eine Stringliste für die JSON-Spalten.
func mustJSONList(in []string) datatypes.JSON {
	if in == nil {
		in = []string{}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return raw
}
