package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"positivex.app/server/internal/api"
	"positivex.app/server/internal/auth"
	"positivex.app/server/internal/config"
	"positivex.app/server/internal/core"
	"positivex.app/server/internal/retry"
	"positivex.app/server/internal/scheduler"
	"positivex.app/server/internal/sentiment"
	"positivex.app/server/internal/store"
	"positivex.app/server/internal/twitter"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	pruneFlag := flag.Bool("prune", false, "Prune cached posts older than CACHE_RETENTION and exit")
	flag.Parse()

	ctx := context.Background()

	// Initialize database store
	dbStore, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	sched := scheduler.New()

	if *pruneFlag {
		if err := sched.RunNow("prune-cache", scheduler.PruneJob(dbStore, cfg.CacheRetention)); err != nil {
			log.Fatalf("Cache prune failed: %v", err)
		}
		return
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	// Initialize sentiment classifier
	classifier, err := sentiment.New(ctx, sentiment.Options{
		Backend:          cfg.ClassifierBackend,
		HuggingFaceToken: cfg.HuggingFaceToken,
		HuggingFaceModel: cfg.HuggingFaceModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiModel:      cfg.GeminiModel,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
		HTTPClient:       httpClient,
		Retry:            retry.NewPolicy("classifier", cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxWait),
	})
	if err != nil {
		log.Fatalf("Failed to initialize %s classifier: %v", cfg.ClassifierBackend, err)
	}
	defer classifier.Close()
	analyzer := sentiment.NewAnalyzer(classifier)

	twitterClient := twitter.NewClient(cfg.TwitterAPIBaseURL, httpClient,
		retry.NewPolicy("twitter", cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxWait))

	feedService := core.NewFeedService(dbStore, twitterClient, analyzer, core.FeedOptions{
		CacheTTL:   cfg.CacheTTL,
		MinRefetch: cfg.CacheMinRefetch,
		Debug:      cfg.Debug(),
	})
	sentimentService := core.NewSentimentService(analyzer)

	authService := auth.NewService(auth.Options{
		ClientID:      cfg.TwitterClientID,
		ClientSecret:  cfg.TwitterClientSecret,
		RedirectURL:   cfg.TwitterRedirectURL,
		SessionSecret: cfg.SessionSecret,
		BearerToken:   cfg.TwitterBearerToken,
		UserID:        cfg.TwitterUserID,
	}, dbStore, twitterClient)
	if !authService.SignInEnabled() {
		log.Println("Sign-in with X is disabled; serving the configured service account only")
	}

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(feedService, sentimentService, authService, api.HandlerOptions{
		DefaultThreshold: cfg.DefaultThreshold,
		FrontendURL:      cfg.FrontendURL,
		SecureCookies:    strings.HasPrefix(cfg.TwitterRedirectURL, "https://"),
	})
	router := api.NewRouter(apiHandler)

	if err := sched.AddPruneJob(cfg.CachePruneSchedule, dbStore, cfg.CacheRetention); err != nil {
		log.Fatalf("Failed to schedule cache pruning: %v", err)
	}
	sched.Start()
	for _, job := range sched.ListJobs() {
		log.Printf("[scheduler] %s next run at %s", job.Name, job.NextRun.Format(time.RFC3339))
	}

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // a cold feed page waits on X and the classifier
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	<-sched.Stop().Done()

	// classifier.Close() and dbStore.Close() run in their defers.
	log.Println("Server exiting gracefully")
}
