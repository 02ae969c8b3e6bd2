package app

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/slack-go/slack"

	"gptqual/internal/analysis"
	"gptqual/internal/api"
	"gptqual/internal/config"
	"gptqual/internal/httpx"
	"gptqual/internal/integrations/llm"
	slackbot "gptqual/internal/integrations/slack"
	"gptqual/internal/schedule"
	"gptqual/internal/storage/sqlite"
)

const (
	sweepInterval = time.Minute
	jobRetention  = 2 * time.Hour
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s Model=%s MaxTokens=%d HTTP=%s Slack=%t ScheduledRuns=%d Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.LLMMaxTokens,
		cfg.HTTPAddr,
		cfg.SlackConfigured(),
		len(cfg.ScheduledRuns),
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit, auditCloser, err := llm.OpenAuditLog(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer auditCloser.Close()
	log.Printf("Audit log: %s", cfg.AuditLogPath)

	completer, err := llm.NewCompleter(cfg.LLMProvider, cfg.LLMModel, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.AnthropicAPIKey)
	if err != nil {
		log.Fatalf("Failed to init LLM client: %v", err)
	}
	client := llm.NewClient(completer, int64(cfg.LLMMaxTokens), audit)

	var db *sql.DB
	if cfg.HistoryEnabled() {
		db, err = sqlite.InitDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to init database: %v", err)
		}
		log.Printf("Database initialized at %s", cfg.DBPath)
		defer db.Close()
	} else {
		log.Println("Run history disabled (db_path=off)")
	}

	analyzer := analysis.NewAnalyzer(client, db)

	var slackAPI *slack.Client
	if cfg.SlackConfigured() {
		slackAPI = slack.New(
			cfg.SlackBotToken,
			slack.OptionAppLevelToken(cfg.SlackAppToken),
		)
	}

	// Keep a nil *slack.Client out of the poster interface.
	if slackAPI != nil {
		schedule.Start(ctx, cfg, analyzer, slackAPI)
	} else {
		schedule.Start(ctx, cfg, analyzer, nil)
	}

	var wg sync.WaitGroup
	if cfg.HTTPEnabled() {
		sessions := analysis.NewSessions(cfg.SessionTTL())
		jobs := analysis.NewJobs()
		go sweep(ctx, sessions, jobs)

		handler := api.NewHandler(analyzer, sessions, jobs, db, int64(cfg.MaxUploadBytes))
		handler.BaseContext = ctx
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Serve(ctx, cfg.HTTPAddr, api.SetupRouter(handler)); err != nil {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()
	}

	if slackAPI != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("Starting GPT Qual Slack bot...")
			if err := slackbot.StartSlackBot(ctx, slackAPI, analyzer, int64(cfg.MaxUploadBytes)); err != nil && ctx.Err() == nil {
				log.Printf("Slack bot error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down...")
	wg.Wait()
}

func sweep(ctx context.Context, sessions *analysis.Sessions, jobs *analysis.Jobs) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := sessions.Sweep()
			cleaned := jobs.Cleanup(jobRetention)
			if expired > 0 || cleaned > 0 {
				log.Printf("sweep expired_sessions=%d removed_jobs=%d active_sessions=%d", expired, cleaned, sessions.Len())
			}
		}
	}
}
