package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/ingestion"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// CallTask is one synthetic call the load generator plays against the server.
type CallTask struct {
	AssistantID string
	Sequence    []model.WebhookSpec
}

// sampleTranscripts cover the three intents.
var sampleTranscripts = []string{
	"Hi, I'd like to schedule an appointment tomorrow at 3pm if there is availability",
	"My router is broken and the internet is not working since this morning",
	"I need help with a refund for my last invoice",
	"Just calling to ask about your opening hours",
	"",
}

type sender struct {
	client  *http.Client
	url     string
	secret  string
	stepGap time.Duration
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	targetURL := flag.String("url", fmt.Sprintf("http://localhost:%d/webhooks/calls", cfg.Server.Port), "Webhook endpoint URL")
	secret := flag.String("secret", cfg.Webhook.Secret, "Value for the webhook secret header")
	assistantIDsStr := flag.String("assistant_ids", "", "Comma-separated list of assistant IDs to route calls to")
	rate := flag.Int("rate", 10, "Target calls started per second")
	duration := flag.Duration("duration", time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent calls in flight")
	stepGap := flag.Duration("step-gap", 200*time.Millisecond, "Delay between the events of one call")
	duplicateRatio := flag.Float64("duplicate-ratio", 0.1, "Fraction of calls whose end-of-call report is delivered twice")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Webhook Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Plays synthetic call event sequences against a running webhook server.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	assistantIDs := splitNonEmpty(*assistantIDsStr)
	if len(assistantIDs) == 0 {
		logger.Log.Fatal("No assistant IDs provided")
	}
	if *rate <= 0 {
		logger.Log.Fatal("Rate must be positive", zap.Int("rate", *rate))
	}

	observer.InitMetrics(true)
	gofakeit.Seed(time.Now().UnixNano())

	logger.Log.Info("Starting webhook load generator",
		zap.String("url", *targetURL),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Strings("assistant_ids", assistantIDs),
	)

	s := &sender{
		client:  &http.Client{Timeout: 30 * time.Second},
		url:     *targetURL,
		secret:  *secret,
		stepGap: *stepGap,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer wg.Done()
		s.play(ctx, data.(CallTask))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *metricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
		runLoadLoop(gctx, *rate, *duration, *duplicateRatio, assistantIDs, pool, &wg)
		logger.Log.Info("Waiting for in-flight calls to complete...")
		wg.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("Load generator stopped with error", zap.Error(err))
	}
	logger.Log.Info("Load generator shutdown complete.")
}

// runLoadLoop starts calls at the target rate until the duration elapses or
// ctx is cancelled.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, duplicateRatio float64, assistantIDs []string, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	started := 0
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load generation loop stopping due to context cancellation", zap.Int("calls_started", started))
			return
		case <-durationTimer.C:
			logger.Log.Info("Load generation loop stopping after specified duration", zap.Int("calls_started", started))
			return
		case <-ticker.C:
			task := newCallTask(assistantIDs[started%len(assistantIDs)], duplicateRatio)
			started++
			wg.Add(1)
			if err := pool.Invoke(task); err != nil {
				wg.Done()
				logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
			}
		}
	}
}

// newCallTask builds the event sequence of one call: in-progress, an
// optional transcript update and the end-of-call report, sometimes twice.
func newCallTask(assistantID string, duplicateRatio float64) CallTask {
	callID := "call_" + gofakeit.LetterN(16)
	from := model.FakeE164()
	transcript := gofakeit.RandomString(sampleTranscripts)
	turns := 0
	if transcript != "" {
		turns = gofakeit.Number(1, 6)
	}
	callDuration := time.Duration(gofakeit.Number(3, 180)) * time.Second
	startedAt := time.Now().Add(-callDuration)

	base := model.WebhookSpec{CallID: callID, AssistantID: assistantID, From: from, StartedAt: startedAt}

	live := base
	live.Type, live.Status = "status-update", "in-progress"
	seq := []model.WebhookSpec{live}

	if transcript != "" {
		update := base
		update.Type, update.Transcript = "transcript", transcript
		seq = append(seq, update)
	}

	report := base
	report.Type = "end-of-call-report"
	report.Transcript = transcript
	report.UserTurns = turns
	report.Duration = callDuration
	report.Cost = gofakeit.Float64Range(0.01, 1.5)
	seq = append(seq, report)
	if gofakeit.Float64() < duplicateRatio {
		seq = append(seq, report)
	}
	return CallTask{AssistantID: assistantID, Sequence: seq}
}

func (s *sender) play(ctx context.Context, task CallTask) {
	for i, spec := range task.Sequence {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.stepGap):
			}
		}
		s.send(ctx, spec)
	}
}

func (s *sender) send(ctx context.Context, spec model.WebhookSpec) {
	observer.IncLoadgenRequestsAttempted(spec.Type)

	body, err := json.Marshal(model.NewWebhookPayload(spec))
	if err != nil {
		logger.Log.Error("Failed to marshal payload", zap.String("call_id", spec.CallID), zap.Error(err))
		observer.IncLoadgenRequestErrors(spec.Type)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		observer.IncLoadgenRequestErrors(spec.Type)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(ingestion.HeaderWebhookSecret, s.secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Warn("Webhook request failed", zap.String("call_id", spec.CallID), zap.Error(err))
		observer.IncLoadgenRequestErrors(spec.Type)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	observer.IncLoadgenRequestsSent(spec.Type, resp.StatusCode)
	logger.Log.Debug("Webhook delivered",
		zap.String("call_id", spec.CallID),
		zap.String("type", spec.Type),
		zap.Int("status", resp.StatusCode),
	)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
