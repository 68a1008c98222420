package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"outreach/internal/awsutil"
	"outreach/internal/config"
	"outreach/internal/dispatcher"
	"outreach/internal/domain"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	"outreach/internal/observability"
	sqsqueue "outreach/internal/queue/sqs"
	"outreach/internal/store/pg"
	"outreach/internal/transport"
	"outreach/internal/transport/sendgrid"
	"outreach/internal/transport/social"
	"outreach/internal/transport/twilio"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})
}

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("dispatcher db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Error("dispatcher sqs client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()

	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if _, err := sqsClient.GetQueueAttributes(startupCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &cfg.SQSQueueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	}); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	healthMux := httpserver.New().Mux
	healthMux.HandleFunc("/healthz", httpserver.Healthz)
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
		func(c context.Context) error {
			_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.SQSQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		},
	))
	healthMux.Handle("/metrics", promhttp.Handler())

	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(healthMux),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	httpClient := &http.Client{Timeout: 8 * time.Second}

	sg := &sendgrid.Client{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFrom,
		BaseURL:   cfg.SendGridBaseURL,
		HTTP:      httpClient,
	}
	tw := &twilio.Client{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioBaseURL,
		HTTP:       httpClient,
	}
	soc := &social.Client{
		APIToken: cfg.SocialAPIToken,
		BaseURL:  cfg.SocialBaseURL,
		HTTP:     httpClient,
	}

	senders := map[domain.Channel]transport.Sender{
		domain.ChannelEmail:     sg,
		domain.ChannelWhatsApp:  tw,
		domain.ChannelInstagram: soc,
		domain.ChannelFacebook:  soc,
		domain.ChannelLinkedIn:  soc,
		domain.ChannelTwitter:   soc,
		domain.ChannelChat:      soc,
	}
	breakers := map[string]*gobreaker.CircuitBreaker{
		sg.Provider():  newBreaker(sg.Provider()),
		tw.Provider():  newBreaker(tw.Provider()),
		soc.Provider(): newBreaker(soc.Provider()),
	}

	processor := &dispatcher.Processor{
		Store:    st,
		Senders:  senders,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.ProviderRPSPerPod), cfg.ProviderBurst),
		Breakers: breakers,
	}

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher starting poll", "queue_url", cfg.SQSQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, job sqsqueue.DispatchJob) (err error) {
			start := time.Now()
			defer func() {
				if err != nil && !errors.Is(err, dispatcher.ErrNotDue) {
					slog.Info("dispatch job finish",
						"message_id", job.MessageID,
						"channel", job.Channel,
						"status", "error",
						"duration", time.Since(start),
						"err", err,
					)
				} else if err == nil {
					slog.Info("dispatch job finish",
						"message_id", job.MessageID,
						"channel", job.Channel,
						"status", "ok",
						"duration", time.Since(start),
					)
				}
			}()
			err = processor.Process(ctx, job)
			return err
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("dispatcher poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("dispatcher shutdown timeout waiting for poll loop")
	}
}
