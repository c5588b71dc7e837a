package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/behzadon/flashpoll/internal/api"
	"github.com/behzadon/flashpoll/internal/logging"
	"github.com/behzadon/flashpoll/internal/sweeper"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the poll server",
	Long:  `Start the HTTP API together with the background sweeper of expired polls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		zapLogger, err := logging.New(cfg.Server.Env)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		if cfg.Server.Env != "development" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var cleanup closers
		defer cleanup.closeAll()

		clk := clock.New()
		svc, redisClient, err := buildService(ctx, cfg, clk, logger, &cleanup)
		if err != nil {
			return err
		}

		var rateLimiter *api.RateLimiter
		if cfg.RateLimit.Enabled {
			rateLimiter = api.NewRateLimiter(redisClient, clk, api.RateLimitConfig{
				RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
				Window:            cfg.RateLimit.Window,
				Burst:             cfg.RateLimit.Burst,
				GlobalRPS:         cfg.RateLimit.GlobalRPS,
				GlobalBurst:       cfg.RateLimit.GlobalBurst,
			}, zapLogger)
		}

		handler := api.NewHandler(svc, rateLimiter, zapLogger)
		engine := api.NewRouter(handler, logger.GinLogger(), cfg.Server.CORSOrigins)

		var wg sync.WaitGroup
		if cfg.Sweeper.Enabled {
			s := sweeper.New(svc, clk, cfg.Sweeper.Interval, zapLogger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Run(ctx)
			}()
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			logger.Info("Starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("storage", cfg.Storage.Driver),
				zap.String("events", cfg.Events.Driver),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		select {
		case err := <-serverErr:
			if err != nil {
				stop()
				wg.Wait()
				return fmt.Errorf("listen: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("Shutting down server...")
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", err)
			return fmt.Errorf("server shutdown: %w", err)
		}
		wg.Wait()

		logger.Info("Server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
