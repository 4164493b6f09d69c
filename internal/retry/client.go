// Package retry persists backtest runs with bounded, jittered retries on
// transient storage errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/sirupsen/logrus"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	store  storage.Interface
	logger *logrus.Logger
	config Config
}

// NewClient wraps store. Out-of-range config values fall back to DefaultConfig.
func NewClient(store storage.Interface, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = sanitize(config[0])
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		store:  store,
		logger: logger,
		config: cfg,
	}
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// SaveRunWithRetry stores the run, retrying transient failures such as a
// locked SQLite database until MaxRetries or Timeout is exhausted.
func (c *Client) SaveRunWithRetry(ctx context.Context, run storage.Run, trades []models.TradeRecord) error {
	saveCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	log := c.logger.WithField("run_id", run.ID)
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if saveCtx.Err() != nil {
			return fmt.Errorf("save operation timed out after %v: %w", c.config.Timeout, saveCtx.Err())
		}

		log.Debugf("Save attempt %d/%d", attempt+1, c.config.MaxRetries+1)

		err := c.store.SaveRun(run, trades)
		if err == nil {
			log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"trades":  len(trades),
			}).Info("Run saved")
			return nil
		}

		lastErr = err
		log.WithError(err).Warnf("Save attempt %d failed", attempt+1)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		log.Infof("Transient error detected, retrying in %v", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		case <-saveCtx.Done():
			timer.Stop()
			return fmt.Errorf("save operation timed out during backoff: %w", saveCtx.Err())
		}
	}

	return fmt.Errorf("failed to save run %s after %d attempts: %w", run.ID, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrDuplicateRun) || errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"database is locked",
		"database table is locked",
		"busy",
		"timeout",
		"disk i/o error",
		"resource temporarily unavailable",
		"too many open files",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
