package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrWatchTimeout is reported when a watch gives up without a definitive receipt.
var ErrWatchTimeout = errors.New("timed out waiting for chain confirmation")

// SettleFunc is invoked by the Watcher once the chain gives a definitive
// answer for a payment's transaction.
type SettleFunc func(ctx context.Context, paymentID uuid.UUID, txHash string, success bool) error

// Watcher polls the chain for pending crypto payments in the background. Each
// watch is bounded by a timeout and is cancelled when the Watcher is closed;
// a watch that times out leaves the payment pending.
type Watcher struct {
	chain    ChainRPC
	settle   SettleFunc
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewWatcher(chain ChainRPC, settle SettleFunc, logger *slog.Logger, interval, timeout time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		chain:    chain,
		settle:   settle,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Watch starts a background poll for txHash unless one is already running for
// the payment. It returns immediately.
func (w *Watcher) Watch(paymentID uuid.UUID, txHash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return false
	}
	if _, ok := w.running[paymentID]; ok {
		return false
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	w.running[paymentID] = cancel
	w.wg.Add(1)
	go w.poll(ctx, paymentID, txHash)
	return true
}

// Watching reports whether a poll is in flight for the payment.
func (w *Watcher) Watching(paymentID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[paymentID]
	return ok
}

func (w *Watcher) poll(ctx context.Context, paymentID uuid.UUID, txHash string) {
	defer w.wg.Done()
	defer w.done(paymentID)

	logger := w.logger.With(slog.String("payment_id", paymentID.String()), slog.String("tx_hash", txHash))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.chain.TransactionReceipt(ctx, txHash)
		switch {
		case err != nil:
			logger.Warn("chain receipt lookup failed", "error", err)
		case receipt.Confirmed || receipt.Reverted:
			// Settle with a fresh context: the watch deadline must not abort
			// a settlement that has already started.
			settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := w.settle(settleCtx, paymentID, txHash, receipt.Confirmed)
			cancel()
			if err != nil {
				logger.Error("failed to settle crypto payment", "error", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Warn("crypto confirmation watch expired; payment stays pending", "error", ErrWatchTimeout)
			}
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) done(paymentID uuid.UUID) {
	w.mu.Lock()
	if cancel, ok := w.running[paymentID]; ok {
		cancel()
		delete(w.running, paymentID)
	}
	w.mu.Unlock()
}

// Close cancels every outstanding watch and waits for them to exit.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()
	w.wg.Wait()
}
