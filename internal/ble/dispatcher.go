package ble

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chaz8081/rz67-trigger/internal/ble/protocol"
)

// Writer is the write capability the dispatcher needs. *Manager implements it.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// DispatcherOptions configures command pacing and timeouts.
type DispatcherOptions struct {
	Rate         float64       // max writes per second, <= 0 is unlimited
	Burst        int           // writes allowed back to back
	WriteTimeout time.Duration // per write
	Logger       logrus.FieldLogger
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		Rate:         20,
		Burst:        4,
		WriteTimeout: 5 * time.Second,
	}
}

// Dispatcher encodes signals and writes them in the background. A failed
// write is logged and dropped; the protocol has no acknowledgement so the
// caller could not act on it anyway.
//
// Concurrent sends are not ordered with respect to each other.
type Dispatcher struct {
	w       Writer
	opts    DispatcherOptions
	log     logrus.FieldLogger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher writing through w.
func NewDispatcher(w Writer, opts DispatcherOptions) *Dispatcher {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		w:       w,
		opts:    opts,
		log:     opts.Logger.WithField("component", "dispatch"),
		limiter: rate.NewLimiter(limit, opts.Burst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Send writes the signal asynchronously. The returned channel is closed
// once the write has finished, successfully or not; callers may ignore it.
func (d *Dispatcher) Send(kind protocol.Kind, on bool) <-chan struct{} {
	done := make(chan struct{})
	sig := protocol.Signal{Kind: kind, On: on}
	log := d.log.WithField("signal", sig)

	payload, err := sig.Marshal()
	if err != nil {
		log.WithError(err).Error("failed to encode signal")
		close(done)
		return done
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)

		if err := d.limiter.Wait(d.ctx); err != nil {
			log.WithError(err).Warn("signal dropped")
			return
		}

		ctx, cancel := context.WithTimeout(d.ctx, d.opts.WriteTimeout)
		defer cancel()

		log.Info("sending signal")
		if err := d.w.Write(ctx, payload); err != nil {
			log.WithError(err).Warn("failed to send signal")
		}
	}()
	return done
}

// Drain waits for every send issued so far to finish. It returns false if
// ctx ends first; the sends keep running in that case.
func (d *Dispatcher) Drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close abandons pending writes and waits for in-flight ones to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
