package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/internal/events"
	"momentum-core/internal/strategy"
)

// Executor is what the dispatcher drives; *Engine implements it.
type Executor interface {
	Execute(ctx context.Context, sig *strategy.Signal) (*Result, error)
}

// Dispatcher runs executions off the scan goroutine on a bounded worker
// pool. At most one entry per symbol is in flight at a time.
type Dispatcher struct {
	exec       Executor
	bus        *events.Bus
	log        zerolog.Logger
	workerPool chan struct{}
	wg         sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]time.Time
	closed   bool
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(exec Executor, bus *events.Bus, workers int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		exec:       exec,
		bus:        bus,
		log:        log,
		workerPool: make(chan struct{}, workers),
		inFlight:   make(map[string]time.Time),
	}
}

// Submit schedules sig for execution and returns immediately. It returns
// false when the dispatcher is closed or the symbol already has an entry in
// flight.
func (d *Dispatcher) Submit(ctx context.Context, sig *strategy.Signal) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn().Str("symbol", sig.Symbol).Msg("dispatcher closed, candidate dropped")
		return false
	}
	if _, busy := d.inFlight[sig.Symbol]; busy {
		d.mu.Unlock()
		d.log.Debug().Str("symbol", sig.Symbol).Msg("entry already in flight")
		return false
	}
	d.inFlight[sig.Symbol] = time.Now()
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.workerPool <- struct{}{}
		defer func() { <-d.workerPool }()
		defer d.release(sig.Symbol)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Str("symbol", sig.Symbol).Msg("execution panicked")
				d.publish(events.EventExecutionFailed, events.ExecutionFailed{Symbol: sig.Symbol, Error: "execution panicked"})
			}
		}()

		start := time.Now()
		res, err := d.exec.Execute(ctx, sig)
		latency := time.Since(start)
		if err != nil {
			d.log.Error().Err(err).Str("symbol", sig.Symbol).Dur("latency", latency).Msg("execution failed")
			d.publish(events.EventExecutionFailed, events.ExecutionFailed{
				Symbol: sig.Symbol,
				Error:  err.Error(),
				Fatal:  errors.Is(err, ErrLiveNotArmed),
			})
			return
		}
		d.log.Info().
			Str("symbol", sig.Symbol).
			Str("order_id", res.OrderID).
			Str("mode", string(res.Mode)).
			Dur("latency", latency).
			Strs("warnings", res.Warnings).
			Msg("order placed")
		// handlers register the position before the in-flight flag clears
		d.publish(events.EventOrderPlaced, res)
	}()
	return true
}

func (d *Dispatcher) release(symbol string) {
	d.mu.Lock()
	delete(d.inFlight, symbol)
	d.mu.Unlock()
}

func (d *Dispatcher) publish(e events.Event, payload any) {
	if d.bus != nil {
		d.bus.Publish(e, payload)
	}
}

// InFlight reports whether symbol has a pending entry.
func (d *Dispatcher) InFlight(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[symbol]
	return ok
}

// PendingCount returns the number of entries not yet resolved.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Wait blocks until every submitted execution has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects further submissions and waits for pending ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
