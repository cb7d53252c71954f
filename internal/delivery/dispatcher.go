package delivery

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/metrics"
)

// RecoveredReason is recorded on records found IN_FLIGHT at startup. Their send may
// have happened, so they are closed as failed rather than sent twice.
const RecoveredReason = "delivery outcome unknown after restart"

// Policy is the hot-swappable retry policy.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffConfig
	SendTimeout time.Duration
}

// DefaultPolicy returns three attempts, DefaultBackoff and a 5s send timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     DefaultBackoff(),
		SendTimeout: 5 * time.Second,
	}
}

// Config sizes the dispatcher.
type Config struct {
	Workers    int
	QueueDepth int
	Policy     Policy
}

// task identifies one record to deliver.
type task struct {
	campaignID string
	customerID string
}

// Dispatcher owns the delivery queue, the worker set and the retry loop.
type Dispatcher struct {
	store  Store
	sender Sender
	tally  Tally
	logger *slog.Logger

	policy atomic.Pointer[Policy]
	pool   *workerPool[task]

	retries chan retryItem
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closed  bool
	feeding map[string]struct{}
	wg      sync.WaitGroup // feeders + retry loop

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// New creates a Dispatcher and starts its workers and retry loop. They stop when ctx
// is cancelled or Shutdown is called.
func New(ctx context.Context, store Store, sender Sender, tally Tally, conf Config, logger *slog.Logger) *Dispatcher {
	if conf.Workers <= 0 {
		conf.Workers = 8
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 1000
	}
	if conf.Policy.MaxAttempts <= 0 {
		conf.Policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if conf.Policy.SendTimeout <= 0 {
		conf.Policy.SendTimeout = DefaultPolicy().SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		store:   store,
		sender:  sender,
		tally:   tally,
		logger:  logger,
		retries: make(chan retryItem),
		ctx:     ctx,
		cancel:  cancel,
		feeding: make(map[string]struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	p := conf.Policy
	d.policy.Store(&p)
	d.pool = newWorkerPool[task](ctx, conf.Workers, conf.QueueDepth, d.deliver)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.retryLoop()
	}()
	return d
}

// SetPolicy atomically replaces the retry policy (used on config hot-reload).
// Records already waiting for a retry keep their computed due time.
func (d *Dispatcher) SetPolicy(p Policy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = DefaultPolicy().SendTimeout
	}
	d.policy.Store(&p)
}

// Policy returns the retry policy currently in force.
func (d *Dispatcher) Policy() Policy {
	return *d.policy.Load()
}

// Saturated reports whether the queue has no free slot. Launches are refused with
// apperr.ErrBusy while it does.
func (d *Dispatcher) Saturated() bool {
	return d.pool.QueueLen() >= d.pool.QueueCap()
}

// QueueUtilization returns queue used / capacity (0–1).
func (d *Dispatcher) QueueUtilization() float64 {
	if d.pool.QueueCap() == 0 {
		return 0
	}
	u := float64(d.pool.QueueLen()) / float64(d.pool.QueueCap())
	metrics.QueueUtilization.Set(u)
	return u
}

// Dispatch starts feeding the campaign's PENDING records into the queue. The feeder
// blocks while the queue is full. A campaign already being fed is ignored.
func (d *Dispatcher) Dispatch(campaignID string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if _, busy := d.feeding[campaignID]; busy {
		d.mu.Unlock()
		return
	}
	d.feeding[campaignID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.feeding, campaignID)
			d.mu.Unlock()
		}()
		d.feed(campaignID)
	}()
}

func (d *Dispatcher) feed(campaignID string) {
	recs, err := d.store.PendingRecords(d.ctx, campaignID)
	if err != nil {
		d.logger.Error("load pending records failed", "campaign_id", campaignID, "err", err)
		return
	}
	d.logger.Info("campaign dispatch started", "campaign_id", campaignID, "pending", len(recs))

	now := d.now()
	for _, r := range recs {
		t := task{campaignID: r.CampaignID, customerID: r.CustomerID}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			d.scheduleRetry(t, *r.NextAttemptAt)
			continue
		}
		if !d.pool.SubmitWait(d.ctx, t) {
			return
		}
		metrics.DeliveriesEnqueued.Inc()
	}
	if len(recs) == 0 {
		d.finish(context.WithoutCancel(d.ctx), campaignID)
	}
}

// deliver is the worker body: claim, send, persist the outcome, then count it.
//
// Once a record is claimed the send is detached from ctx and bounded only by the
// send timeout, so Shutdown never leaves a send with an unknown outcome behind.
func (d *Dispatcher) deliver(ctx context.Context, t task) {
	if ctx.Err() != nil {
		return
	}
	policy := d.policy.Load()
	persistCtx := context.WithoutCancel(ctx)

	rec, ok, err := d.store.ClaimRecord(persistCtx, t.campaignID, t.customerID, d.now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Error("claim failed", "campaign_id", t.campaignID, "customer_id", t.customerID, "err", err)
		d.scheduleRetry(t, d.now().Add(policy.Backoff.BaseDelay))
		return
	}
	if !ok {
		return
	}

	sendCtx, cancel := context.WithTimeout(persistCtx, policy.SendTimeout)
	start := time.Now()
	sendErr := d.sender.Send(sendCtx, rec.CustomerID, rec.Message)
	cancel()
	metrics.SendDuration.Observe(float64(time.Since(start).Milliseconds()))

	if sendErr == nil {
		metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		d.complete(persistCtx, rec)
		return
	}

	result := "error"
	if errors.Is(sendErr, context.DeadlineExceeded) {
		result = "timeout"
	}
	metrics.DeliveryAttempts.WithLabelValues(result).Inc()
	d.fail(persistCtx, rec, fmt.Errorf("%w: %w", apperr.ErrDeliveryFailure, sendErr), policy)
}

func (d *Dispatcher) complete(ctx context.Context, rec Record) {
	done, err := d.store.CompleteRecord(ctx, rec.CampaignID, rec.CustomerID, d.now())
	if err != nil {
		// The record stays IN_FLIGHT; recovery closes it as failed without resending.
		d.logger.Error("persist delivered failed", "campaign_id", rec.CampaignID, "customer_id", rec.CustomerID, "err", err)
		return
	}
	if !done {
		return
	}
	metrics.DeliveriesTerminal.WithLabelValues(string(StateDelivered)).Inc()
	if err := d.tally.AddSent(ctx, 1); err != nil {
		d.logger.Warn("increment messagesSent failed", "campaign_id", rec.CampaignID, "err", err)
	}
	d.finish(ctx, rec.CampaignID)
}

func (d *Dispatcher) fail(ctx context.Context, rec Record, cause error, policy *Policy) {
	attempts := rec.Attempts + 1
	now := d.now()
	t := task{campaignID: rec.CampaignID, customerID: rec.CustomerID}

	if attempts < policy.MaxAttempts {
		d.rngMu.Lock()
		next := NextRetryAt(now, attempts, policy.Backoff, d.rng)
		d.rngMu.Unlock()
		if err := d.store.RetryRecord(ctx, rec.CampaignID, rec.CustomerID, attempts, cause.Error(), next, now); err != nil {
			d.logger.Error("persist retry failed", "campaign_id", rec.CampaignID, "customer_id", rec.CustomerID, "err", err)
			return
		}
		d.logger.Debug("delivery attempt failed, retrying",
			"campaign_id", rec.CampaignID, "customer_id", rec.CustomerID,
			"attempts", attempts, "next_attempt_at", next, "err", cause)
		d.scheduleRetry(t, next)
		return
	}

	failed, err := d.store.FailRecord(ctx, rec.CampaignID, rec.CustomerID, attempts, cause.Error(), now)
	if err != nil {
		d.logger.Error("persist failed state failed", "campaign_id", rec.CampaignID, "customer_id", rec.CustomerID, "err", err)
		return
	}
	if !failed {
		return
	}
	d.logger.Warn("delivery failed permanently",
		"campaign_id", rec.CampaignID, "customer_id", rec.CustomerID, "attempts", attempts, "err", cause)
	metrics.DeliveriesTerminal.WithLabelValues(string(StateFailed)).Inc()
	if err := d.tally.AddFailed(ctx, 1); err != nil {
		d.logger.Warn("increment messagesFailed failed", "campaign_id", rec.CampaignID, "err", err)
	}
	d.finish(ctx, rec.CampaignID)
}

func (d *Dispatcher) finish(ctx context.Context, campaignID string) {
	status, finished, err := d.store.FinishCampaign(ctx, campaignID, d.now())
	if err != nil {
		d.logger.Error("finish campaign failed", "campaign_id", campaignID, "err", err)
		return
	}
	if finished {
		metrics.CampaignsCompleted.WithLabelValues(status).Inc()
		d.logger.Info("campaign finished", "campaign_id", campaignID, "status", status)
	}
}

// Reconcile closes state left by a previous process without queueing any work:
// IN_FLIGHT records are failed with RecoveredReason and SCHEDULED campaigns move to
// SENDING. Dashboard totals rebuilt after Reconcile and before Resume match the records.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	closed, err := d.store.FailInFlight(ctx, RecoveredReason, d.now())
	if err != nil {
		return fmt.Errorf("recover in-flight records: %w", err)
	}
	resumed, err := d.store.ResumeScheduled(ctx)
	if err != nil {
		return fmt.Errorf("resume scheduled campaigns: %w", err)
	}
	d.logger.Info("dispatch reconciled", "in_flight_closed", closed, "scheduled_resumed", resumed)
	return nil
}

// Resume dispatches every SENDING campaign. Only PENDING records are ever re-sent.
func (d *Dispatcher) Resume(ctx context.Context) error {
	ids, err := d.store.SendingCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("list sending campaigns: %w", err)
	}
	d.logger.Info("dispatch resumed", "campaigns", len(ids))
	for _, id := range ids {
		d.Dispatch(id)
	}
	return nil
}

// Recover runs Reconcile then Resume.
func (d *Dispatcher) Recover(ctx context.Context) error {
	if err := d.Reconcile(ctx); err != nil {
		return err
	}
	return d.Resume(ctx)
}

// Shutdown stops feeders, the retry loop and the workers. It waits for sends already
// under way to finish and persist their outcome. Records not yet claimed stay PENDING
// and are picked up by Recover on the next start.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
	d.pool.Wait()
}

// -----------------------------------------------------------------------
// Retry loop
// -----------------------------------------------------------------------

type retryItem struct {
	task task
	due  time.Time
}

type retryHeap []retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(retryItem)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (d *Dispatcher) scheduleRetry(t task, due time.Time) {
	select {
	case d.retries <- retryItem{task: t, due: due}:
	case <-d.ctx.Done():
	}
}

// retryLoop holds backed-off tasks and re-enqueues each when due. It never blocks
// outside its select, so workers handing it retries cannot deadlock against a full queue.
func (d *Dispatcher) retryLoop() {
	var h retryHeap
	for {
		var (
			timer  <-chan time.Time
			submit chan<- task
			next   task
		)
		if h.Len() > 0 {
			if wait := h[0].due.Sub(d.now()); wait > 0 {
				timer = time.After(wait)
			} else {
				submit = d.pool.queue
				next = h[0].task
			}
		}

		select {
		case <-d.ctx.Done():
			return
		case it := <-d.retries:
			heap.Push(&h, it)
		case <-timer:
		case submit <- next:
			heap.Pop(&h)
			metrics.DeliveriesEnqueued.Inc()
		}
	}
}
