package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"toybox-api/database"
	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/services/email"
	"toybox-api/services/payment/razorpay"
	"toybox-api/utils"
)

var errNotSettled = errors.New("payment not captured yet")

type Queue interface {
	Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	CompleteJob(ctx context.Context, job *queue.Job) error
	FailJob(ctx context.Context, job *queue.Job, err error) error
	ProcessDelayedJobs(ctx context.Context) (int, error)
}

// Store is the persistence the background jobs read and settle orders through.
type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	SettleOrderPayment(ctx context.Context, gatewayOrderID, paymentID, signature string) (*models.Order, bool, error)
	LowStockToys(ctx context.Context, threshold int) ([]models.Toy, error)
	PendingOrdersOlderThan(ctx context.Context, age time.Duration) ([]models.Order, error)
	ExpireUnpaidOrder(ctx context.Context, gatewayOrderID string) (bool, error)
}

type PaymentChecker interface {
	SettledPayment(ctx context.Context, gatewayOrderID string) (*razorpay.Payment, error)
}

type Options struct {
	AlertEmail    string
	LowStockLevel int
	PollInterval  time.Duration
	// SweepInterval is how often pending orders older than StaleAfter are queued for reconcile.
	SweepInterval time.Duration
	StaleAfter    time.Duration
	// ExpireAfter is how long an unpaid order may wait before reconcile cancels it.
	ExpireAfter time.Duration
}

// Worker runs background jobs from the queue on a fixed pool of goroutines.
type Worker struct {
	queue    Queue
	store    Store
	payments PaymentChecker
	mailer   email.EmailSender
	opts     Options

	shutdown  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

func NewWorker(q Queue, store Store, payments PaymentChecker, mailer email.EmailSender, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = 24 * time.Hour
	}
	return &Worker{
		queue:    q,
		store:    store,
		payments: payments,
		mailer:   mailer,
		opts:     opts,
		shutdown: make(chan struct{}),
	}
}

// Start launches concurrency job loops and the delayed job promoter.
func (w *Worker) Start(concurrency int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return
	}
	w.isRunning = true

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.processJobs(i)
	}

	w.wg.Add(1)
	go w.promoteDelayed()

	log.Printf("Started %d worker goroutines", concurrency)
}

// Stop signals the loops and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	close(w.shutdown)
	w.mu.Unlock()

	log.Println("Stopping worker...")
	w.wg.Wait()
	log.Println("Worker stopped")
}

func (w *Worker) promoteDelayed() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(w.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := w.queue.ProcessDelayedJobs(ctx); err != nil {
				log.Printf("Error promoting delayed jobs: %v", err)
			}
			cancel()
		case <-sweep.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := w.SweepStalePending(ctx); err != nil {
				log.Printf("Error sweeping stale orders: %v", err)
			}
			cancel()
		}
	}
}

// SweepStalePending queues a reconcile job for every order still pending after StaleAfter.
// It picks up orders whose scheduled reconcile was lost, e.g. across a Redis flush.
func (w *Worker) SweepStalePending(ctx context.Context) (int, error) {
	orders, err := w.store.PendingOrdersOlderThan(ctx, w.opts.StaleAfter)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, order := range orders {
		if order.GatewayOrderID == "" {
			continue
		}
		if err := w.queue.Enqueue(ctx, queue.JobTypePaymentReconcile,
			map[string]interface{}{"gateway_order_id": order.GatewayOrderID}); err != nil {
			return queued, fmt.Errorf("failed to enqueue reconcile for order %s: %w", order.ID, err)
		}
		queued++
	}
	if queued > 0 {
		log.Printf("Queued reconcile for %d stale pending orders", queued)
	}
	return queued, nil
}

func (w *Worker) processJobs(workerID int) {
	defer w.wg.Done()
	log.Printf("Worker %d starting", workerID)

	for {
		select {
		case <-w.shutdown:
			log.Printf("Worker %d shutting down", workerID)
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		job, err := w.queue.Dequeue(ctx, 5*time.Second)
		cancel()

		if err != nil {
			log.Printf("Worker %d: Error dequeuing job: %v", workerID, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		log.Printf("Worker %d processing job %s of type %s", workerID, job.ID, job.Type)
		w.Handle(job)
	}
}

// Handle runs one job and records the outcome on the queue.
func (w *Worker) Handle(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	jobErr := w.processJob(ctx, job)
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if jobErr != nil {
		log.Printf("Error processing job %s: %v", job.ID, jobErr)
		if err := w.queue.FailJob(ctx, job, jobErr); err != nil {
			log.Printf("Error marking job %s as failed: %v", job.ID, err)
		}
		return
	}

	if err := w.queue.CompleteJob(ctx, job); err != nil {
		log.Printf("Error marking job %s as complete: %v", job.ID, err)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeOrderConfirmation:
		return w.processOrderConfirmation(ctx, job)
	case queue.JobTypePaymentReconcile:
		return w.processPaymentReconcile(ctx, job)
	case queue.JobTypeLowStockAlert:
		return w.processLowStockAlert(ctx)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *Worker) processOrderConfirmation(ctx context.Context, job *queue.Job) error {
	orderID := job.String("order_id")
	if orderID == "" {
		return fmt.Errorf("invalid order_id in job data")
	}

	order, err := w.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	user, err := w.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", order.UserID, err)
	}

	if err := w.mailer.SendOrderConfirmation(user.Email, user.Name, order); err != nil {
		return fmt.Errorf("failed to send confirmation for order %s: %w", orderID, err)
	}
	log.Printf("Sent order confirmation for %s to %s", orderID, user.Email)
	return nil
}

// processPaymentReconcile settles a pending order from the gateway's record of it. It is
// the fallback for shoppers who paid but never came back through the verify call. An
// order with no captured payment after ExpireAfter is cancelled.
func (w *Worker) processPaymentReconcile(ctx context.Context, job *queue.Job) error {
	gatewayOrderID := job.String("gateway_order_id")
	if gatewayOrderID == "" {
		return fmt.Errorf("invalid gateway_order_id in job data")
	}

	order, err := w.store.GetOrderByGatewayID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Printf("Reconcile: no order for gateway order %s, dropping job", gatewayOrderID)
			return nil
		}
		return err
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusPaymentFailed {
		return nil
	}

	payment, err := w.payments.SettledPayment(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if payment == nil {
		if time.Since(order.CreatedAt) < w.opts.ExpireAfter {
			return errNotSettled
		}
		cancelled, err := w.store.ExpireUnpaidOrder(ctx, gatewayOrderID)
		if err != nil {
			return fmt.Errorf("failed to expire order %s: %w", order.ID, err)
		}
		if cancelled {
			log.Printf("Reconcile: order %s unpaid since %s, cancelled", order.ID, order.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}
	if payment.Amount != 0 && payment.Amount != utils.ToMinorUnits(order.Amount) {
		return fmt.Errorf("captured amount %.2f does not match order %s total %.2f",
			utils.FromMinorUnits(payment.Amount), order.ID, order.Amount)
	}

	settledOrder, settled, err := w.store.SettleOrderPayment(ctx, gatewayOrderID, payment.ID, "")
	if err != nil {
		return fmt.Errorf("failed to settle order %s: %w", order.ID, err)
	}
	if settled {
		log.Printf("Reconcile: order %s settled from gateway payment %s", settledOrder.ID, payment.ID)
		if err := w.queue.Enqueue(ctx, queue.JobTypeOrderConfirmation, map[string]interface{}{"order_id": settledOrder.ID}); err != nil {
			log.Printf("Reconcile: failed to enqueue confirmation for %s: %v", settledOrder.ID, err)
		}
		if err := w.queue.Enqueue(ctx, queue.JobTypeLowStockAlert, nil); err != nil {
			log.Printf("Reconcile: failed to enqueue low stock check: %v", err)
		}
	}
	return nil
}

func (w *Worker) processLowStockAlert(ctx context.Context) error {
	if w.opts.AlertEmail == "" {
		return nil
	}

	toys, err := w.store.LowStockToys(ctx, w.opts.LowStockLevel)
	if err != nil {
		return err
	}
	if len(toys) == 0 {
		return nil
	}
	return w.mailer.SendLowStockAlert(w.opts.AlertEmail, toys)
}
