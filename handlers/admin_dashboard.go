package handlers

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"toybox-api/models"
	"toybox-api/queue"
	"toybox-api/utils"
)

type DashboardStore interface {
	CountToys(ctx context.Context) (int, error)
	CountUsers(ctx context.Context) (int, error)
	CountOrders(ctx context.Context, status models.OrderStatus) (int, error)
	CountLowStock(ctx context.Context, threshold int) (int, error)
	Revenue(ctx context.Context) (float64, error)
}

// JobAdmin is the queue view the back office gets.
type JobAdmin interface {
	Stats(ctx context.Context) (*queue.Stats, error)
	FailedJobs(ctx context.Context) ([]queue.Job, error)
	RetryJob(ctx context.Context, jobID string) error
}

type AdminDashboardHandler struct {
	store         DashboardStore
	jobs          JobAdmin
	lowStockLevel int
}

func NewAdminDashboardHandler(store DashboardStore, jobs JobAdmin, lowStockLevel int) *AdminDashboardHandler {
	return &AdminDashboardHandler{store: store, jobs: jobs, lowStockLevel: lowStockLevel}
}

func (h *AdminDashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var summary models.DashboardSummary
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() (err error) {
		summary.Toys, err = h.store.CountToys(ctx)
		return err
	})
	g.Go(func() (err error) {
		summary.Users, err = h.store.CountUsers(ctx)
		return err
	})
	g.Go(func() (err error) {
		summary.Orders, err = h.store.CountOrders(ctx, "")
		return err
	})
	g.Go(func() (err error) {
		summary.PendingOrders, err = h.store.CountOrders(ctx, models.OrderStatusPending)
		return err
	})
	g.Go(func() (err error) {
		summary.LowStockToys, err = h.store.CountLowStock(ctx, h.lowStockLevel)
		return err
	})
	g.Go(func() (err error) {
		summary.Revenue, err = h.store.Revenue(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		sendStoreError(w, "dashboard summary", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Dashboard summary",
		Data:    summary,
	})
}

func (h *AdminDashboardHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		sendStoreError(w, "queue stats", err)
		return
	}
	failed, err := h.jobs.FailedJobs(r.Context())
	if err != nil {
		sendStoreError(w, "failed jobs", err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Queue status",
		Data: map[string]interface{}{
			"stats":  stats,
			"failed": failed,
		},
	})
}

func (h *AdminDashboardHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "job_id is required")
		return
	}

	if err := h.jobs.RetryJob(r.Context(), req.JobID); err != nil {
		utils.SendErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Job requeued",
	})
}
