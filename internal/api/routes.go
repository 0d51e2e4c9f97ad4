package api

import (
	"errors"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/api/common"
	"github.com/stacklok/price-sync-server/internal/status"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
	"github.com/stacklok/price-sync-server/internal/sync/coordinator"
	"github.com/stacklok/price-sync-server/internal/versions"
)

// Routes holds the handlers and their dependencies
type Routes struct {
	trigger Trigger
	runLog  RunLog
	cfg     *serverConfig
}

// webhook handles POST /webhook by requesting a full run
func (rr *Routes) webhook(w http.ResponseWriter, _ *http.Request) {
	rr.accept(w, pkgsync.NewFullRequest(status.TriggerWebhook))
}

// updateSKU handles POST /update-sku/{sku} by requesting a single-SKU run
func (rr *Routes) updateSKU(w http.ResponseWriter, r *http.Request) {
	sku, err := common.PathParam(r, "sku")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr.accept(w, pkgsync.NewSKURequest(sku, status.TriggerRequest))
}

// accept enqueues req and writes 202, 409 or 503
func (rr *Routes) accept(w http.ResponseWriter, req pkgsync.Request) {
	accepted, err := rr.trigger.TryEnqueue(req)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, coordinator.ErrRunInProgress):
			code = http.StatusConflict
		case errors.Is(err, coordinator.ErrCoordinatorStopped):
			code = http.StatusServiceUnavailable
		}
		rr.cfg.logger.Info("Run request rejected",
			zap.String("kind", string(req.Kind)),
			zap.String("trigger", string(req.Trigger)),
			zap.Error(err))
		common.WriteJSONResponse(w, RejectedResponse{Status: "rejected", Error: err.Error()}, code)
		return
	}

	common.WriteJSONResponse(w, AcceptedResponse{
		Status: "accepted",
		RunID:  accepted.ID,
		Kind:   accepted.Kind,
		SKU:    accepted.SKU,
	}, http.StatusAccepted)
}

// health handles GET /health. It only reads the run guard.
func (rr *Routes) health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: rr.cfg.now().UTC(),
		Version:   versions.GetVersionInfo().Version,
		RunActive: rr.trigger.Active(),
	}
	if rr.cfg.formulaFile != "" {
		_, err := os.Stat(rr.cfg.formulaFile)
		exists := err == nil
		resp.FormulaFileExists = &exists
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// logs handles GET /logs?limit=N
func (rr *Routes) logs(w http.ResponseWriter, r *http.Request) {
	if rr.runLog == nil {
		common.WriteErrorResponse(w, "run log is not configured", http.StatusNotFound)
		return
	}

	limit, err := common.QueryLimit(r, DefaultLogsLimit, MaxLogsLimit)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, total, err := rr.runLog.Recent(r.Context(), limit)
	if err != nil {
		rr.cfg.logger.Error("Failed to read run log", zap.Error(err))
		common.WriteErrorResponse(w, "failed to read run log", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []status.RunSummary{}
	}

	common.WriteJSONResponse(w, LogsResponse{
		Records: records,
		Count:   len(records),
		Total:   total,
		Limit:   limit,
	}, http.StatusOK)
}

// versionHandler handles GET /version
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
