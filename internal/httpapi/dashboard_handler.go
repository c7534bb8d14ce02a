package httpapi

import (
	"net/http"
	"time"

	"keypool/internal/models"
	"keypool/internal/utils"
)

// dashboardRequest selects the day to report on; empty means today
type dashboardRequest struct {
	Date  string `json:"date"`
	Limit int    `json:"limit"`
}

func (d *Dependencies) dashboardWindow(w http.ResponseWriter, r *http.Request) (dashboardRequest, models.TimeWindow, bool) {
	var req dashboardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return req, models.TimeWindow{}, false
	}
	window, err := d.Stats.DayWindow(req.Date)
	if err != nil {
		utils.RespondWithError(w, err)
		return req, models.TimeWindow{}, false
	}
	return req, window, true
}

func (d *Dependencies) handleOverview(w http.ResponseWriter, r *http.Request) {
	_, window, ok := d.dashboardWindow(w, r)
	if !ok {
		return
	}
	overview, err := d.Stats.Overview(r.Context(), window)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", overview)
}

func (d *Dependencies) handleHourlyTrend(w http.ResponseWriter, r *http.Request) {
	trend, err := d.Stats.HourlyTrend(r.Context(), time.Now())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", trend)
}

func (d *Dependencies) handleProviderDistribution(w http.ResponseWriter, r *http.Request) {
	_, window, ok := d.dashboardWindow(w, r)
	if !ok {
		return
	}
	dist, err := d.Stats.ProviderDistribution(r.Context(), window)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", nonNil(dist))
}

func (d *Dependencies) handleModelDistribution(w http.ResponseWriter, r *http.Request) {
	req, window, ok := d.dashboardWindow(w, r)
	if !ok {
		return
	}
	dist, err := d.Stats.ModelDistribution(r.Context(), window, req.Limit)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", nonNil(dist))
}

func (d *Dependencies) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	_, window, ok := d.dashboardWindow(w, r)
	if !ok {
		return
	}
	errStats, err := d.Stats.ErrorDistribution(r.Context(), window)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", models.ErrorStats{
		TotalErrors:       errStats.TotalErrors,
		ErrorDistribution: nonNil(errStats.ErrorDistribution),
	})
}

func (d *Dependencies) handleTriggerStats(w http.ResponseWriter, r *http.Request) {
	summary, err := d.Stats.Trigger(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	msg := "stats refreshed"
	if summary.Skipped {
		msg = "stats pass already running elsewhere"
	}
	utils.RespondOK(w, msg, summary)
}

// snapshotRequest selects stored snapshot rows; a missing hour selects the whole day
type snapshotRequest struct {
	Date string `json:"date"`
	Hour *int   `json:"hour"`
}

func (d *Dependencies) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	hour := models.FullDayHour
	if req.Hour != nil {
		hour = *req.Hour
	}

	rows, err := d.Stats.Snapshots(r.Context(), req.Date, hour)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", nonNil(rows))
}

func (d *Dependencies) handleKeyBalanceStats(w http.ResponseWriter, r *http.Request) {
	balance, err := d.Keys.BalanceStats(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", balance)
}

func (d *Dependencies) handleUpdateKeysBalance(w http.ResponseWriter, r *http.Request) {
	result, err := d.Checker.UpdateAllBalances(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, batchMessage("balance update", result.UpdatedKeys, result.FailedKeys), result)
}
