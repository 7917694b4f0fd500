package handlers

import (
	"net/http"
	"time"

	"github.com/Dosada05/tournament-dispatch/services"
)

type TableHandler struct {
	tableService     services.TableService
	schedulerService services.SchedulerService
}

func NewTableHandler(ts services.TableService, ss services.SchedulerService) *TableHandler {
	return &TableHandler{tableService: ts, schedulerService: ss}
}

// ListHandler обрабатывает GET /tournaments/{tournamentID}/tables
func (h *TableHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tables, err := h.tableService.ListTables(r.Context(), p, tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tables": tables}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CreateHandler обрабатывает POST /tournaments/{tournamentID}/tables
func (h *TableHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input struct {
		Label string `json:"label"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	table, err := h.tableService.CreateTable(r.Context(), p, tournamentID, input.Label)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"table": table}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// BulkCreateHandler обрабатывает POST /tournaments/{tournamentID}/tables/bulk
func (h *TableHandler) BulkCreateHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input struct {
		Labels []string `json:"labels"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tables, err := h.tableService.BulkCreateTables(r.Context(), p, tournamentID, input.Labels)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"tables": tables}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// AvailabilityHandler обрабатывает GET /tables/{tableID}/availability
func (h *TableHandler) AvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	availability, err := h.tableService.CheckAvailability(r.Context(), p, tableID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"availability": availability}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// AssignHandler обрабатывает POST /tables/{tableID}/assign
func (h *TableHandler) AssignHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input struct {
		MatchID int `json:"match_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.MatchID <= 0 {
		errorResponse(w, r, http.StatusBadRequest, "match_id is required")
		return
	}

	assignment, err := h.schedulerService.AssignManually(r.Context(), p, input.MatchID, tableID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"assignment": assignment}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReleaseHandler обрабатывает POST /tables/{tableID}/release
func (h *TableHandler) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	table, err := h.tableService.ReleaseTable(r.Context(), p, tableID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"table": table}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// BlockHandler обрабатывает POST /tables/{tableID}/block
func (h *TableHandler) BlockHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input struct {
		Until  *time.Time `json:"until"`
		Reason string     `json:"reason"`
	}
	if err := readOptionalJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	table, err := h.tableService.BlockTable(r.Context(), p, tableID, input.Until, input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"table": table}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// HoldHandler обрабатывает POST /tables/{tableID}/hold
func (h *TableHandler) HoldHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input struct {
		Until time.Time `json:"until"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	table, err := h.tableService.HoldTable(r.Context(), p, tableID, input.Until)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"table": table}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UnblockHandler обрабатывает POST /tables/{tableID}/unblock
func (h *TableHandler) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	table, err := h.tableService.UnblockTable(r.Context(), p, tableID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"table": table}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// DeleteHandler обрабатывает DELETE /tables/{tableID}
func (h *TableHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	tableID, err := getIDFromURL(r, "tableID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.tableService.DeleteTable(r.Context(), p, tableID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
