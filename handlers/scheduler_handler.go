package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-dispatch/models"
	"github.com/Dosada05/tournament-dispatch/services"
)

type SchedulerHandler struct {
	schedulerService  services.SchedulerService
	queueService      services.QueueService
	tournamentService services.TournamentService
}

func NewSchedulerHandler(ss services.SchedulerService, qs services.QueueService, ts services.TournamentService) *SchedulerHandler {
	return &SchedulerHandler{schedulerService: ss, queueService: qs, tournamentService: ts}
}

// authorizedTournament checks ownership before a tournament-scoped scheduler call.
func (h *SchedulerHandler) authorizedTournament(w http.ResponseWriter, r *http.Request) (int, bool) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return 0, false
	}
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, false
	}
	if _, err := h.tournamentService.GetTournament(r.Context(), p, tournamentID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return 0, false
	}
	return tournamentID, true
}

// QueueHandler обрабатывает GET /tournaments/{tournamentID}/queue
func (h *SchedulerHandler) QueueHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	status, err := h.queueService.GetQueueStatus(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"queue": status}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ETAsHandler обрабатывает GET /tournaments/{tournamentID}/etas
func (h *SchedulerHandler) ETAsHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	etas, err := h.queueService.CalculateMatchETAs(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"etas": etas}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// StartHandler обрабатывает POST /tournaments/{tournamentID}/scheduler/start
// Тело необязательно; пропущенные поля берутся по умолчанию.
func (h *SchedulerHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	var cfg *models.SchedulingConfig
	if r.ContentLength != 0 {
		cfg = &models.SchedulingConfig{}
		if err := readJSON(w, r, cfg); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	if err := h.schedulerService.StartSchedulingLoop(r.Context(), tournamentID, cfg); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	stats, _ := h.schedulerService.GetSchedulerStats(tournamentID)
	if err := writeJSON(w, http.StatusAccepted, jsonResponse{"scheduler": stats}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// StopHandler обрабатывает POST /tournaments/{tournamentID}/scheduler/stop
func (h *SchedulerHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	if err := h.schedulerService.StopSchedulingLoop(r.Context(), tournamentID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	stats, _ := h.schedulerService.GetSchedulerStats(tournamentID)
	if err := writeJSON(w, http.StatusOK, jsonResponse{"scheduler": stats}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// TriggerHandler обрабатывает POST /tournaments/{tournamentID}/scheduler/trigger.
// Ручной запуск назначает столы даже при auto_assign=false: флаг управляет только
// циклами по таймеру. Без назначений ответ содержит свежую очередь и ETA.
func (h *SchedulerHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	result, err := h.schedulerService.TriggerSchedulingCycle(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"cycle": result}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// StatsHandler обрабатывает GET /tournaments/{tournamentID}/scheduler/stats
func (h *SchedulerHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, ok := h.authorizedTournament(w, r)
	if !ok {
		return
	}
	stats, found := h.schedulerService.GetSchedulerStats(tournamentID)
	if !found {
		notFoundResponse(w, r)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"scheduler": stats}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ActiveHandler обрабатывает GET /schedulers (только admin)
func (h *SchedulerHandler) ActiveHandler(w http.ResponseWriter, r *http.Request) {
	active := h.schedulerService.GetActiveSchedulers()
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament_ids": active}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
