package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/finengine/internal/engine"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/user"
)

const dateLayout = "2006-01-02"

// errorBody is the JSON shape every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already flushed; nothing left to do but log upstream
		// via the response wrapper's status code.
		return
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func parseDate(r *http.Request, param string, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get(param)
	if v == "" {
		return fallback, nil
	}
	return time.Parse(dateLayout, v)
}

// handleTriggerCycle implements POST /cycles: runs one orchestrator cycle
// for the given owner and gating policy, then broadcasts the result on the
// live feed.
func (s *Server) handleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	policy := policyByName(r.URL.Query().Get("policy"))

	result := s.Orchestrator.Run(r.Context(), policy, ownerID)

	s.Hub.Broadcast(LiveEvent{Type: "cycle.completed", Timestamp: s.now(), Payload: result})
	writeJSON(w, http.StatusOK, result)
}

func policyByName(name string) engine.GatingPolicy {
	switch name {
	case "relaxed":
		return engine.RelaxedPolicy()
	case "none":
		return engine.NoGatingPolicy()
	default:
		return engine.CriticalOnlyPolicy()
	}
}

// handleDeliverRecommendation implements POST /cycles/{id}/deliver: dispatches
// one previously-created recommendation to its target audience.
func (s *Server) handleDeliverRecommendation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := s.Dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	s.Hub.Broadcast(LiveEvent{Type: "delivery.completed", Timestamp: s.now(), Payload: result})
	writeJSON(w, http.StatusOK, result)
}

// handleReport implements GET /reports/{role}: the role-scoped Public Query
// Surface summary, category breakdown, top transactions, and trends.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	role := user.Role(mux.Vars(r)["role"])
	callerID := r.URL.Query().Get("caller_id")
	ownerFilter := r.URL.Query().Get("owner_id")

	now := s.now()
	from, err := parseDate(r, "from", now.AddDate(0, 0, -30))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDate(r, "to", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.Query.Report(r.Context(), role, callerID, from, to, ownerFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleNinetyDayTrend implements GET /trends/90d.
func (s *Server) handleNinetyDayTrend(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	endDate, err := parseDate(r, "end_date", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.Trend.NinetyDayTrend(r.Context(), ownerID, endDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handlePeriodComparison implements GET /comparisons/period.
func (s *Server) handlePeriodComparison(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	month, err := parseDate(r, "month", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmp, err := s.Trend.ComparePeriods(r.Context(), ownerID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// handleTargetComparison implements GET /comparisons/target.
func (s *Server) handleTargetComparison(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	month, err := parseDate(r, "month", s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	targetRevenue, err := money.New(queryOrZero(r, "target_revenue"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	targetExpense, err := money.New(queryOrZero(r, "target_expense"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmp, err := s.Trend.CompareToTargets(r.Context(), ownerID, month, targetRevenue, targetExpense)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func queryOrZero(r *http.Request, param string) string {
	if v := r.URL.Query().Get(param); v != "" {
		return v
	}
	return "0"
}

// handleHealth implements GET /health, a liveness probe independent of any
// downstream dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}
