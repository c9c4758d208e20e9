package session

import (
	"encoding/json"
	"net/http"
)

// DebugHandler предоставляет доступ к внутреннему состоянию сессий
type DebugHandler struct {
	Manager *Manager
}

func NewDebugHandler(m *Manager) *DebugHandler {
	return &DebugHandler{Manager: m}
}

// RegisterRoutes регистрирует debug-эндпоинты
func (h *DebugHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/sessions", h.handleSessions)
	mux.HandleFunc("/debug/telemetry", h.handleTelemetry)
}

// /debug/sessions - список соединений и статистика их циклов
func (h *DebugHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	opened, rejected := h.Manager.Totals()

	h.writeJSON(w, map[string]interface{}{
		"count":              h.Manager.Count(),
		"running_schedulers": h.Manager.RunningSchedulers(),
		"opened_total":       opened,
		"rejected_total":     rejected,
		"sessions":           h.Manager.Stats(),
	})
}

// /debug/telemetry?id=... - телеметрия одной сессии
func (h *DebugHandler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	conn, ok := h.Manager.Get(id)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	recorder := conn.Telemetry()
	if recorder == nil {
		http.Error(w, "Session is not active", http.StatusConflict)
		return
	}

	data, err := recorder.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.write(w, data)
}

func (h *DebugHandler) writeJSON(w http.ResponseWriter, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.write(w, body)
}

// write отдает готовое тело. Ответ уже начат, поэтому ошибку
// записи (обычно ушедший клиент) остается только залогировать.
func (h *DebugHandler) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		h.Manager.log.WithError(err).Warn("[Debug] Не удалось отправить ответ")
	}
}
