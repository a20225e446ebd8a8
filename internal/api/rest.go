package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/shebangremote/shebang-remote/internal/events"
	"github.com/shebangremote/shebang-remote/internal/lifecycle"
	"github.com/shebangremote/shebang-remote/internal/models"
	"github.com/shebangremote/shebang-remote/internal/safety"
	"github.com/shebangremote/shebang-remote/internal/storage"
)

type Handler struct {
	mgr       *lifecycle.Manager
	publisher *events.Publisher
	log       *zap.SugaredLogger
}

// NewHTTPHandler wires the JSON API. The publisher is optional; when nil no
// events are emitted.
func NewHTTPHandler(mgr *lifecycle.Manager, publisher *events.Publisher, log *zap.SugaredLogger) http.Handler {
	h := &Handler{mgr: mgr, publisher: publisher, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /machines", h.handleListMachines)
	mux.HandleFunc("POST /register_machine", h.handleRegisterMachine)
	mux.HandleFunc("POST /scripts", h.handleCreateScript)
	mux.HandleFunc("POST /execute", h.handleExecute)
	mux.HandleFunc("GET /commands/{machine_id}", h.handlePendingCommands)
	mux.HandleFunc("POST /commands/{command_id}/result", h.handleCommandResult)
	mux.HandleFunc("GET /command_statuses", h.handleCommandStatuses)

	return traced(mux)
}

// traced opens a span per request on the global tracer provider. A no-op
// unless cmd/server installed a real provider.
func traced(next http.Handler) http.Handler {
	tracer := otel.Tracer("shebang-remote/api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ---------- response shapes ----------

type scriptResponse struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type commandResponse struct {
	ID         uint64                `json:"id"`
	MachineID  string                `json:"machine_id"`
	ScriptName string                `json:"script_name"`
	Status     models.CommandStatus  `json:"status"`
	Script     *scriptResponse       `json:"script,omitempty"`
	Output     *models.CommandOutput `json:"output"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func newCommandResponse(cmd *models.Command, script *models.Script) commandResponse {
	status, _ := models.StatusByInternal(cmd.Status)
	resp := commandResponse{
		ID:         cmd.ID,
		MachineID:  cmd.MachineID,
		ScriptName: cmd.ScriptName,
		Status:     status,
		Output:     cmd.Output,
		CreatedAt:  cmd.CreatedAt,
		UpdatedAt:  cmd.UpdatedAt,
	}
	if script != nil {
		resp.Script = &scriptResponse{Name: script.Name, Content: script.Content, CreatedAt: script.CreatedAt}
	}
	return resp
}

// ---------- handlers ----------

func (h *Handler) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.mgr.ListActiveMachines(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machines)
}

func (h *Handler) handleRegisterMachine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx := r.Context()
	machine, err := h.mgr.RegisterMachine(ctx, req.ID, req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	machinesRegistered.Inc()

	h.publish(ctx, events.SubjectMachineRegistered, map[string]any{
		"id":   machine.ID,
		"name": machine.Name,
		"time": machine.LastSeen.Unix(),
	})
	writeJSON(w, http.StatusOK, machine)
}

func (h *Handler) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	script, err := h.mgr.CreateScript(r.Context(), req.Name, req.Content)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID  string `json:"machine_id"`
		ScriptName string `json:"script_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.MachineID == "" || req.ScriptName == "" {
		writeError(w, http.StatusBadRequest, "machine_id and script_name required")
		return
	}

	ctx := r.Context()
	cmd, err := h.mgr.ScheduleCommand(ctx, req.MachineID, req.ScriptName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	commandsScheduled.Inc()

	h.publish(ctx, events.SubjectCommandScheduled, map[string]any{
		"id":          cmd.ID,
		"machine_id":  cmd.MachineID,
		"script_name": cmd.ScriptName,
		"time":        cmd.CreatedAt.Unix(),
	})
	writeJSON(w, http.StatusOK, newCommandResponse(cmd, nil))
}

func (h *Handler) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	ctx := r.Context()

	pending, err := h.mgr.ListPendingCommands(ctx, machineID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// Agents execute script content straight from this response.
	out := []commandResponse{}
	for _, cmd := range pending {
		script, err := h.mgr.GetScript(ctx, cmd.ScriptName)
		if err != nil {
			h.log.Warnw("pending command references missing script",
				"command_id", cmd.ID, "script_name", cmd.ScriptName, "error", err)
			continue
		}
		out = append(out, newCommandResponse(cmd, script))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	commandID, err := strconv.ParseUint(r.PathValue("command_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command id")
		return
	}
	var req struct {
		Output *models.CommandOutput `json:"output"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Output == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx := r.Context()
	cmd, err := h.mgr.CompleteCommand(ctx, commandID, req.Output)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	commandsCompleted.Inc()

	h.publish(ctx, events.SubjectCommandCompleted, map[string]any{
		"id":         cmd.ID,
		"machine_id": cmd.MachineID,
		"returncode": cmd.Output.ReturnCode,
		"time":       cmd.UpdatedAt.Unix(),
	})
	writeJSON(w, http.StatusOK, newCommandResponse(cmd, nil))
}

// handleCommandStatuses lists the fixed status reference rows.
func (h *Handler) handleCommandStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.mgr.ListCommandStatuses(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// publish sends a lifecycle event when a publisher is configured. Publish
// failures are logged, never surfaced to API callers.
func (h *Handler) publish(ctx context.Context, subject string, event map[string]any) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, subject, event); err != nil {
		h.log.Warnw("event publish failed", "subject", subject, "error", err)
	}
}

// ---------- helpers ----------

// writeDomainError maps lifecycle and validation failures onto the HTTP
// contract: 422 for rejected scripts, 404 for missing references, 409 for
// conflicts.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var rej *safety.RejectionError
	switch {
	case errors.As(err, &rej):
		scriptsRejected.WithLabelValues(string(rej.Reason)).Inc()
		body := map[string]any{"error": rej.Error(), "reason": string(rej.Reason)}
		if rej.Line > 0 {
			body["line"] = rej.Line
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, lifecycle.ErrScriptExists), errors.Is(err, lifecycle.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrEmptyMachineID), errors.Is(err, lifecycle.ErrEmptyScriptName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorw("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
