package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/reasoning"
	"github.com/forgemind/agentforge/telemetry"
)

// handleCreateTask validates the request, mints a session id, and
// stashes the request for a subsequent GET /stream?task_id=… to pick
// up — the "client POST -> Gateway mints session_id" half of spec.md
// §2's data flow.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if req.Mode == "" {
		req.Mode = ModeAuto
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	taskID := uuid.NewString()
	s.mu.Lock()
	s.pending[taskID] = req
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: taskID})
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{Error: msg})
}

// handleStream is the SSE endpoint: it resolves a TaskRequest either
// from a prior POST /tasks (via task_id) or directly from its own
// query parameters (so a bare EventSource client, which can't send a
// POST body, can drive a run in one request), runs the Orchestrator,
// and relays every persisted event as an SSE frame until done or
// disconnect. Disconnect cancels the run and cleans up the session
// within spec.md §8 scenario E2's bound, since Subscriber.Next returns
// as soon as r.Context() is done.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID, req, ok := s.resolveStreamRequest(r)
	if !ok {
		writeValidationError(w, "unknown or missing task")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriber := s.store.GetEventQueue(sessionID)

	runCtx, cancel := context.WithCancel(context.Background())
	s.trackRun(sessionID, cancel)
	defer func() {
		cancel()
		s.untrackRun(sessionID)
		s.store.CleanupSession(sessionID)
	}()

	go func() {
		defer cancel()
		cfg := s.baseCfg
		if req.MaxIterations > 0 {
			cfg.MaxRetries = req.MaxIterations - 1
		}
		orch := s.newOrch(cfg)
		stages := s.buildStages(req)
		orch.Run(runCtx, sessionID, stages, req.Task, requestOverrides(req))
	}()

	clientGone := r.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		default:
		}

		ev, ok := subscriber.Next(r.Context())
		if !ok {
			return
		}

		frame := &reasoning.Frame{ID: ev.Timestamp.UnixNano(), Event: string(ev.Type), Data: ev.Payload}
		line, err := frame.Encode()
		if err != nil {
			s.logger.Warn("failed to encode SSE frame", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
			continue
		}
		if _, err := fmt.Fprint(w, line); err != nil {
			return
		}
		flusher.Flush()

		if ev.Type == eventstore.EventDone {
			return
		}
	}
}

// requestOverrides threads a request's optional model/temperature
// choices into the Inputs every stage's agent.Agent reads via
// preferredModel/overrideFloat, so a client override actually reaches
// model selection instead of being silently dropped.
func requestOverrides(req TaskRequest) agent.Inputs {
	extra := agent.Inputs{}
	if req.Model != "" {
		extra["model"] = req.Model
	}
	if req.Temperature != 0 {
		extra["temperature"] = req.Temperature
	}
	return extra
}

// handleInterrupt cancels an active run's session without the client
// having to close its SSE connection, giving spec.md §4.4's interrupt()
// a second entry point beyond disconnect. A session with no active run
// (already finished, or unknown) reports 404 rather than erroring.
func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeValidationError(w, "session_id is required")
		return
	}
	if !s.Interrupt(sessionID) {
		http.Error(w, "no active run for session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) resolveStreamRequest(r *http.Request) (string, TaskRequest, bool) {
	q := r.URL.Query()

	if taskID := q.Get("task_id"); taskID != "" {
		s.mu.Lock()
		req, ok := s.pending[taskID]
		delete(s.pending, taskID)
		s.mu.Unlock()
		if !ok {
			return "", TaskRequest{}, false
		}
		return taskID, req, true
	}

	task := q.Get("task")
	if task == "" {
		return "", TaskRequest{}, false
	}
	req := TaskRequest{Task: task, Mode: Mode(q.Get("mode")), Model: q.Get("model")}
	if req.Mode == "" {
		req.Mode = ModeAuto
	}
	if v := q.Get("temperature"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			req.Temperature = f
		}
	}
	if v := q.Get("max_iterations"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.MaxIterations = n
		}
	}
	if err := req.Validate(); err != nil {
		return "", TaskRequest{}, false
	}
	return uuid.NewString(), req, true
}

// handleHealth reports each dependency's status and rolls them up into
// the three-way status spec.md §6 describes, grounded on the teacher's
// own handleHealth (examples/agent-with-telemetry/handlers.go): any one
// dependency down degrades the overall status but still answers 200
// (the gateway itself is still serving); the registry never having
// completed a refresh is treated the same as a down model server, since
// no model can be selected without it. A shutdown in progress reports
// error, still with 200 — at that point the gateway is genuinely not
// accepting new work.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	poolOK := s.pool == nil || s.pool.Healthy()
	registryOK := s.registry == nil || !s.registry.LastRefresh().IsZero()

	services := map[string]string{
		"api":          "ok",
		"model_server": serviceStatus(poolOK),
		"cache":        serviceStatus(true),
		"pool":         serviceStatus(poolOK),
		"registry":     serviceStatus(registryOK),
	}

	status := "ok"
	switch {
	case s.isShuttingDown():
		status = "error"
	case !poolOK || !registryOK:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Services:  services,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modelsResponse())
}

func (s *Server) handleModelsRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Refresh(r.Context()); err != nil {
		telemetry.RecordError(telemetry.MetricGatewayRequestErrors, "registry_refresh_failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.modelsResponse())
}

func (s *Server) modelsResponse() ModelsResponse {
	snapshot := s.registry.Snapshot()
	names := make([]string, 0, len(snapshot))
	detailed := make([]modelInfo, 0, len(snapshot))
	for name, info := range snapshot {
		names = append(names, name)
		detailed = append(detailed, modelInfo{
			Name:             info.Name,
			SizeBytes:        info.SizeBytes,
			ParameterSize:    info.ParameterSize,
			Quantization:     info.Quantization,
			Family:           info.Family,
			IsCoder:          info.IsCoder,
			IsReasoning:      info.IsReasoning,
			EstimatedQuality: info.EstimatedQuality,
			Tier:             string(info.Tier),
		})
	}
	return ModelsResponse{Models: names, ModelsDetailed: detailed, Count: len(names)}
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	var req BenchmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	b := telemetry.NewSystemBenchmark(req.TokensPerSecond, req.TimeToFirstTokenMS, req.ModelUsed)
	if s.outputDir != "" {
		if err := telemetry.SaveBenchmark(s.outputDir, b); err != nil {
			s.logger.Warn("failed to persist benchmark", map[string]interface{}{"error": err.Error()})
		}
	}
	writeJSON(w, http.StatusOK, b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
