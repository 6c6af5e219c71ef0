package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/confirm"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/registry"
)

// maxCommandBytes bounds a submitted command body.
const maxCommandBytes = 1 << 20

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListResources returns active registry entries filtered by the type,
// region and project query parameters.
func (s *Server) ListResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{
		Type:    engine.ResourceType(q.Get("type")),
		Region:  q.Get("region"),
		Project: q.Get("project"),
	}
	if f.Type != "" {
		if _, err := engine.ParseResourceType(string(f.Type)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resources := s.Registry.GetActive(f)
	if resources == nil {
		resources = []engine.TrackedResource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources":    resources,
		"last_updated": s.Registry.LastUpdated(),
	})
}

// SubmitCommand validates an envelope and publishes it on the command
// channel. A missing request id is generated.
func (s *Server) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var cmd bus.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes)).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Bus.PublishCommand(r.Context(), cmd); err != nil {
		s.Logger.Error().Err(err).Str("type", cmd.Type).Msg("failed to publish command")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": cmd.RequestID,
		"type":       cmd.Type,
	})
}

// DeletionGraph discovers the dependency graph below one or more resources
// and returns it as DOT, or as layers with format=json. ids may be a comma
// separated list sharing one type and region.
func (s *Server) DeletionGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, typ, region := q.Get("id"), q.Get("type"), q.Get("region")
	if ids == "" || typ == "" || region == "" {
		writeError(w, http.StatusBadRequest, "id, type and region are required")
		return
	}
	t, err := engine.ParseResourceType(typ)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var seed []engine.ResourceRef
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			seed = append(seed, engine.ResourceRef{ID: id, Type: t, Region: region})
		}
	}

	graph, err := s.Graph.BuildRefs(r.Context(), seed)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if q.Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"layers":         graph.Layers(),
			"deletion_order": graph.DeletionOrder(),
			"edges":          graph.Edges(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graph.ToDOT()))
}

func (s *Server) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	tasks := []confirm.Task{}
	if s.Tasks != nil {
		tasks = append(tasks, s.Tasks.Tasks()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}
