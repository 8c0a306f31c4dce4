// Package api is the thin HTTP boundary over the scheduler registry,
// mirroring the mux-and-handler wiring the teacher's CLI builds for its
// metrics/health endpoints, generalised to the full config/schedule/manual
// surface in spec.md §6.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/99souls/carbonscheduler/internal/registry"
	"github.com/99souls/carbonscheduler/internal/schedule"
	"github.com/99souls/carbonscheduler/internal/session"
	"github.com/99souls/carbonscheduler/internal/telemetry/health"
	"github.com/99souls/carbonscheduler/internal/telemetry/logging"
)

// Server holds the dependencies every handler needs.
type Server struct {
	registry         *registry.Registry
	health           *health.Evaluator
	logger           logging.Logger
	defaultNamespace string
	defaultName      string
}

// New constructs a Server. defaultNamespace/defaultName back the bare
// /schedule and /setschedule aliases.
func New(reg *registry.Registry, healthEval *health.Evaluator, logger logging.Logger, defaultNamespace, defaultName string) *Server {
	return &Server{registry: reg, health: healthEval, logger: logger, defaultNamespace: defaultNamespace, defaultName: defaultName}
}

// Mux builds the full HTTP routing table for the API surface.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /config/{ns}/{name}", s.handlePutConfig)
	mux.HandleFunc("GET /schedule/{ns}/{name}", s.handleGetSchedule)
	mux.HandleFunc("GET /schedule", s.handleGetDefaultSchedule)
	mux.HandleFunc("POST /schedule/{ns}/{name}/manual", s.handlePostManual)
	mux.HandleFunc("POST /setschedule", s.handlePostDefaultManual)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	ns, name := r.PathValue("ns"), r.PathValue("name")
	var partial wirePartialConfig
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed config body: "+err.Error())
		return
	}

	existing := session.Defaults()
	if sess, err := s.registry.Get(ns, name); err == nil {
		if latest, pending := sess.Latest(); !pending {
			existing.Policy = latest.Policy.Name
		}
	}

	cfg, err := session.Merge(existing, partial.toPartialConfig())
	if err != nil {
		s.logger.WarnCtx(r.Context(), "config rejected", "namespace", ns, "name", name, "error", err.Error())
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	s.registry.UpdateConfig(ns, name, cfg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s.writeSchedule(w, r.PathValue("ns"), r.PathValue("name"))
}

func (s *Server) handleGetDefaultSchedule(w http.ResponseWriter, r *http.Request) {
	s.writeSchedule(w, s.defaultNamespace, s.defaultName)
}

func (s *Server) writeSchedule(w http.ResponseWriter, ns, name string) {
	snap, pending, found := s.registry.Latest(ns, name)
	if !found {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("no session %s/%s", ns, name))
		return
	}
	if pending {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePostManual(w http.ResponseWriter, r *http.Request) {
	s.installManual(w, r, r.PathValue("ns"), r.PathValue("name"))
}

func (s *Server) handlePostDefaultManual(w http.ResponseWriter, r *http.Request) {
	s.installManual(w, r, s.defaultNamespace, s.defaultName)
}

func (s *Server) installManual(w http.ResponseWriter, r *http.Request, ns, name string) {
	var partial wireManualOverride
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed manual override body: "+err.Error())
		return
	}

	sess, err := s.registry.Get(ns, name)
	if err != nil {
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("no session %s/%s", ns, name))
		return
	}

	validUntil := time.Now().Add(sess.ValidFor())
	if partial.ValidUntil != "" {
		parsed, err := time.Parse(time.RFC3339, partial.ValidUntil)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "validUntil must be RFC3339: "+err.Error())
			return
		}
		validUntil = parsed
	}

	if err := sess.Override(partial.FlavourWeights, validUntil); err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Evaluate(r.Context())
	status := http.StatusOK
	writeJSON(w, status, map[string]any{"status": "ok", "overall": snap.Overall, "probes": snap.Probes})
}

// --- wire-form decoding -----------------------------------------------

type wirePartialConfig struct {
	TargetError       *float64                             `json:"targetError"`
	CreditMin         *float64                             `json:"creditMin"`
	CreditMax         *float64                             `json:"creditMax"`
	CreditWindow      *float64                             `json:"creditWindow"`
	Policy            *string                              `json:"policy"`
	ValidFor          *float64                             `json:"validFor"`
	DiscoveryInterval *float64                             `json:"discoveryInterval"`
	CarbonTarget      *string                              `json:"carbonTarget"`
	CarbonTimeout     *float64                             `json:"carbonTimeout"`
	CarbonCacheTTL    *float64                             `json:"carbonCacheTTL"`
	Components        map[string]schedule.ComponentBounds  `json:"components"`
	Flavours          []wireFlavour                        `json:"flavours"`
}

type wireFlavour struct {
	Name            string            `json:"name"`
	Precision       float64           `json:"precision"`
	CarbonIntensity *float64          `json:"carbonIntensity"`
	Enabled         *bool             `json:"enabled"`
	Annotations     map[string]string `json:"annotations"`
}

func (w wirePartialConfig) toPartialConfig() session.PartialConfig {
	var flavours []session.PartialFlavour
	if w.Flavours != nil {
		flavours = make([]session.PartialFlavour, 0, len(w.Flavours))
		for _, f := range w.Flavours {
			ci := 0.0
			if f.CarbonIntensity != nil {
				ci = *f.CarbonIntensity
			}
			flavours = append(flavours, session.PartialFlavour{
				Name:            f.Name,
				Precision:       f.Precision,
				CarbonIntensity: ci,
				Enabled:         f.Enabled,
			})
		}
	}
	return session.PartialConfig{
		TargetError:       w.TargetError,
		CreditMin:         w.CreditMin,
		CreditMax:         w.CreditMax,
		CreditWindow:      w.CreditWindow,
		Policy:            w.Policy,
		ValidFor:          w.ValidFor,
		DiscoveryInterval: w.DiscoveryInterval,
		CarbonTarget:      w.CarbonTarget,
		CarbonTimeout:     w.CarbonTimeout,
		CarbonCacheTTL:    w.CarbonCacheTTL,
		Components:        w.Components,
		Flavours:          flavours,
	}
}

type wireManualOverride struct {
	FlavourWeights map[string]int `json:"flavourWeights"`
	ValidUntil     string         `json:"validUntil"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
