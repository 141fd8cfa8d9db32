package runnerhandler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/actions-runner-provisioning-backend/api"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/ruteri/actions-runner-provisioning-backend/registration"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Registrar is the part of registration.Registrar the handler needs.
type Registrar interface {
	RegisterAll(ctx context.Context, req *interfaces.RegistrationRequest) (*registration.Result, error)
}

// Handler serves the runner registration API.
type Handler struct {
	registrar Registrar
	log       *slog.Logger
}

// NewHandler creates a handler registering runners through registrar.
func NewHandler(registrar Registrar, log *slog.Logger) *Handler {
	return &Handler{
		registrar: registrar,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/register", h.HandleRegister)
}

// HandleRegister registers a batch of runners against one repository.
//
// URL format: POST /api/register
//
// Request body: JSON, see api.RegisterRequest
//
// Response: 201 (or 202 for a dry run) with a JSON map of runner name to
// secret payload and the correlation URI in the Location header.
// Validation and setup failures are 400, other failures are 500. If some
// runners were registered before the failure their payloads are returned
// in an api.ErrorResponse with either status.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("Invalid register request body", "err", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.RunnerNames) == 0 {
		http.Error(w, "runnerNames must not be empty", http.StatusBadRequest)
		return
	}

	log := h.log.With("repository", req.Owner+"/"+req.Repository, "dryRun", req.DryRun)
	log.Info("Registering runners", "runners", req.RunnerNames)

	result, err := h.registrar.RegisterAll(r.Context(), req.RegistrationRequest())
	if err != nil {
		status := http.StatusInternalServerError
		if interfaces.IsClientError(err) {
			status = http.StatusBadRequest
			log.Warn("Rejected register request", "err", err)
		} else {
			log.Error("Runner registration failed", "err", err)
		}

		if result == nil || len(result.Runners) == 0 {
			http.Error(w, err.Error(), status)
			return
		}

		// These runners exist on the host; their credentials must not be lost,
		// even when a later runner name was rejected.
		w.Header().Set("Location", result.Location())
		h.writeJSON(w, status, api.ErrorResponse{
			Error:   err.Error(),
			Runners: api.NewRunnerSecrets(result.Secrets()),
		})
		return
	}

	status := http.StatusCreated
	if result.DryRun {
		status = http.StatusAccepted
	}

	w.Header().Set("Location", result.Location())
	h.writeJSON(w, status, api.NewRunnerSecrets(result.Secrets()))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
