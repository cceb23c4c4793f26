// Package bff implements the admission front (§4.7): the only HTTP surface
// in the saga. It accepts external influencer-onboarding requests, mints the
// correlation id that threads through the whole saga, publishes the
// triggering command, and exposes a live tail of contract-creation events for
// whoever wants to watch a saga resolve.
package bff

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/services/contracts"
	"github.com/alpespartners/saga-orchestrator/internal/services/influencers"
	"github.com/alpespartners/saga-orchestrator/pkg/contextx"
	"github.com/alpespartners/saga-orchestrator/pkg/graceful"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	rediscache "github.com/alpespartners/saga-orchestrator/pkg/redis"
	"github.com/alpespartners/saga-orchestrator/pkg/utils"
)

// streamBacklog bounds how many undelivered tail records a slow client can
// leave buffered before new ones are dropped in its favor (§5 backpressure:
// the live tail is best-effort, not a durable subscription).
const streamBacklog = 64

// latestContractKey/Field hold the most recent ContractCreated snapshot so a
// newly connected /stream client sees something immediately instead of
// waiting for the next saga to complete (§6 "/stream ... carrying the most
// recent contract-creation event snapshot").
const (
	latestContractKey   = "contracts"
	latestContractField = "latest"
	latestContractTTL   = 24 * time.Hour
)

// streamRecord is one newline-delimited line written to a /stream client.
type streamRecord struct {
	CorrelationID string                `json:"correlation_id"`
	EmittedAt     time.Time             `json:"emitted_at"`
	Contract      codec.ContractCreated `json:"contract"`
}

// Handler serves the BFF's three routes over the shared message bus.
type Handler struct {
	b     bus.Bus
	cache *rediscache.Cache
	log   logger.Logger
}

// NewHandler builds a Handler publishing onto and subscribing from b. cache
// backs the /stream endpoint's latest-snapshot replay.
func NewHandler(b bus.Bus, cache *rediscache.Cache, log logger.Logger) *Handler {
	return &Handler{b: b, cache: cache, log: log}
}

// Routes registers the BFF's HTTP surface on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/influencers", h.handleCreateInfluencer)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/stream", h.handleStream)
}

type createInfluencerRequest struct {
	IDInfluencer string   `json:"id_influencer"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Categories   []string `json:"categories"`
	Bio          string   `json:"bio,omitempty"`
	AvatarURL    string   `json:"avatar_url,omitempty"`
	SocialHandle string   `json:"social_handle,omitempty"`
}

type createInfluencerResponse struct {
	CorrelationID string `json:"correlation_id"`
	InfluencerID  string `json:"influencer_id"`
}

// handleCreateInfluencer mints a correlation id and publishes the saga's
// trigger command. Validation failures never reach the bus (§7: "Validation
// errors ... reported synchronously with a 4xx to the caller").
func (h *Handler) handleCreateInfluencer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createInfluencerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.IDInfluencer == "" || req.Name == "" || req.Email == "" || len(req.Categories) == 0 {
		http.Error(w, "id_influencer, name, email and categories are required", http.StatusBadRequest)
		return
	}

	correlationID := uuid.NewString()
	payload := codec.CreateInfluencer{
		ID:           req.IDInfluencer,
		Name:         req.Name,
		Email:        req.Email,
		Categories:   req.Categories,
		Bio:          req.Bio,
		AvatarURL:    req.AvatarURL,
		SocialHandle: req.SocialHandle,
	}
	env, err := codec.NewEnvelope(uuid.NewString(), correlationID, codec.KindCreateInfluencer, "bff", time.Now().UTC(), payload)
	if err != nil {
		h.log.Error("bff: build envelope", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx := contextx.WithCorrelationID(r.Context(), correlationID)
	if err := h.b.Publish(ctx, influencers.TopicCommands, env); err != nil {
		graceful.LogAndWrap(ctx, h.log.GetZapLogger(), graceful.CodeTransient, "bff: publish create influencer", err)
		http.Error(w, "failed to enqueue request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(createInfluencerResponse{
		CorrelationID: correlationID,
		InfluencerID:  req.IDInfluencer,
	})
}

// handleHealth reports service identity, per §6's HTTP surface.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"service": "bff",
		"status":  "ok",
	})
}

// handleStream opens a private subscription against the contract-creation
// event topic and forwards every decoded event to the client as a
// newline-delimited JSON record, until the client disconnects (§4.7).
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	records := make(chan codec.Envelope, streamBacklog)
	group := "bff-stream-" + uuid.NewString()

	sub, err := h.b.Subscribe(ctx, contracts.TopicEvents, group, func(_ context.Context, env codec.Envelope) bus.Result {
		select {
		case records <- env:
		default:
			h.log.Warn("bff: stream backlog full, dropping event",
				zap.String("correlation_id", env.CorrelationID))
		}
		return bus.Ack
	})
	if err != nil {
		h.log.Error("bff: stream subscribe", zap.Error(err))
		http.Error(w, "failed to open stream", http.StatusInternalServerError)
		return
	}
	defer func() {
		closeCtx, closeCancel := utils.ContextWithCustomTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := sub.Close(closeCtx); err != nil {
			h.log.Warn("bff: stream subscription close", zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)

	var snapshot streamRecord
	if err := h.cache.Get(ctx, latestContractKey, latestContractField, &snapshot); err == nil {
		if err := enc.Encode(snapshot); err != nil {
			return
		}
		flusher.Flush()
	}

	_ = utils.StreamItems(ctx, records, func(env codec.Envelope) error {
		var payload codec.ContractCreated
		if err := codec.DecodePayload(env, &payload); err != nil {
			h.log.Warn("bff: stream decode payload", zap.Error(err))
			return nil
		}
		record := streamRecord{
			CorrelationID: env.CorrelationID,
			EmittedAt:     env.EmittedAt.Time(),
			Contract:      payload,
		}
		if err := h.cache.Set(ctx, latestContractKey, latestContractField, record, latestContractTTL); err != nil {
			h.log.Warn("bff: stream cache latest snapshot", zap.Error(err))
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}
