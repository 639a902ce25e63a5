package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// maxGenerate caps one generate request.
const maxGenerate = 50

// FeePayerManager defines the fleet operations the handler needs.
type FeePayerManager interface {
	List(ctx context.Context, filter domain.FeePayerFilter) ([]domain.FeePayer, error)
	TopUps(ctx context.Context, opts domain.ListOpts) ([]domain.TopUp, error)
	Generate(ctx context.Context, c domain.Chain, network domain.Network, count int) ([]domain.FeePayer, error)
	Register(ctx context.Context, c domain.Chain, network domain.Network, address string, secret []byte) (domain.FeePayer, error)
	Deactivate(ctx context.Context, id string) error
}

// FeePayerHandler serves the fee payer fleet and its top-up log.
type FeePayerHandler struct {
	payers FeePayerManager
	logger *slog.Logger
}

// NewFeePayerHandler creates a FeePayerHandler.
func NewFeePayerHandler(payers FeePayerManager, logger *slog.Logger) *FeePayerHandler {
	return &FeePayerHandler{payers: payers, logger: logHandler(logger, "fee_payers")}
}

type registerFeePayerRequest struct {
	Chain   domain.Chain   `json:"chain"`
	Network domain.Network `json:"network"`
	Address string         `json:"address"`
	// Secret is optional; without it the payer is listed but never used.
	Secret   string          `json:"secret"`
	Encoding crypto.Encoding `json:"encoding"`
}

type generateFeePayersRequest struct {
	Chain   domain.Chain   `json:"chain"`
	Network domain.Network `json:"network"`
	Count   int            `json:"count"`
}

// ListFeePayers returns fee payers, filtered by chain, network and
// ?active=true.
// GET /api/fee-payers
func (h *FeePayerHandler) ListFeePayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payers, err := h.payers.List(r.Context(), domain.FeePayerFilter{
		Chain:      domain.Chain(q.Get("chain")),
		Network:    domain.Network(q.Get("network")),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "list fee payers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fee_payers": emptyIfNil(payers)})
}

// RegisterFeePayer adds an externally created fee payer.
// POST /api/fee-payers
func (h *FeePayerHandler) RegisterFeePayer(w http.ResponseWriter, r *http.Request) {
	var req registerFeePayerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Chain == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "chain and address are required")
		return
	}
	if req.Network == "" {
		req.Network = domain.NetworkMainnet
	}
	var secret []byte
	if req.Secret != "" {
		var err error
		if secret, err = crypto.DecodeSecret(req.Secret, req.Encoding); err != nil {
			writeError(w, http.StatusBadRequest, "invalid secret: "+err.Error())
			return
		}
	}
	fp, err := h.payers.Register(r.Context(), req.Chain, req.Network, req.Address, secret)
	if err != nil {
		writeServiceError(w, r, h.logger, "register fee payer", err)
		return
	}
	writeJSON(w, http.StatusCreated, fp)
}

// GenerateFeePayers creates new fee payers with fresh keys.
// POST /api/fee-payers/generate
func (h *FeePayerHandler) GenerateFeePayers(w http.ResponseWriter, r *http.Request) {
	var req generateFeePayersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Chain == "" {
		writeError(w, http.StatusBadRequest, "chain is required")
		return
	}
	if req.Network == "" {
		req.Network = domain.NetworkMainnet
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxGenerate {
		writeError(w, http.StatusBadRequest, "count must be within 1..50")
		return
	}
	payers, err := h.payers.Generate(r.Context(), req.Chain, req.Network, req.Count)
	if err != nil {
		writeServiceError(w, r, h.logger, "generate fee payers", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"fee_payers": emptyIfNil(payers)})
}

// DeactivateFeePayer takes a fee payer out of rotation.
// POST /api/fee-payers/{id}/deactivate
func (h *FeePayerHandler) DeactivateFeePayer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.payers.Deactivate(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "deactivate fee payer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": id})
}

// ListTopUps returns the funding transfer log newest first.
// GET /api/top-ups
func (h *FeePayerHandler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	topUps, err := h.payers.TopUps(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list top-ups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"top_ups": emptyIfNil(topUps)})
}
