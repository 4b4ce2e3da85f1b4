package api

import (
	"net/http"
	"strconv"

	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// validatorPayload is the write representation of one tracked validator.
type validatorPayload struct {
	Index               *uint64          `json:"index"`
	PublicKey           string           `json:"public_key"`
	OwnershipProportion *decimal.Decimal `json:"ownership_proportion"`
	WithdrawalAddress   string           `json:"withdrawal_address"`
}

// handleGetValidators returns all tracked validators.
func (s *Server) handleGetValidators(w http.ResponseWriter, r *http.Request) {
	validators, err := s.validators.GetValidators(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": validators})
}

// handleAddValidators tracks new validators, skipping known ones.
func (s *Server) handleAddValidators(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Validators []validatorPayload `json:"validators"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if len(req.Validators) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "No validators given", nil)
		return
	}

	validators := make([]*models.Validator, 0, len(req.Validators))
	for _, payload := range req.Validators {
		if payload.PublicKey == "" {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Validator public key is required", nil)
			return
		}
		proportion := decimal.NewFromInt(1)
		if payload.OwnershipProportion != nil {
			proportion = *payload.OwnershipProportion
		}
		validators = append(validators, &models.Validator{
			Index:               payload.Index,
			PublicKey:           payload.PublicKey,
			OwnershipProportion: proportion,
			WithdrawalAddress:   payload.WithdrawalAddress,
		})
	}

	if err := s.validators.AddValidators(r.Context(), validators); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

// handleEditValidator updates a validator's ownership proportion.
func (s *Server) handleEditValidator(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid validator index", nil)
		return
	}

	var req struct {
		OwnershipProportion decimal.Decimal `json:"ownership_proportion"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	if err := s.validators.EditValidator(r.Context(), index, req.OwnershipProportion); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteValidators removes validators and their staking history,
// all-or-nothing.
func (s *Server) handleDeleteValidators(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Indices []uint64 `json:"indices"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if len(req.Indices) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "No validator indices given", nil)
		return
	}

	if err := s.validators.DeleteValidators(r.Context(), req.Indices); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDailyStats returns filtered daily staking stats with ownership
// proportion already applied.
func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromTs     *int64   `json:"from_ts"`
		ToTs       *int64   `json:"to_ts"`
		Validators []uint64 `json:"validators"`
		OrderBy    string   `json:"order_by"`
		Ascending  bool     `json:"ascending"`
		Limit      int      `json:"limit"`
		Offset     int      `json:"offset"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid filter body", nil)
		return
	}

	params := filters.DailyStatsParams{
		FromTs:     req.FromTs,
		ToTs:       req.ToTs,
		Validators: req.Validators,
	}
	if req.OrderBy != "" {
		params.Order = &filters.Order{Attribute: req.OrderBy, Ascending: req.Ascending}
	}
	if req.Limit > 0 {
		params.Pagination = &filters.Pagination{Limit: req.Limit, Offset: req.Offset}
	}

	stats, count, totalPnL, err := s.validators.GetDailyStats(r.Context(), filters.NewDailyStatsQuery(params))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":       stats,
		"entries_found": count,
		"sum_pnl":       totalPnL,
	})
}

// handleExitedValidators returns indices of validators with a recorded
// exit.
func (s *Server) handleExitedValidators(w http.ResponseWriter, r *http.Request) {
	indices, err := s.validators.GetExitedValidatorIndices(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"indices": indices})
}

// handleValidatorsProfit sums withdrawals and execution rewards for the
// given validators in a time window.
func (s *Server) handleValidatorsProfit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Indices []uint64 `json:"indices"`
		FromTs  int64    `json:"from_ts"`
		ToTs    int64    `json:"to_ts"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if req.ToTs == 0 {
		req.ToTs = int64(types.Now())
	}

	profit, err := s.validators.GetValidatorsProfit(r.Context(), req.Indices,
		types.Timestamp(req.FromTs), types.Timestamp(req.ToTs))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profit)
}
