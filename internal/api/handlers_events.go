package api

import (
	"net/http"
	"strconv"

	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// eventFilterRequest carries the optional query criteria for history
// events. Absent fields apply no constraint.
type eventFilterRequest struct {
	FromTs               *int64   `json:"from_ts"`
	ToTs                 *int64   `json:"to_ts"`
	Assets               []string `json:"assets"`
	EventTypes           []string `json:"event_types"`
	EventSubTypes        []string `json:"event_subtypes"`
	Location             *string  `json:"location"`
	LocationLabels       []string `json:"location_labels"`
	EventIdentifiers     []string `json:"event_identifiers"`
	ExcludeIgnoredAssets bool     `json:"exclude_ignored_assets"`
	TxHash               string   `json:"tx_hash"`
	Counterparties       []string `json:"counterparties"`
	Products             []string `json:"products"`
	OrderBy              string   `json:"order_by"`
	Ascending            bool     `json:"ascending"`
	Limit                int      `json:"limit"`
	Offset               int      `json:"offset"`
}

func (req *eventFilterRequest) toQuery() *filters.HistoryEventQuery {
	params := filters.HistoryEventParams{
		FromTs:               req.FromTs,
		ToTs:                 req.ToTs,
		Assets:               req.Assets,
		LocationLabels:       req.LocationLabels,
		EventIdentifiers:     req.EventIdentifiers,
		ExcludeIgnoredAssets: req.ExcludeIgnoredAssets,
	}
	for _, t := range req.EventTypes {
		params.EventTypes = append(params.EventTypes, types.EventType(t))
	}
	for _, t := range req.EventSubTypes {
		params.EventSubTypes = append(params.EventSubTypes, types.EventSubType(t))
	}
	if req.Location != nil {
		location := types.Location(*req.Location)
		params.Location = &location
	}
	if req.OrderBy != "" {
		params.Order = &filters.Order{Attribute: req.OrderBy, Ascending: req.Ascending}
	}
	if req.Limit > 0 {
		params.Pagination = &filters.Pagination{Limit: req.Limit, Offset: req.Offset}
	}

	if req.TxHash != "" || len(req.Counterparties) > 0 || len(req.Products) > 0 {
		return &filters.NewEvmEventQuery(filters.EvmEventParams{
			HistoryEventParams: params,
			TxHash:             req.TxHash,
			Counterparties:     req.Counterparties,
			Products:           req.Products,
		}).HistoryEventQuery
	}
	return filters.NewHistoryEventQuery(params)
}

// eventPayload is the write representation of one history event.
type eventPayload struct {
	EventIdentifier   string                 `json:"event_identifier"`
	SequenceIndex     int                    `json:"sequence_index"`
	Timestamp         int64                  `json:"timestamp"`
	Location          string                 `json:"location"`
	LocationLabel     string                 `json:"location_label"`
	Asset             string                 `json:"asset"`
	Amount            decimal.Decimal        `json:"amount"`
	USDValue          decimal.Decimal        `json:"usd_value"`
	Notes             string                 `json:"notes"`
	Type              string                 `json:"type"`
	SubType           string                 `json:"subtype"`
	Counterparty      string                 `json:"counterparty"`
	Product           string                 `json:"product"`
	Address           string                 `json:"address"`
	TxHash            string                 `json:"tx_hash"`
	ExtraData         map[string]interface{} `json:"extra_data"`
	ValidatorIndex    *uint64                `json:"validator_index"`
	ExitOrBlockNumber int64                  `json:"exit_or_block_number"`
}

func (p *eventPayload) toModel() (*models.HistoryEvent, error) {
	event := &models.HistoryEvent{
		EventIdentifier:   p.EventIdentifier,
		SequenceIndex:     p.SequenceIndex,
		Timestamp:         types.TimestampMS(p.Timestamp),
		Location:          types.Location(p.Location),
		LocationLabel:     p.LocationLabel,
		Asset:             p.Asset,
		Amount:            p.Amount,
		USDValue:          p.USDValue,
		Notes:             p.Notes,
		Type:              types.EventType(p.Type),
		SubType:           types.EventSubType(p.SubType),
		Counterparty:      p.Counterparty,
		Product:           p.Product,
		ExtraData:         p.ExtraData,
		ValidatorIndex:    p.ValidatorIndex,
		ExitOrBlockNumber: p.ExitOrBlockNumber,
	}
	if p.Asset == "" {
		return nil, errMissingField("asset")
	}
	if p.Location == "" {
		return nil, errMissingField("location")
	}
	if p.Address != "" {
		if !common.IsHexAddress(p.Address) {
			return nil, errInvalidField("address")
		}
		address := common.HexToAddress(p.Address)
		event.Address = &address
	}
	if p.TxHash != "" {
		hash := common.HexToHash(p.TxHash)
		event.TxHash = &hash
	}
	return event, nil
}

type fieldError struct{ msg string }

func (e fieldError) Error() string { return e.msg }

func errMissingField(name string) error { return fieldError{msg: "missing required field " + name} }
func errInvalidField(name string) error { return fieldError{msg: "invalid value for field " + name} }

// handleQueryEvents returns a filtered page of events plus count
// information. POST with a filter body keeps complex criteria out of the
// query string.
func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	var req eventFilterRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid filter body", nil)
		return
	}

	privileged := isPrivileged(r)
	entriesLimit := 0
	if !privileged {
		entriesLimit = s.config.FreeEventsLimit
	}

	events, skipped, countAll, countLimited, err := s.events.GetEventsAndLimitInfo(r.Context(), req.toQuery(), privileged, entriesLimit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":       events,
		"entries_found": countAll,
		"entries_limit": countLimited,
		"skipped":       skipped,
	})
}

// handleAddEvent inserts one event and returns its identifier.
func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	if err := parseJSONBody(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid event body", nil)
		return
	}
	event, err := payload.toModel()
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}

	identifier, err := s.events.AddEvent(r.Context(), event, nil)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"identifier": identifier})
}

// handleEditEvent updates an existing event.
func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	identifier, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid event identifier", nil)
		return
	}

	var payload eventPayload
	if err := parseJSONBody(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid event body", nil)
		return
	}
	event, err := payload.toModel()
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	event.Identifier = identifier

	if err := s.events.EditEvent(r.Context(), event); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteEvents deletes events by identifier, all-or-nothing.
func (s *Server) handleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifiers []int64 `json:"identifiers"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if len(req.Identifiers) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "No identifiers given", nil)
		return
	}

	if err := s.events.DeleteEventsByIdentifier(r.Context(), req.Identifiers); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDeleteEventsByTxHash removes all non-customized events of the
// given transactions, used before re-decoding.
func (s *Server) handleDeleteEventsByTxHash(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxHashes []string `json:"tx_hashes"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if len(req.TxHashes) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "No transaction hashes given", nil)
		return
	}

	hashes := make([]common.Hash, 0, len(req.TxHashes))
	for _, raw := range req.TxHashes {
		hashes = append(hashes, common.HexToHash(raw))
	}

	if err := s.events.DeleteEventsByTxHash(r.Context(), hashes); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleValueStats returns aggregate USD value totals under the filter.
func (s *Server) handleValueStats(w http.ResponseWriter, r *http.Request) {
	var req eventFilterRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid filter body", nil)
		return
	}

	stats, err := s.events.GetValueStats(r.Context(), req.toQuery())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleEventAssets returns the distinct assets under the filter.
func (s *Server) handleEventAssets(w http.ResponseWriter, r *http.Request) {
	var req eventFilterRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid filter body", nil)
		return
	}

	assets, err := s.events.GetEventAssets(r.Context(), req.toQuery())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

// handleMissingPrices returns events still lacking a USD valuation.
func (s *Server) handleMissingPrices(w http.ResponseWriter, r *http.Request) {
	var req eventFilterRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid filter body", nil)
		return
	}

	rows, err := s.events.RowsMissingPrices(r.Context(), req.toQuery())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": rows})
}
