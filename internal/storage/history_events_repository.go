package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lederrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Mapping tags in history_events_mappings. An event tagged customized has
// been manually edited and must survive automated re-decoding.
const (
	mappingKeyState        = "state"
	mappingStateCustomized = "customized"
)

// eventColumns is the scan order every event read uses.
const eventColumns = "identifier, event_identifier, sequence_index, timestamp, location, " +
	"location_label, asset, amount, usd_value, notes, type, subtype, counterparty, product, " +
	"address, tx_hash, extra_data"

// HistoryEventsRepository handles history event persistence and filtered
// reads against the append-only history_events table.
type HistoryEventsRepository struct {
	db         *PostgresDB
	statsCache *StatsCache
	freeLimit  int
}

// NewHistoryEventsRepository creates a new history events repository.
// statsCache may be nil; freeLimit bounds the recent-events window visible
// to unprivileged readers.
func NewHistoryEventsRepository(db *PostgresDB, statsCache *StatsCache, freeLimit int) *HistoryEventsRepository {
	return &HistoryEventsRepository{
		db:         db,
		statsCache: statsCache,
		freeLimit:  freeLimit,
	}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// balancesStaleKey flags that events changed after the last balance
// snapshot run. The aggregation run clears it on completion.
const balancesStaleKey = "balances_stale"

// invalidateStats drops cached aggregates and marks balance snapshots
// stale after any write. Failures are logged, not propagated: the cache
// self-heals via TTL and the marker is advisory.
func (r *HistoryEventsRepository) invalidateStats(ctx context.Context) {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO key_value_cache (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		balancesStaleKey, "1",
	)
	if err != nil {
		logging.WithError(err).Warn("Failed to mark balance snapshots stale")
	}

	if r.statsCache == nil {
		return
	}
	if err := r.statsCache.Invalidate(ctx); err != nil {
		logging.WithError(err).Debug("Failed to invalidate stats cache")
	}
}

// AddEvent inserts a single history event together with its optional side
// rows and mapping tags, returning the generated identifier. Inserting a
// second event with an existing (event_identifier, sequence_index) pair
// fails with a group-conflict error. An empty event identifier gets a
// generated one.
func (r *HistoryEventsRepository) AddEvent(ctx context.Context, event *models.HistoryEvent, mappings map[string]string) (int64, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	identifier, err := r.insertEventTx(ctx, tx, event, mappings)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit event insert: %w", err)
	}
	r.invalidateStats(ctx)
	return identifier, nil
}

// AddEvents inserts a batch of history events in one transaction. Any
// single failure fails the whole call with nothing committed.
func (r *HistoryEventsRepository) AddEvents(ctx context.Context, events []*models.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, event := range events {
		if _, err := r.insertEventTx(ctx, tx, event, nil); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event batch: %w", err)
	}
	r.invalidateStats(ctx)
	return nil
}

func (r *HistoryEventsRepository) insertEventTx(ctx context.Context, tx pgx.Tx, event *models.HistoryEvent, mappings map[string]string) (int64, error) {
	if event.EventIdentifier == "" {
		event.EventIdentifier = uuid.New().String()
	}
	extraJSON, err := marshalExtraData(event.ExtraData)
	if err != nil {
		return 0, err
	}

	var identifier int64
	err = tx.QueryRow(ctx, `
		INSERT INTO history_events (
			event_identifier, sequence_index, timestamp, location, location_label,
			asset, amount, usd_value, notes, type, subtype, counterparty, product,
			address, tx_hash, extra_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING identifier`,
		event.EventIdentifier,
		event.SequenceIndex,
		int64(event.Timestamp),
		string(event.Location),
		event.LocationLabel,
		event.Asset,
		event.Amount.String(),
		event.USDValue.String(),
		event.Notes,
		string(event.Type),
		string(event.SubType),
		event.Counterparty,
		event.Product,
		addressText(event.Address),
		hashText(event.TxHash),
		extraJSON,
	).Scan(&identifier)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, lederrors.NewEventGroupConflictError(event.EventIdentifier, event.SequenceIndex)
		}
		return 0, fmt.Errorf("failed to insert history event: %w", err)
	}
	event.Identifier = identifier

	if event.ValidatorIndex != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO eth_staking_events_info (identifier, validator_index, is_exit_or_blocknumber)
			VALUES ($1, $2, $3)
			ON CONFLICT (identifier) DO NOTHING`,
			identifier, *event.ValidatorIndex, event.ExitOrBlockNumber,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert staking event info: %w", err)
		}
	}

	for name, value := range mappings {
		_, err = tx.Exec(ctx, `
			INSERT INTO history_events_mappings (parent_identifier, name, value)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			identifier, name, value,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert event mapping: %w", err)
		}
	}

	return identifier, nil
}

// EditEvent updates all fields of an event except extra_data and tags it as
// customized so re-decoding never overwrites it. Editing into an existing
// (event_identifier, sequence_index) pair is a conflict; editing a missing
// row is not-found. Both surface as typed input errors.
func (r *HistoryEventsRepository) EditEvent(ctx context.Context, event *models.HistoryEvent) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE history_events SET
			event_identifier = $1, sequence_index = $2, timestamp = $3, location = $4,
			location_label = $5, asset = $6, amount = $7, usd_value = $8, notes = $9,
			type = $10, subtype = $11, counterparty = $12, product = $13,
			address = $14, tx_hash = $15
		WHERE identifier = $16`,
		event.EventIdentifier,
		event.SequenceIndex,
		int64(event.Timestamp),
		string(event.Location),
		event.LocationLabel,
		event.Asset,
		event.Amount.String(),
		event.USDValue.String(),
		event.Notes,
		string(event.Type),
		string(event.SubType),
		event.Counterparty,
		event.Product,
		addressText(event.Address),
		hashText(event.TxHash),
		event.Identifier,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return lederrors.NewEventGroupConflictError(event.EventIdentifier, event.SequenceIndex)
		}
		return fmt.Errorf("failed to edit history event: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return lederrors.NewEventNotFoundError(event.Identifier)
	}

	if event.ValidatorIndex != nil {
		_, err = tx.Exec(ctx, `
			UPDATE eth_staking_events_info SET validator_index = $1, is_exit_or_blocknumber = $2
			WHERE identifier = $3`,
			*event.ValidatorIndex, event.ExitOrBlockNumber, event.Identifier,
		)
		if err != nil {
			return fmt.Errorf("failed to edit staking event info: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO history_events_mappings (parent_identifier, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		event.Identifier, mappingKeyState, mappingStateCustomized,
	)
	if err != nil {
		return fmt.Errorf("failed to tag event as customized: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event edit: %w", err)
	}
	r.invalidateStats(ctx)
	return nil
}

// DeleteEventsByIdentifier deletes the given events with all-or-nothing
// semantics. Deleting the sole remaining event of a group is refused, as is
// a missing identifier; either rolls back every deletion in the call.
func (r *HistoryEventsRepository) DeleteEventsByIdentifier(ctx context.Context, identifiers []int64) error {
	if len(identifiers) == 0 {
		return nil
	}
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, identifier := range identifiers {
		var groupSize int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM history_events WHERE event_identifier = (
				SELECT event_identifier FROM history_events WHERE identifier = $1
			)`, identifier,
		).Scan(&groupSize)
		if err != nil {
			return fmt.Errorf("failed to check event group size: %w", err)
		}
		if groupSize == 1 {
			return lederrors.NewLastEventOfGroupError(identifier)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM history_events WHERE identifier = $1`, identifier)
		if err != nil {
			return fmt.Errorf("failed to delete history event: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return lederrors.NewEventNotFoundError(identifier)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event deletions: %w", err)
	}
	r.invalidateStats(ctx)
	return nil
}

// DeleteEventsByTxHash removes all events decoded from the given
// transactions except customized ones. Used before re-decoding so manual
// edits survive.
func (r *HistoryEventsRepository) DeleteEventsByTxHash(ctx context.Context, txHashes []common.Hash) error {
	if len(txHashes) == 0 {
		return nil
	}
	customized, err := r.GetCustomizedEventIdentifiers(ctx, nil)
	if err != nil {
		return err
	}

	query := "DELETE FROM history_events WHERE tx_hash IN (" + strings.Repeat("?,", len(txHashes)-1) + "?)"
	bindings := make([]interface{}, 0, len(txHashes)+len(customized))
	for _, hash := range txHashes {
		bindings = append(bindings, hash.Hex())
	}
	if len(customized) > 0 {
		query += " AND identifier NOT IN (" + strings.Repeat("?,", len(customized)-1) + "?)"
		for _, id := range customized {
			bindings = append(bindings, id)
		}
	}

	if _, err := r.db.Pool().Exec(ctx, rebindPositional(query), bindings...); err != nil {
		return fmt.Errorf("failed to delete events by tx hash: %w", err)
	}
	r.invalidateStats(ctx)
	return nil
}

// GetCustomizedEventIdentifiers returns the identifiers of all manually
// edited events, optionally restricted to one location.
func (r *HistoryEventsRepository) GetCustomizedEventIdentifiers(ctx context.Context, location *types.Location) ([]int64, error) {
	query := `
		SELECT M.parent_identifier FROM history_events_mappings M
		JOIN history_events E ON E.identifier = M.parent_identifier
		WHERE M.name = $1 AND M.value = $2`
	bindings := []interface{}{mappingKeyState, mappingStateCustomized}
	if location != nil {
		query += " AND E.location = $3"
		bindings = append(bindings, string(*location))
	}

	rows, err := r.db.Pool().Query(ctx, query, bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customized events: %w", err)
	}
	defer rows.Close()

	var identifiers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan customized event id: %w", err)
		}
		identifiers = append(identifiers, id)
	}
	return identifiers, rows.Err()
}

// GetEvents returns events matching the filter. Unprivileged callers see
// only a bounded window of the most recent events before the filter
// applies. Rows that fail to deserialize are logged and dropped; the
// second return value is how many were dropped.
func (r *HistoryEventsRepository) GetEvents(ctx context.Context, q *filters.HistoryEventQuery, privileged bool) ([]*models.HistoryEvent, int, error) {
	suffix, bindings := q.Prepare(true)

	var query string
	if privileged {
		query = "SELECT " + eventColumns + " FROM history_events" + suffix
	} else {
		query = "SELECT * FROM (SELECT " + eventColumns + " FROM history_events " +
			"ORDER BY timestamp DESC, sequence_index ASC LIMIT ?) AS recent" + suffix
		bindings = append([]interface{}{r.freeLimit}, bindings...)
	}

	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history events: %w", err)
	}
	defer rows.Close()

	var events []*models.HistoryEvent
	skipped := 0
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			logging.WithError(err).Debug("Skipping undeserializable history event row")
			skipped++
			continue
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating history events: %w", err)
	}
	return events, skipped, nil
}

// GetEventsAndLimitInfo returns a page of events plus the total number of
// matches ignoring pagination, and the total a free window of entriesLimit
// rows would expose. With entriesLimit <= 0 the two counts are equal.
func (r *HistoryEventsRepository) GetEventsAndLimitInfo(ctx context.Context, q *filters.HistoryEventQuery, privileged bool, entriesLimit int) ([]*models.HistoryEvent, int, int64, int64, error) {
	events, skipped, err := r.GetEvents(ctx, q, privileged)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	countAll, countLimited, err := r.GetEventsCount(ctx, q, entriesLimit)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return events, skipped, countAll, countLimited, nil
}

// GetEventsCount counts filter matches ignoring pagination. The suffix is
// identical to the one the data query uses: pagination is the only
// difference between page and count.
func (r *HistoryEventsRepository) GetEventsCount(ctx context.Context, q *filters.HistoryEventQuery, entriesLimit int) (int64, int64, error) {
	suffix, bindings := q.Prepare(false)

	query := "SELECT COUNT(*) FROM (SELECT identifier FROM history_events" + suffix + ") AS matched"
	var countAll int64
	err := r.db.Pool().QueryRow(ctx, rebindPositional(query), bindings...).Scan(&countAll)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count history events: %w", err)
	}
	if entriesLimit <= 0 {
		return countAll, countAll, nil
	}

	query = "SELECT COUNT(*) FROM (SELECT * FROM (SELECT " + eventColumns + " FROM history_events " +
		"ORDER BY timestamp DESC, sequence_index ASC LIMIT ?) AS recent" + suffix + ") AS matched"
	limitedBindings := append([]interface{}{entriesLimit}, bindings...)
	var countLimited int64
	err = r.db.Pool().QueryRow(ctx, rebindPositional(query), limitedBindings...).Scan(&countLimited)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count limited history events: %w", err)
	}
	return countAll, countLimited, nil
}

// GetValueStats sums USD value overall and amount/USD value per asset under
// the same filter, without ordering or pagination. Results are cached; any
// event write invalidates the cache.
func (r *HistoryEventsRepository) GetValueStats(ctx context.Context, q *filters.HistoryEventQuery) (*models.ValueStats, error) {
	stripped := q.Query
	stripped.Order = nil
	stripped.Pagination = nil
	suffix, bindings := stripped.Prepare(false)

	if r.statsCache != nil {
		if cached, found := r.statsCache.Get(ctx, suffix, bindings); found {
			return cached, nil
		}
	}

	stats := &models.ValueStats{TotalUSDValue: decimal.Zero}

	query := "SELECT COALESCE(SUM(CAST(usd_value AS NUMERIC)), 0)::text FROM history_events" + suffix
	var totalRaw string
	err := r.db.Pool().QueryRow(ctx, rebindPositional(query), bindings...).Scan(&totalRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to sum event usd values: %w", err)
	}
	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		logging.WithField("value", totalRaw).Error("Invalid usd value sum in history events stats")
	} else {
		stats.TotalUSDValue = total
	}

	query = "SELECT asset, SUM(CAST(amount AS NUMERIC))::text, SUM(CAST(usd_value AS NUMERIC))::text " +
		"FROM history_events" + suffix + " GROUP BY asset"
	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-asset stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var asset, amountRaw, usdRaw string
		if err := rows.Scan(&asset, &amountRaw, &usdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan asset stats: %w", err)
		}
		amount, err := decimal.NewFromString(amountRaw)
		if err != nil {
			logging.WithField("value", amountRaw).Debug("Skipping asset stat with invalid amount")
			continue
		}
		usdValue, err := decimal.NewFromString(usdRaw)
		if err != nil {
			logging.WithField("value", usdRaw).Debug("Skipping asset stat with invalid usd value")
			continue
		}
		stats.ByAsset = append(stats.ByAsset, models.AssetValueStat{
			Asset:    asset,
			Amount:   amount,
			USDValue: usdValue,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset stats: %w", err)
	}

	if r.statsCache != nil {
		if err := r.statsCache.Set(ctx, suffix, bindings, stats); err != nil {
			logging.WithError(err).Debug("Failed to cache value stats")
		}
	}
	return stats, nil
}

// RowsMissingPrices returns events whose USD value is still zero and needs
// a price lookup. Rows with a corrupt amount are logged and skipped.
func (r *HistoryEventsRepository) RowsMissingPrices(ctx context.Context, q *filters.HistoryEventQuery) ([]models.MissingPriceRow, error) {
	priced := q.Query
	priced.Order = nil
	priced.Pagination = nil
	priced.Filters = append(append([]filters.Filter{}, priced.Filters...),
		&filters.StringFilter{Column: "usd_value", Value: "0"},
	)
	suffix, bindings := priced.Prepare(false)

	query := "SELECT identifier, amount, asset, timestamp FROM history_events" + suffix
	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events missing prices: %w", err)
	}
	defer rows.Close()

	var result []models.MissingPriceRow
	for rows.Next() {
		var (
			identifier int64
			amountRaw  string
			asset      string
			timestamp  int64
		)
		if err := rows.Scan(&identifier, &amountRaw, &asset, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan missing price row: %w", err)
		}
		amount, err := decimal.NewFromString(amountRaw)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"identifier": identifier,
				"amount":     amountRaw,
			}).Error("Skipping missing-price row with invalid amount")
			continue
		}
		result = append(result, models.MissingPriceRow{
			Identifier: identifier,
			Amount:     amount,
			Asset:      asset,
			Timestamp:  types.TimestampMS(timestamp).ToSeconds(),
		})
	}
	return result, rows.Err()
}

// GetEventAssets returns the distinct assets of events matching the filter.
func (r *HistoryEventsRepository) GetEventAssets(ctx context.Context, q *filters.HistoryEventQuery) ([]string, error) {
	suffix, bindings := q.Prepare(false)
	query := "SELECT DISTINCT asset FROM history_events" + suffix

	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, fmt.Errorf("failed to scan event asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// ForEachEvent streams events matching the filter in ascending
// (timestamp, sequence_index) order, the order the balance processor
// depends on. Any Order on the filter is ignored. Rows that fail to
// deserialize are logged and skipped; fn returning an error stops the scan.
func (r *HistoryEventsRepository) ForEachEvent(ctx context.Context, q *filters.HistoryEventQuery, fn func(*models.HistoryEvent) error) error {
	stripped := q.Query
	stripped.Order = nil
	stripped.Pagination = nil
	suffix, bindings := stripped.Prepare(false)

	query := "SELECT " + eventColumns + " FROM history_events" + suffix +
		" ORDER BY timestamp ASC, sequence_index ASC"
	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return fmt.Errorf("failed to stream history events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			logging.WithError(err).Debug("Skipping undeserializable history event row")
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scanEvent materializes one history event row.
func scanEvent(rows pgx.Rows) (*models.HistoryEvent, error) {
	var (
		event         models.HistoryEvent
		timestamp     int64
		location      string
		eventType     string
		subType       string
		amountRaw     string
		usdRaw        string
		locationLabel *string
		notes         *string
		counterparty  *string
		product       *string
		addressRaw    *string
		txHashRaw     *string
		extraRaw      *string
	)
	err := rows.Scan(
		&event.Identifier,
		&event.EventIdentifier,
		&event.SequenceIndex,
		&timestamp,
		&location,
		&locationLabel,
		&event.Asset,
		&amountRaw,
		&usdRaw,
		&notes,
		&eventType,
		&subType,
		&counterparty,
		&product,
		&addressRaw,
		&txHashRaw,
		&extraRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan history event: %w", err)
	}

	event.Timestamp = types.TimestampMS(timestamp)
	event.Location = types.Location(location)
	event.Type = types.EventType(eventType)
	event.SubType = types.EventSubType(subType)
	if locationLabel != nil {
		event.LocationLabel = *locationLabel
	}
	if notes != nil {
		event.Notes = *notes
	}
	if counterparty != nil {
		event.Counterparty = *counterparty
	}
	if product != nil {
		event.Product = *product
	}

	if event.Amount, err = decimal.NewFromString(amountRaw); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amountRaw, err)
	}
	if event.USDValue, err = decimal.NewFromString(usdRaw); err != nil {
		return nil, fmt.Errorf("invalid usd value %q: %w", usdRaw, err)
	}

	if addressRaw != nil {
		if !common.IsHexAddress(*addressRaw) {
			return nil, fmt.Errorf("invalid address %q", *addressRaw)
		}
		address := common.HexToAddress(*addressRaw)
		event.Address = &address
	}
	if txHashRaw != nil {
		hash := common.HexToHash(*txHashRaw)
		event.TxHash = &hash
	}
	if extraRaw != nil && *extraRaw != "" {
		if err := json.Unmarshal([]byte(*extraRaw), &event.ExtraData); err != nil {
			return nil, fmt.Errorf("invalid extra data: %w", err)
		}
	}

	return &event, nil
}

// marshalExtraData serializes the free-form payload, mapping nil to NULL.
func marshalExtraData(extra map[string]interface{}) (*string, error) {
	if extra == nil {
		return nil, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra data: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func addressText(address *common.Address) *string {
	if address == nil {
		return nil
	}
	s := address.Hex()
	return &s
}

func hashText(hash *common.Hash) *string {
	if hash == nil {
		return nil
	}
	s := hash.Hex()
	return &s
}
