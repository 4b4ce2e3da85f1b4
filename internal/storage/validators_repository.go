package storage

import (
	"context"
	"fmt"
	"strings"

	lederrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Staleness windows for deciding which validators need fresh data from the
// beacon chain. Withdrawals settle slower than daily stats, hence the
// wider window.
const (
	statsQueryStaleness       = 2 * types.DayInSeconds
	withdrawalsQueryStaleness = 3 * types.DayInSeconds
)

// ValidatorsRepository manages tracked eth2 validators, their daily
// staking stats and exit bookkeeping.
type ValidatorsRepository struct {
	db *PostgresDB
}

// NewValidatorsRepository creates a new validators repository.
func NewValidatorsRepository(db *PostgresDB) *ValidatorsRepository {
	return &ValidatorsRepository{db: db}
}

// AddValidators inserts validators, silently skipping any that are already
// tracked by index or public key.
func (r *ValidatorsRepository) AddValidators(ctx context.Context, validators []*models.Validator) error {
	if len(validators) == 0 {
		return nil
	}
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, validator := range validators {
		_, err = tx.Exec(ctx, `
			INSERT INTO eth2_validators (validator_index, public_key, ownership_proportion, withdrawal_address)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			validator.Index,
			validator.PublicKey,
			validator.OwnershipProportion.String(),
			validator.WithdrawalAddress,
		)
		if err != nil {
			return fmt.Errorf("failed to insert validator: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit validator inserts: %w", err)
	}
	return nil
}

// EditValidator updates the ownership proportion of a tracked validator.
// Stored stats stay untouched: the proportion is applied at read time, so
// an edit retroactively rescales all profit figures.
func (r *ValidatorsRepository) EditValidator(ctx context.Context, index uint64, ownershipProportion decimal.Decimal) error {
	if ownershipProportion.LessThanOrEqual(decimal.Zero) || ownershipProportion.GreaterThan(decimal.NewFromInt(1)) {
		return lederrors.NewOwnershipProportionError(ownershipProportion.String())
	}
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE eth2_validators SET ownership_proportion = $1 WHERE validator_index = $2`,
		ownershipProportion.String(), index,
	)
	if err != nil {
		return fmt.Errorf("failed to edit validator: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return lederrors.NewValidatorNotFoundError(index)
	}
	return nil
}

// DeleteValidators removes the given validators along with their daily
// stats and their staking events, except deposit events which remain part
// of general account history. All validators must exist or nothing is
// deleted.
func (r *ValidatorsRepository) DeleteValidators(ctx context.Context, indices []uint64) error {
	if len(indices) == 0 {
		return nil
	}
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, index := range indices {
		tag, err := tx.Exec(ctx, `DELETE FROM eth2_validators WHERE validator_index = $1`, index)
		if err != nil {
			return fmt.Errorf("failed to delete validator: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return lederrors.NewValidatorNotFoundError(index)
		}
	}

	placeholders := strings.Repeat("?,", len(indices)-1) + "?"
	bindings := make([]interface{}, 0, len(indices))
	for _, index := range indices {
		bindings = append(bindings, index)
	}

	_, err = tx.Exec(ctx, rebindPositional(
		"DELETE FROM eth2_daily_staking_details WHERE validator_index IN ("+placeholders+")",
	), bindings...)
	if err != nil {
		return fmt.Errorf("failed to delete validator daily stats: %w", err)
	}

	eventBindings := append([]interface{}{string(types.EventTypeStaking), string(types.SubTypeDepositAsset)}, bindings...)
	_, err = tx.Exec(ctx, rebindPositional(`
		DELETE FROM history_events WHERE identifier IN (
			SELECT E.identifier FROM history_events E
			JOIN eth_staking_events_info S ON S.identifier = E.identifier
			WHERE E.type = ? AND E.subtype != ? AND S.validator_index IN (`+placeholders+`)
		)`), eventBindings...)
	if err != nil {
		return fmt.Errorf("failed to delete validator staking events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit validator deletions: %w", err)
	}
	return nil
}

// ValidatorExists reports whether a validator with the given public key is
// tracked.
func (r *ValidatorsRepository) ValidatorExists(ctx context.Context, publicKey string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM eth2_validators WHERE public_key = $1)`, publicKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check validator existence: %w", err)
	}
	return exists, nil
}

// GetValidators returns all tracked validators ordered by index.
func (r *ValidatorsRepository) GetValidators(ctx context.Context) ([]*models.Validator, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT validator_index, public_key, ownership_proportion, withdrawal_address
		FROM eth2_validators ORDER BY validator_index ASC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("failed to query validators: %w", err)
	}
	defer rows.Close()

	var validators []*models.Validator
	for rows.Next() {
		var (
			validator     models.Validator
			proportionRaw string
			withdrawal    *string
		)
		if err := rows.Scan(&validator.Index, &validator.PublicKey, &proportionRaw, &withdrawal); err != nil {
			return nil, fmt.Errorf("failed to scan validator: %w", err)
		}
		proportion, err := decimal.NewFromString(proportionRaw)
		if err != nil {
			logging.WithField("value", proportionRaw).Error("Skipping validator with invalid ownership proportion")
			continue
		}
		validator.OwnershipProportion = proportion
		if withdrawal != nil {
			validator.WithdrawalAddress = *withdrawal
		}
		validators = append(validators, &validator)
	}
	return validators, rows.Err()
}

// GetValidatorsToQueryForStats returns the validators whose daily stats
// are stale, each with the timestamp of its last known stat. Validators
// with no stats at all are included with timestamp zero. upTo is the
// current time in seconds.
func (r *ValidatorsRepository) GetValidatorsToQueryForStats(ctx context.Context, upTo types.Timestamp) ([]models.ValidatorQueryTarget, error) {
	cutoff := int64(upTo) - statsQueryStaleness
	rows, err := r.db.Pool().Query(ctx, `
		SELECT D.validator_index, MAX(D.timestamp) FROM eth2_daily_staking_details D
		JOIN eth2_validators V ON V.validator_index = D.validator_index
		GROUP BY D.validator_index HAVING MAX(D.timestamp) < $1
		UNION
		SELECT V.validator_index, 0 FROM eth2_validators V
		WHERE V.validator_index IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM eth2_daily_staking_details D WHERE D.validator_index = V.validator_index
		)
		ORDER BY 1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale validators: %w", err)
	}
	defer rows.Close()

	var targets []models.ValidatorQueryTarget
	for rows.Next() {
		var target models.ValidatorQueryTarget
		var last int64
		if err := rows.Scan(&target.ValidatorIndex, &last); err != nil {
			return nil, fmt.Errorf("failed to scan stale validator: %w", err)
		}
		target.LastTimestamp = types.Timestamp(last)
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// GetValidatorsToQueryForWithdrawals returns validators whose withdrawal
// events are stale, with the timestamp of the last seen withdrawal in
// seconds. Exited validators with their exit already recorded are not
// returned.
func (r *ValidatorsRepository) GetValidatorsToQueryForWithdrawals(ctx context.Context, upTo types.Timestamp) ([]models.ValidatorQueryTarget, error) {
	cutoffMS := (int64(upTo) - withdrawalsQueryStaleness) * 1000
	rows, err := r.db.Pool().Query(ctx, `
		SELECT S.validator_index, MAX(E.timestamp) FROM eth_staking_events_info S
		JOIN history_events E ON E.identifier = S.identifier
		JOIN eth2_validators V ON V.validator_index = S.validator_index
		WHERE E.type = $1 AND E.subtype = $2
		GROUP BY S.validator_index
		HAVING MAX(E.timestamp) < $3 AND MAX(S.is_exit_or_blocknumber) = 0
		UNION
		SELECT V.validator_index, 0 FROM eth2_validators V
		WHERE V.validator_index IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM eth_staking_events_info S
			JOIN history_events E ON E.identifier = S.identifier
			WHERE S.validator_index = V.validator_index AND E.type = $1 AND E.subtype = $2
		)
		ORDER BY 1`,
		string(types.EventTypeStaking), string(types.SubTypeRemoveAsset), cutoffMS)
	if err != nil {
		return nil, fmt.Errorf("failed to query validators for withdrawals: %w", err)
	}
	defer rows.Close()

	var targets []models.ValidatorQueryTarget
	for rows.Next() {
		var target models.ValidatorQueryTarget
		var lastMS int64
		if err := rows.Scan(&target.ValidatorIndex, &lastMS); err != nil {
			return nil, fmt.Errorf("failed to scan validator withdrawal target: %w", err)
		}
		target.LastTimestamp = types.TimestampMS(lastMS).ToSeconds()
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// AddDailyStats stores daily staking stats, skipping any
// (validator_index, day) pair already present.
func (r *ValidatorsRepository) AddDailyStats(ctx context.Context, stats []*models.ValidatorDailyStats) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, stat := range stats {
		tag, err := tx.Exec(ctx, `
			INSERT INTO eth2_daily_staking_details (validator_index, timestamp, pnl)
			VALUES ($1, $2, $3)
			ON CONFLICT (validator_index, timestamp) DO NOTHING`,
			stat.ValidatorIndex, int64(stat.Timestamp), stat.PnL.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert daily stat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			logging.WithFields(map[string]interface{}{
				"validator_index": stat.ValidatorIndex,
				"timestamp":       int64(stat.Timestamp),
			}).Debug("Skipping already-stored daily stat")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit daily stats: %w", err)
	}
	return nil
}

// GetDailyStats returns daily staking stats matching the filter, with each
// PnL scaled by the validator's current ownership proportion, plus the
// unpaginated match count and the proportioned PnL sum of all matches.
func (r *ValidatorsRepository) GetDailyStats(ctx context.Context, q *filters.DailyStatsQuery) ([]*models.ValidatorDailyStats, int64, decimal.Decimal, error) {
	suffix, bindings := q.Prepare(true)
	query := `SELECT validator_index, D.timestamp, D.pnl, V.ownership_proportion
		FROM eth2_daily_staking_details D
		JOIN eth2_validators V USING (validator_index)` + suffix

	rows, err := r.db.Pool().Query(ctx, rebindPositional(query), bindings...)
	if err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ValidatorDailyStats
	for rows.Next() {
		stat, err := scanDailyStat(rows)
		if err != nil {
			logging.WithError(err).Debug("Skipping undeserializable daily stat row")
			continue
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("error iterating daily stats: %w", err)
	}

	countSuffix, countBindings := q.Prepare(false)
	var count int64
	totalPnL := decimal.Zero
	countQuery := `SELECT COUNT(*) FROM (
		SELECT validator_index FROM eth2_daily_staking_details D
		JOIN eth2_validators V USING (validator_index)` + countSuffix + `) AS matched`
	err = r.db.Pool().QueryRow(ctx, rebindPositional(countQuery), countBindings...).Scan(&count)
	if err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("failed to count daily stats: %w", err)
	}

	sumQuery := `SELECT COALESCE(SUM(CAST(D.pnl AS NUMERIC) * CAST(V.ownership_proportion AS NUMERIC)), 0)::text
		FROM eth2_daily_staking_details D
		JOIN eth2_validators V USING (validator_index)` + countSuffix
	var sumRaw string
	err = r.db.Pool().QueryRow(ctx, rebindPositional(sumQuery), countBindings...).Scan(&sumRaw)
	if err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("failed to sum daily stats pnl: %w", err)
	}
	if totalPnL, err = decimal.NewFromString(sumRaw); err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("invalid pnl sum %q: %w", sumRaw, err)
	}

	return stats, count, totalPnL, nil
}

type dailyStatScanner interface {
	Scan(dest ...interface{}) error
}

func scanDailyStat(row dailyStatScanner) (*models.ValidatorDailyStats, error) {
	var (
		stat          models.ValidatorDailyStats
		timestamp     int64
		pnlRaw        string
		proportionRaw string
	)
	if err := row.Scan(&stat.ValidatorIndex, &timestamp, &pnlRaw, &proportionRaw); err != nil {
		return nil, fmt.Errorf("failed to scan daily stat: %w", err)
	}
	stat.Timestamp = types.Timestamp(timestamp)

	pnl, err := decimal.NewFromString(pnlRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid pnl %q: %w", pnlRaw, err)
	}
	proportion, err := decimal.NewFromString(proportionRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid ownership proportion %q: %w", proportionRaw, err)
	}
	stat.PnL = pnl.Mul(proportion)
	return &stat, nil
}

// GetExitedValidatorIndices returns the indices of tracked validators
// whose exit event has been recorded.
func (r *ValidatorsRepository) GetExitedValidatorIndices(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT DISTINCT S.validator_index FROM eth_staking_events_info S
		JOIN history_events E ON E.identifier = S.identifier
		WHERE E.type = $1 AND E.subtype = $2 AND S.is_exit_or_blocknumber = 1`,
		string(types.EventTypeStaking), string(types.SubTypeRemoveAsset))
	if err != nil {
		return nil, fmt.Errorf("failed to query exited validators: %w", err)
	}
	defer rows.Close()

	var indices []uint64
	for rows.Next() {
		var index uint64
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("failed to scan exited validator: %w", err)
		}
		indices = append(indices, index)
	}
	return indices, rows.Err()
}

// GetValidatorsProfit sums withdrawal and execution-layer reward amounts
// for the given validators in the given window. Timestamps are seconds.
func (r *ValidatorsRepository) GetValidatorsProfit(ctx context.Context, indices []uint64, fromTs, toTs types.Timestamp) (models.ValidatorsProfit, error) {
	withdrawals, err := r.sumStakingEvents(ctx, indices, fromTs, toTs,
		[]string{string(types.EventTypeStaking)},
		[]string{string(types.SubTypeRemoveAsset)},
	)
	if err != nil {
		return models.ValidatorsProfit{}, err
	}
	execution, err := r.sumStakingEvents(ctx, indices, fromTs, toTs,
		[]string{string(types.EventTypeStaking)},
		[]string{string(types.SubTypeBlockProduction), string(types.SubTypeMEVReward)},
	)
	if err != nil {
		return models.ValidatorsProfit{}, err
	}
	return models.ValidatorsProfit{Withdrawals: withdrawals, ExecutionRewards: execution}, nil
}

func (r *ValidatorsRepository) sumStakingEvents(ctx context.Context, indices []uint64, fromTs, toTs types.Timestamp, eventTypes, subTypes []string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(CAST(E.amount AS NUMERIC)), 0)::text
		FROM history_events E
		JOIN eth_staking_events_info S ON S.identifier = E.identifier
		WHERE E.timestamp >= ? AND E.timestamp <= ?`
	bindings := []interface{}{int64(fromTs) * 1000, int64(toTs) * 1000}

	query += " AND E.type IN (" + strings.Repeat("?,", len(eventTypes)-1) + "?)"
	for _, t := range eventTypes {
		bindings = append(bindings, t)
	}
	query += " AND E.subtype IN (" + strings.Repeat("?,", len(subTypes)-1) + "?)"
	for _, s := range subTypes {
		bindings = append(bindings, s)
	}
	if len(indices) > 0 {
		query += " AND S.validator_index IN (" + strings.Repeat("?,", len(indices)-1) + "?)"
		for _, index := range indices {
			bindings = append(bindings, index)
		}
	}

	var sumRaw string
	err := r.db.Pool().QueryRow(ctx, rebindPositional(query), bindings...).Scan(&sumRaw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum staking events: %w", err)
	}
	sum, err := decimal.NewFromString(sumRaw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid staking sum %q: %w", sumRaw, err)
	}
	return sum, nil
}
