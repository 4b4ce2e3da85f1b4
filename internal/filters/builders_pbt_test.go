package filters

import (
	"strings"
	"testing"

	"github.com/chain-ledger/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: however criteria combine, the rendered suffix always has
// exactly one `?` per binding, and WHERE appears iff any constraint
// rendered.
func TestHistoryEventQueryPlaceholderInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genStrings := gen.SliceOfN(3, gen.AlphaString()).Map(func(values []string) []string {
		var out []string
		for _, v := range values {
			if v != "" {
				out = append(out, v)
			}
		}
		return out
	})

	properties.Property("placeholder count equals binding count", prop.ForAll(
		func(fromTs, toTs int64, assets, labels []string, excludeIgnored bool, limit, offset int) bool {
			params := HistoryEventParams{
				Assets:               assets,
				LocationLabels:       labels,
				ExcludeIgnoredAssets: excludeIgnored,
			}
			if fromTs >= 0 {
				params.FromTs = &fromTs
			}
			if toTs >= 0 {
				params.ToTs = &toTs
			}
			if limit > 0 {
				params.Pagination = &Pagination{Limit: limit, Offset: offset}
			}

			hasConstraint := fromTs >= 0 || toTs >= 0 || len(assets) > 0 || len(labels) > 0 || excludeIgnored

			q := NewHistoryEventQuery(params)
			for _, withPagination := range []bool{true, false} {
				suffix, bindings := q.Prepare(withPagination)
				if strings.Count(suffix, "?") != len(bindings) {
					return false
				}
				if strings.Contains(suffix, "WHERE") != hasConstraint {
					return false
				}
			}
			return true
		},
		gen.Int64Range(-1, 1<<40),
		gen.Int64Range(-1, 1<<40),
		genStrings,
		genStrings,
		gen.Bool(),
		gen.IntRange(0, 100),
		gen.IntRange(0, 1000),
	))

	properties.Property("daily stats query placeholder invariant", prop.ForAll(
		func(validators []uint64, fromTs int64) bool {
			params := DailyStatsParams{Validators: validators}
			if fromTs >= 0 {
				params.FromTs = &fromTs
			}
			q := NewDailyStatsQuery(params)
			suffix, bindings := q.Prepare(true)
			return strings.Count(suffix, "?") == len(bindings)
		},
		gen.SliceOf(gen.UInt64Range(0, 1_000_000)),
		gen.Int64Range(-1, 1<<34),
	))

	properties.TestingRun(t)
}

// Property: direction never disagrees between the type-level default and
// the override table for subtypes the override table covers.
func TestDirectionResolutionIsTotal(t *testing.T) {
	eventTypes := []types.EventType{
		types.EventTypeTrade, types.EventTypeStaking, types.EventTypeDeposit,
		types.EventTypeWithdrawal, types.EventTypeTransfer, types.EventTypeSpend,
		types.EventTypeReceive, types.EventTypeAdjustment, types.EventTypeInformational,
		types.EventTypeMigrate,
	}
	subTypes := []types.EventSubType{
		types.SubTypeNone, types.SubTypeFee, types.SubTypeSpend, types.SubTypeReceive,
		types.SubTypeReward, types.SubTypeDepositAsset, types.SubTypeRemoveAsset,
		types.SubTypeReceiveWrapped, types.SubTypeReturnWrapped, types.SubTypeGenerateDebt,
		types.SubTypePaybackDebt,
	}

	for _, et := range eventTypes {
		for _, st := range subTypes {
			direction := types.DirectionOf(et, st)
			switch direction {
			case types.DirectionIn, types.DirectionOut, types.DirectionNeutral:
			default:
				t.Errorf("DirectionOf(%s, %s) returned invalid direction %d", et, st, direction)
			}
		}
	}
}
