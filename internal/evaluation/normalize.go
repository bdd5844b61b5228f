package evaluation

import (
	"encoding/json"

	"github.com/scoundrel-labs/scoundrel/pkg/helpers"
)

// Field length ceilings for free-form strings, mirroring the column sizes
// the trade ledger uses for similarly free-form fields.
const (
	maxAliasLen    = 128
	maxSymbolLen   = 32
	maxStrategyLen = 128
	maxRegimeLen   = 32
	maxSeverityLen = 64
	maxReasonLen   = 2048
)

func normalizeStrings(e *Input) {
	e.WalletAlias = helpers.ClampString(e.WalletAlias, maxAliasLen)
	e.Symbol = helpers.ClampString(e.Symbol, maxSymbolLen)
	e.StrategyName = helpers.ClampString(e.StrategyName, maxStrategyLen)
	e.StrategySource = helpers.ClampString(e.StrategySource, maxStrategyLen)
	e.Regime = helpers.ClampString(e.Regime, maxRegimeLen)
	e.QualifyWorstSeverity = helpers.ClampString(e.QualifyWorstSeverity, maxSeverityLen)
	e.ChartInterval = helpers.ClampString(e.ChartInterval, maxSymbolLen)
}

// encodeJSON marshals v, returning "" for a nil v or one that marshals to
// JSON null (a nil map, slice or pointer) rather than the literal "null" so
// the column stays genuinely empty.
func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	s := string(b)
	if s == "null" {
		return "", nil
	}
	return s, nil
}
