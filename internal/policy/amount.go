package policy

import (
	"fmt"
	"math/big"
	"strings"
)

// DivisibleDecimals is the precision of a divisible ledger asset.
// Indivisible assets carry zero decimals.
const DivisibleDecimals = 8

// Row is one balance entry for an address, as returned by the ledger
// balance source. Quantities are already atomic units.
type Row struct {
	Quantity  uint64
	Divisible bool
}

// Aggregate sums the rows into one atomic total. If any contributing row
// is indivisible the whole holding is treated as indivisible.
func Aggregate(rows []Row) (*big.Int, uint8) {
	total := new(big.Int)
	decimals := uint8(DivisibleDecimals)
	for _, row := range rows {
		total.Add(total, new(big.Int).SetUint64(row.Quantity))
		if !row.Divisible {
			decimals = 0
		}
	}
	if len(rows) == 0 {
		decimals = DivisibleDecimals
	}
	return total, decimals
}

// ToAtomic converts a human-readable amount like "1.5" into atomic units
// at the given precision. Extra fractional digits are floor-truncated,
// never rounded up.
func ToAtomic(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount %q", amount)
	}

	intPart := amount
	fracPart := ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		intPart, fracPart = amount[:i], amount[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}

	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, fmt.Errorf("bad integer part %q", intPart)
	}

	// Right-pad or truncate the fraction to the asset's precision.
	if len(fracPart) > int(decimals) {
		fracPart = fracPart[:decimals]
	}
	for len(fracPart) < int(decimals) {
		fracPart += "0"
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	atomic := whole.Mul(whole, scale)
	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return nil, fmt.Errorf("bad fractional part %q", fracPart)
		}
		atomic.Add(atomic, frac)
	}
	return atomic, nil
}

// Passes reports whether the aggregated rows satisfy a token policy's
// minimum. Basic policies pass with any verified address and ignore rows.
func Passes(rows []Row, p Policy) (bool, error) {
	if p.Basic() {
		return true, nil
	}
	total, decimals := Aggregate(rows)
	required, err := ToAtomic(p.MinAmount, decimals)
	if err != nil {
		return false, fmt.Errorf("policy minimum %q: %w", p.MinAmount, err)
	}
	return total.Cmp(required) >= 0, nil
}
