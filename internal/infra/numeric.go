package infra

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// NumericToDecimal converts a pgtype.Numeric (PostgreSQL numeric(18,2)) to a decimal.
// Returns an error if the value is NULL, NaN or infinite.
func NumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN {
		return decimal.Zero, fmt.Errorf("numeric value is NaN")
	}
	if n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("numeric value is infinite")
	}
	if n.Int == nil {
		return decimal.Zero, nil
	}
	// pgtype.Numeric stores value as Int * 10^Exp, same as decimal.
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// NullableNumericToDecimal returns nil for a NULL numeric.
func NullableNumericToDecimal(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	d, err := NumericToDecimal(n)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DecimalToNumeric converts a decimal for writing to a PostgreSQL numeric column.
func DecimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              d.Coefficient(),
		Exp:              d.Exponent(),
		NaN:              false,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}
