package postgres

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// toNumeric encodes a base-unit amount; nil becomes SQL NULL.
func toNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

// fromNumeric decodes an integral NUMERIC. pgx may return trailing zeros
// as a positive exponent.
func fromNumeric(n pgtype.Numeric) *big.Int {
	if !n.Valid || n.NaN || n.Int == nil {
		return nil
	}
	out := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// listClause appends time range and paging clauses for the given column.
func listClause(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		fmt.Fprintf(&b, " AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		fmt.Fprintf(&b, " AND %s < $%d", column, len(args))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", column)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func notFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
