package voice

import (
	"context"
	"fmt"
	"sort"

	"navvoice/internal/mangle"

	"github.com/google/mangle/ast"
)

// Querier answers single goals against a rule base.
type Querier interface {
	Query(ctx context.Context, goal mangle.Goal) (mangle.Binding, bool, error)
}

// SupportedVersions is the sorted set of rule base versions the host understands.
type SupportedVersions []int

// NewSupportedVersions sorts and deduplicates vs.
func NewSupportedVersions(vs ...int) SupportedVersions {
	out := append([]int(nil), vs...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return SupportedVersions(out[:n])
}

// Contains reports exact membership.
func (s SupportedVersions) Contains(v int) bool {
	i := sort.SearchInts(s, v)
	return i < len(s) && s[i] == v
}

// Certify reads version/1 and checks it against supported. Only a missing, non-numeric or
// unsupported version wraps ErrUnsupportedVersion. Query failures are returned as they are.
func Certify(ctx context.Context, q Querier, supported SupportedVersions) (int, error) {
	binding, found, err := q.Query(ctx, mangle.Goal{Predicate: "version", Args: []any{mangle.Var("V")}})
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("%w: no version fact", ErrUnsupportedVersion)
	}
	c := binding["V"]
	if c.Type != ast.NumberType {
		return 0, fmt.Errorf("%w: version %s is not a number", ErrUnsupportedVersion, c)
	}
	v := int(c.NumValue)
	if !supported.Contains(v) {
		return 0, fmt.Errorf("%w: version %d not in %v", ErrUnsupportedVersion, v, []int(supported))
	}
	return v, nil
}

// selfLanguage reads language/1 when the pack declares its own language.
func selfLanguage(ctx context.Context, q Querier) (string, bool) {
	binding, found, err := q.Query(ctx, mangle.Goal{Predicate: "language", Args: []any{mangle.Var("L")}})
	if err != nil || !found {
		return "", false
	}
	c := binding["L"]
	switch c.Type {
	case ast.NameType:
		return symbolName(c), true
	case ast.StringType:
		return c.Symbol, c.Symbol != ""
	}
	return "", false
}
