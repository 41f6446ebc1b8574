// Package mangle hosts a voice pack's rule base on top of Google Mangle.
//
// A RuleBase owns the analysed program and a small host-owned EDB (runtime facts such as
// the current application mode). Goals are answered by evaluating the program to fixpoint
// over a private copy of the EDB, so queries never leave derived state behind.
package mangle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

var (
	// ErrCorrupt is wrapped by every payload parse, analysis or conversion failure.
	ErrCorrupt = errors.New("rule base corrupt")
	// ErrNotLoaded is returned by queries against a store with no program.
	ErrNotLoaded = errors.New("rule base not loaded")
)

// Config holds rule base configuration.
type Config struct {
	// FactLimit caps derived facts per evaluation, 0 means unlimited. A query abandoned on
	// ctx keeps evaluating in the background until fixpoint or this limit.
	FactLimit int `json:"fact_limit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FactLimit: 100000}
}

// Predicates the host asserts or seeds into goals. Payloads may declare them themselves.
var hostDecls = []string{
	"Decl app_mode(Mode).",
	"Decl measure(System).",
	"Decl command_seq(Commands).",
	"Decl command_count(N).",
	"Decl command(Pos, Name).",
	"Decl command_arg(Pos, Index, Value).",
}

// RuleBase is the store for one loaded voice-pack theory.
type RuleBase struct {
	config Config
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	edb         map[string][]ast.Atom
	lastEval    time.Duration
	evalCount   int
}

// Fact is a ground atom in Go terms.
type Fact struct {
	Predicate string `json:"predicate"`
	Args      []any  `json:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	atom, err := f.atom()
	if err != nil {
		return fmt.Sprintf("%s(<invalid: %v>).", f.Predicate, err)
	}
	return atom.String() + "."
}

func (f Fact) atom() (ast.Atom, error) {
	if f.Predicate == "" {
		return ast.Atom{}, fmt.Errorf("fact has no predicate")
	}
	args := make([]ast.BaseTerm, len(f.Args))
	for i, raw := range f.Args {
		c, err := ToConstant(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", f.Predicate, i, err)
		}
		args[i] = c
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(args)}, Args: args}, nil
}

// Var marks a goal argument as a variable to bind.
type Var string

// Goal is a single proof attempt. Given facts exist only while the goal is evaluated.
type Goal struct {
	Predicate string
	Args      []any
	Given     []Fact
}

// Binding maps goal variable names to the constants of the chosen solution.
type Binding map[string]ast.Constant

// Value returns the Go form of a bound variable.
func (b Binding) Value(name string) (any, bool) {
	c, ok := b[name]
	if !ok {
		return nil, false
	}
	return ConstantToValue(c), true
}

// Stats contains rule base statistics.
type Stats struct {
	Loaded          bool           `json:"loaded"`
	Rules           int            `json:"rules"`
	Declared        int            `json:"declared"`
	TotalFacts      int            `json:"total_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
	Evaluations     int            `json:"evaluations"`
	LastEval        time.Duration  `json:"last_eval"`
}

// NewRuleBase creates an empty, unloaded rule base.
func NewRuleBase(cfg Config, logger *zap.Logger) *RuleBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleBase{
		config: cfg,
		logger: logger,
		edb:    make(map[string][]ast.Atom),
	}
}

// Load parses and analyses payload, then asserts the runtime facts. The store becomes
// queryable only when every step succeeds.
func (r *RuleBase) Load(payload string, runtime []Fact) error {
	unit, err := parse.Unit(strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to parse rules: %v", ErrCorrupt, err)
	}

	declared := make(map[string]bool, len(unit.Decls))
	for _, decl := range unit.Decls {
		declared[decl.DeclaredAtom.Predicate.Symbol] = true
	}
	for _, text := range hostDecls {
		host, err := parse.Unit(strings.NewReader(text))
		if err != nil {
			return fmt.Errorf("%w: host declaration %q: %v", ErrCorrupt, text, err)
		}
		for _, decl := range host.Decls {
			if !declared[decl.DeclaredAtom.Predicate.Symbol] {
				unit.Decls = append(unit.Decls, decl)
			}
		}
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to analyze rules: %v", ErrCorrupt, err)
	}

	edb := make(map[string][]ast.Atom)
	for _, fact := range runtime {
		atom, err := fact.atom()
		if err != nil {
			return fmt.Errorf("%w: runtime fact: %v", ErrCorrupt, err)
		}
		addAtom(edb, atom)
	}

	r.mu.Lock()
	r.programInfo = programInfo
	r.edb = edb
	r.mu.Unlock()

	r.logger.Debug("rule base loaded",
		zap.Int("rules", len(programInfo.Rules)),
		zap.Int("initial_facts", len(programInfo.InitialFacts)),
		zap.Int("runtime_facts", len(runtime)))
	return nil
}

// Loaded reports whether a program is present.
func (r *RuleBase) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programInfo != nil
}

// Assert adds a fact to the EDB. Duplicates are skipped.
func (r *RuleBase) Assert(f Fact) error {
	atom, err := f.atom()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.programInfo == nil {
		return ErrNotLoaded
	}
	addAtom(r.edb, atom)
	return nil
}

// Retract removes every EDB fact of predicate and returns how many were removed.
func (r *RuleBase) Retract(predicate string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return retractLocked(r.edb, predicate)
}

// Clear drops the program and every fact.
func (r *RuleBase) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programInfo = nil
	r.edb = make(map[string][]ast.Atom)
}

// Facts returns the EDB facts of predicate in canonical order.
func (r *RuleBase) Facts(predicate string) []Fact {
	r.mu.RLock()
	atoms := append([]ast.Atom(nil), r.edb[predicate]...)
	r.mu.RUnlock()

	sortAtoms(atoms)
	facts := make([]Fact, 0, len(atoms))
	for _, atom := range atoms {
		facts = append(facts, atomToFact(atom))
	}
	return facts
}

// Stats returns rule base statistics.
func (r *RuleBase) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.edb))
	total := 0
	for pred, atoms := range r.edb {
		counts[pred] = len(atoms)
		total += len(atoms)
	}
	s := Stats{
		Loaded:          r.programInfo != nil,
		TotalFacts:      total,
		PredicateCounts: counts,
		Evaluations:     r.evalCount,
		LastEval:        r.lastEval,
	}
	if r.programInfo != nil {
		s.Rules = len(r.programInfo.Rules)
		s.Declared = len(r.programInfo.Decls)
	}
	return s
}

// Query runs one proof attempt for goal and returns the first solution in canonical order.
func (r *RuleBase) Query(ctx context.Context, goal Goal) (Binding, bool, error) {
	pattern, err := goalAtom(goal)
	if err != nil {
		return nil, false, err
	}
	given := make([]ast.Atom, 0, len(goal.Given))
	for _, f := range goal.Given {
		atom, err := f.atom()
		if err != nil {
			return nil, false, fmt.Errorf("given fact: %w", err)
		}
		given = append(given, atom)
	}

	r.mu.RLock()
	programInfo := r.programInfo
	var snapshot []ast.Atom
	for _, atoms := range r.edb {
		snapshot = append(snapshot, atoms...)
	}
	r.mu.RUnlock()

	if programInfo == nil {
		return nil, false, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("query %s: %w", goal.Predicate, err)
	}

	type outcome struct {
		binding Binding
		found   bool
		err     error
	}
	start := time.Now()
	done := make(chan outcome, 1)

	go func() {
		store := factstore.NewSimpleInMemoryStore()
		for _, atom := range snapshot {
			store.Add(atom)
		}
		for _, atom := range given {
			store.Add(atom)
		}

		var opts []mengine.EvalOption
		if r.config.FactLimit > 0 {
			opts = append(opts, mengine.WithCreatedFactLimit(r.config.FactLimit))
		}
		if _, err := mengine.EvalProgramWithStats(programInfo, store, opts...); err != nil {
			done <- outcome{err: fmt.Errorf("evaluate %s: %w", goal.Predicate, err)}
			return
		}

		var solutions []ast.Atom
		err := store.GetFacts(ast.NewQuery(pattern.Predicate), func(fact ast.Atom) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, ok := match(pattern, fact); ok {
				solutions = append(solutions, fact)
			}
			return nil
		})
		if err != nil {
			done <- outcome{err: err}
			return
		}
		if len(solutions) == 0 {
			done <- outcome{}
			return
		}
		sortAtoms(solutions)
		binding, _ := match(pattern, solutions[0])
		done <- outcome{binding: binding, found: true}
	}()

	select {
	case res := <-done:
		r.recordEval(time.Since(start))
		return res.binding, res.found, res.err
	case <-ctx.Done():
		r.logger.Warn("query abandoned",
			zap.String("goal", goal.Predicate),
			zap.Duration("elapsed", time.Since(start)))
		return nil, false, fmt.Errorf("query %s timed out after %v: %w", goal.Predicate, time.Since(start), ctx.Err())
	}
}

func (r *RuleBase) recordEval(d time.Duration) {
	r.mu.Lock()
	r.lastEval = d
	r.evalCount++
	r.mu.Unlock()
}

// Tx batches EDB changes that queries observe all at once.
type Tx struct {
	rb  *RuleBase
	ops []txOp
	err error
}

type txOp struct {
	retract string
	assert  *ast.Atom
}

// Transaction starts an empty transaction.
func (r *RuleBase) Transaction() *Tx {
	return &Tx{rb: r}
}

// Retract queues removal of every fact of predicate.
func (tx *Tx) Retract(predicate string) *Tx {
	tx.ops = append(tx.ops, txOp{retract: predicate})
	return tx
}

// Assert queues a fact. A conversion failure is reported by Commit.
func (tx *Tx) Assert(f Fact) *Tx {
	atom, err := f.atom()
	if err != nil {
		if tx.err == nil {
			tx.err = err
		}
		return tx
	}
	tx.ops = append(tx.ops, txOp{assert: &atom})
	return tx
}

// Commit applies the queued operations under one write lock.
func (tx *Tx) Commit() error {
	if tx.err != nil {
		return tx.err
	}
	r := tx.rb
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.programInfo == nil {
		return ErrNotLoaded
	}
	for _, op := range tx.ops {
		if op.assert != nil {
			addAtom(r.edb, *op.assert)
		} else {
			retractLocked(r.edb, op.retract)
		}
	}
	tx.ops = nil
	return nil
}

func addAtom(edb map[string][]ast.Atom, atom ast.Atom) bool {
	key := atom.String()
	for _, existing := range edb[atom.Predicate.Symbol] {
		if existing.String() == key {
			return false
		}
	}
	edb[atom.Predicate.Symbol] = append(edb[atom.Predicate.Symbol], atom)
	return true
}

func retractLocked(edb map[string][]ast.Atom, predicate string) int {
	n := len(edb[predicate])
	delete(edb, predicate)
	return n
}

func sortAtoms(atoms []ast.Atom) {
	sort.SliceStable(atoms, func(i, j int) bool {
		return atoms[i].String() < atoms[j].String()
	})
}

func goalAtom(goal Goal) (ast.Atom, error) {
	if goal.Predicate == "" {
		return ast.Atom{}, fmt.Errorf("empty goal")
	}
	args := make([]ast.BaseTerm, len(goal.Args))
	for i, raw := range goal.Args {
		if v, ok := raw.(Var); ok {
			args[i] = ast.Variable{Symbol: string(v)}
			continue
		}
		c, err := ToConstant(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("goal %s arg %d: %w", goal.Predicate, i, err)
		}
		args[i] = c
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: goal.Predicate, Arity: len(args)}, Args: args}, nil
}

// match unifies a goal pattern with a ground fact.
func match(pattern, fact ast.Atom) (Binding, bool) {
	if len(pattern.Args) != len(fact.Args) {
		return nil, false
	}
	binding := make(Binding)
	for i, arg := range pattern.Args {
		value, ok := fact.Args[i].(ast.Constant)
		if !ok {
			return nil, false
		}
		switch p := arg.(type) {
		case ast.Variable:
			if p.Symbol == "_" {
				continue
			}
			if prev, seen := binding[p.Symbol]; seen {
				if prev.String() != value.String() {
					return nil, false
				}
				continue
			}
			binding[p.Symbol] = value
		case ast.Constant:
			if p.String() != value.String() {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return binding, true
}

// ToConstant converts a Go value to a Mangle constant.
func ToConstant(value any) (ast.Constant, error) {
	switch v := value.(type) {
	case ast.Constant:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int32:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float32:
		return ast.Float64(float64(v)), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	case []string:
		constants := make([]ast.Constant, len(v))
		for i, item := range v {
			c, err := ToConstant(item)
			if err != nil {
				return ast.Constant{}, err
			}
			constants[i] = c
		}
		return ast.List(constants), nil
	case []any:
		constants := make([]ast.Constant, len(v))
		for i, item := range v {
			c, err := ToConstant(item)
			if err != nil {
				return ast.Constant{}, err
			}
			constants[i] = c
		}
		return ast.List(constants), nil
	case fmt.Stringer:
		return ast.String(v.String()), nil
	default:
		return ast.Constant{}, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

// ConstantToValue converts a Mangle constant back to Go: names keep their slash,
// lists become []any.
func ConstantToValue(c ast.Constant) any {
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	case ast.ListShape:
		elems, ok := ListElements(c)
		if !ok {
			return c.String()
		}
		values := make([]any, len(elems))
		for i, e := range elems {
			values[i] = ConstantToValue(e)
		}
		return values
	default:
		return c.String()
	}
}

// ListElements returns the elements of a list constant.
func ListElements(c ast.Constant) ([]ast.Constant, bool) {
	if c.Type != ast.ListShape {
		return nil, false
	}
	var elems []ast.Constant
	for !c.IsListNil() {
		head, tail, err := c.ConsValue()
		if err != nil {
			return nil, false
		}
		elems = append(elems, head)
		c = tail
	}
	return elems, true
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]any, len(atom.Args))
	for i, arg := range atom.Args {
		if c, ok := arg.(ast.Constant); ok {
			args[i] = ConstantToValue(c)
		} else {
			args[i] = arg.String()
		}
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args}
}
