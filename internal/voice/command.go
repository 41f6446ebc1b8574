package voice

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"navvoice/internal/mangle"

	"github.com/google/mangle/ast"
)

// Symbol is a command argument spoken as a name constant, such as a turn direction.
type Symbol string

// Command is an abstract navigation instruction: a name plus arguments. Arguments are
// ints, floats, strings, bools, Symbols or nested Commands.
type Command struct {
	Name string
	Args []any
}

// Cmd builds a command.
func Cmd(name string, args ...any) Command {
	return Command{Name: name, Args: args}
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		switch v := a.(type) {
		case Symbol:
			parts[i] = "/" + strings.TrimPrefix(string(v), "/")
		case string:
			parts[i] = strconv.Quote(v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

func nameConstant(s string) (ast.Constant, error) {
	return ast.Name("/" + strings.TrimPrefix(s, "/"))
}

// encode turns the command into the list [/name, arg...].
func (c Command) encode() (ast.Constant, error) {
	if c.Name == "" {
		return ast.Constant{}, fmt.Errorf("command with empty name")
	}
	name, err := nameConstant(c.Name)
	if err != nil {
		return ast.Constant{}, fmt.Errorf("command %q: %w", c.Name, err)
	}
	elems := []ast.Constant{name}
	for i, a := range c.Args {
		arg, err := encodeArg(a)
		if err != nil {
			return ast.Constant{}, fmt.Errorf("command %s arg %d: %w", c.Name, i, err)
		}
		elems = append(elems, arg)
	}
	return ast.List(elems), nil
}

func encodeArg(a any) (ast.Constant, error) {
	switch v := a.(type) {
	case Symbol:
		return nameConstant(string(v))
	case Command:
		return v.encode()
	case string:
		return ast.String(v), nil
	default:
		return mangle.ToConstant(v)
	}
}

// goalFor builds resolve(Seq, Result) for cmds, with the sequence also given positionally.
func goalFor(cmds []Command) (mangle.Goal, error) {
	encoded := make([]ast.Constant, len(cmds))
	var given []mangle.Fact
	for pos, c := range cmds {
		enc, err := c.encode()
		if err != nil {
			return mangle.Goal{}, err
		}
		encoded[pos] = enc

		name, _ := nameConstant(c.Name)
		given = append(given, mangle.Fact{Predicate: "command", Args: []any{pos, name}})
		for idx, a := range c.Args {
			arg, err := encodeArg(a)
			if err != nil {
				return mangle.Goal{}, err
			}
			given = append(given, mangle.Fact{Predicate: "command_arg", Args: []any{pos, idx, arg}})
		}
	}
	seq := ast.List(encoded)
	given = append(given,
		mangle.Fact{Predicate: "command_seq", Args: []any{seq}},
		mangle.Fact{Predicate: "command_count", Args: []any{len(cmds)}},
	)
	return mangle.Goal{
		Predicate: "resolve",
		Args:      []any{seq, mangle.Var("Result")},
		Given:     given,
	}, nil
}

// decodeFiles maps a result list to sample ids. Anything that is not a name or string
// is dropped.
func decodeFiles(c ast.Constant) []string {
	elems, ok := mangle.ListElements(c)
	if !ok {
		return []string{}
	}
	files := make([]string, 0, len(elems))
	for _, e := range elems {
		switch e.Type {
		case ast.NameType:
			files = append(files, symbolName(e))
		case ast.StringType:
			files = append(files, e.Symbol)
		}
	}
	return files
}

func symbolName(c ast.Constant) string {
	return strings.TrimPrefix(c.Symbol, "/")
}

const delayPrefix = "delay_"

// Delay reports whether id is a pause marker such as "delay_250" and returns its length.
func Delay(id string) (time.Duration, bool) {
	if !strings.HasPrefix(id, delayPrefix) {
		return 0, false
	}
	ms, err := strconv.Atoi(strings.TrimPrefix(id, delayPrefix))
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
