package voice

import "context"

// Turn directions understood by the shipped rule bases.
const (
	Left        = "left"
	LeftSharp   = "left_sh"
	LeftSlight  = "left_sl"
	LeftKeep    = "left_keep"
	Right       = "right"
	RightSharp  = "right_sh"
	RightSlight = "right_sl"
	RightKeep   = "right_keep"
)

// CommandBuilder accumulates one spoken instruction sequence.
type CommandBuilder struct {
	engine *Engine
	cmds   []Command
}

func (b *CommandBuilder) add(name string, args ...any) *CommandBuilder {
	b.cmds = append(b.cmds, Cmd(name, args...))
	return b
}

// Turn announces an immediate turn.
func (b *CommandBuilder) Turn(direction string) *CommandBuilder {
	return b.add("turn", Symbol(direction))
}

// TurnIn announces a turn after meters.
func (b *CommandBuilder) TurnIn(direction string, meters int) *CommandBuilder {
	return b.add("turn", Symbol(direction), meters)
}

// PrepareTurn announces an upcoming turn.
func (b *CommandBuilder) PrepareTurn(direction string, meters int) *CommandBuilder {
	return b.add("prepare_turn", Symbol(direction), meters)
}

// GoAhead announces following the road.
func (b *CommandBuilder) GoAhead() *CommandBuilder {
	return b.add("go_ahead")
}

// GoAheadFor announces following the road for meters.
func (b *CommandBuilder) GoAheadFor(meters int) *CommandBuilder {
	return b.add("go_ahead", meters)
}

// MakeUT announces a U-turn.
func (b *CommandBuilder) MakeUT() *CommandBuilder {
	return b.add("make_ut")
}

// MakeUTIn announces a U-turn after meters.
func (b *CommandBuilder) MakeUTIn(meters int) *CommandBuilder {
	return b.add("make_ut", meters)
}

// Roundabout announces taking exit.
func (b *CommandBuilder) Roundabout(exit int) *CommandBuilder {
	return b.add("roundabout", exit)
}

// RoundaboutIn announces a roundabout after meters.
func (b *CommandBuilder) RoundaboutIn(meters, exit int) *CommandBuilder {
	return b.add("roundabout", meters, exit)
}

// Then joins two instructions.
func (b *CommandBuilder) Then() *CommandBuilder {
	return b.add("then")
}

// Arrive announces reaching the destination.
func (b *CommandBuilder) Arrive() *CommandBuilder {
	return b.add("arrive")
}

// Commands returns a copy of the accumulated sequence.
func (b *CommandBuilder) Commands() []Command {
	return append([]Command(nil), b.cmds...)
}

// Resolve resolves the sequence against the engine.
func (b *CommandBuilder) Resolve(ctx context.Context) []string {
	return b.engine.Resolve(ctx, b.cmds)
}

// Speak resolves and plays the sequence.
func (b *CommandBuilder) Speak(ctx context.Context, player Player) ([]string, error) {
	return b.engine.Speak(ctx, b.cmds, player)
}
