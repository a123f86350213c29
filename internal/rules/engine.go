// Package rules applies moves in algebraic notation and classifies terminal
// and claimable-draw conditions for a position, parameterized by a variant
// descriptor. It keeps no state of its own.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/wildcogs/chessmatch/internal/variant"
)

var ErrIllegalMove = errf("illegal move")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Side identifies one chess side in persisted records and outcomes.
type Side string

const (
	White  Side = "white"
	Black  Side = "black"
	NoSide Side = ""
)

func (s Side) Other() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	}
	return NoSide
}

// Label returns the capitalized display form used in turn reporting.
func (s Side) Label() string {
	switch s {
	case White:
		return "White"
	case Black:
		return "Black"
	}
	return ""
}

func SideOf(c nchess.Color) Side {
	if c == nchess.White {
		return White
	}
	return Black
}

// TerminalKind tags how a position ended, if it did.
type TerminalKind string

const (
	Ongoing              TerminalKind = "ongoing"
	Checkmate            TerminalKind = "checkmate"
	Stalemate            TerminalKind = "stalemate"
	InsufficientMaterial TerminalKind = "insufficient_material"
	SeventyFiveMoves     TerminalKind = "seventyfive_moves"
	FivefoldRepetition   TerminalKind = "fivefold_repetition"
	VariantWin           TerminalKind = "variant_win"
	VariantLoss          TerminalKind = "variant_loss"
	VariantDraw          TerminalKind = "variant_draw"
)

// TerminalState is a tagged terminal outcome. Side carries the winner for
// Checkmate and VariantWin, the loser for VariantLoss, and the side with no
// legal reply for Stalemate.
type TerminalState struct {
	Kind TerminalKind
	Side Side
}

func (t TerminalState) GameOver() bool { return t.Kind != Ongoing }

// Winner returns the winning side, or NoSide for draws and ongoing games.
func (t TerminalState) Winner() Side {
	switch t.Kind {
	case Checkmate, VariantWin:
		return t.Side
	case VariantLoss:
		return t.Side.Other()
	}
	return NoSide
}

// Applied describes a successfully applied move.
type Applied struct {
	SAN   string
	UCI   string
	From  nchess.Square
	To    nchess.Square
	Promo nchess.PieceType
	Check bool
}

// Apply decodes moveText against the game's current position and plays it.
// SAN is tried first, then UCI as a fallback. The game is left untouched when
// the text does not name a legal move.
func Apply(g *nchess.Game, moveText string) (*Applied, error) {
	raw := strings.TrimSpace(moveText)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	pos := g.Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, raw)
	if err != nil {
		mv, err = nchess.UCINotation{}.Decode(pos, strings.ToLower(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := g.Move(mv, nil); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	return &Applied{
		SAN:   san,
		UCI:   mv.String(),
		From:  mv.S1(),
		To:    mv.S2(),
		Promo: mv.Promo(),
		Check: mv.HasTag(nchess.Check),
	}, nil
}

// Replay rebuilds a game from the variant's initial position and a SAN
// history. It fails on the first move that no longer applies, which indicates
// a corrupt record.
func Replay(desc *variant.Descriptor, san []string) (*nchess.Game, error) {
	g, err := desc.NewGame()
	if err != nil {
		return nil, err
	}
	for i, s := range san {
		if _, err := Apply(g, s); err != nil {
			return nil, fmt.Errorf("replay move %d (%q): %w", i+1, s, err)
		}
	}
	return g, nil
}

// EvaluateTerminal classifies the game. Variant predicates are checked first,
// then checkmate, then the automatic draws (75-move before fivefold), then
// stalemate, then insufficient material. The automatic draws are recomputed
// here rather than read off the library so the ordering holds even when
// several conditions coincide.
func EvaluateTerminal(g *nchess.Game, desc *variant.Descriptor) TerminalState {
	if v := desc.Evaluate(g); v.Kind != variant.VerdictNone {
		switch v.Kind {
		case variant.VerdictWin:
			return TerminalState{Kind: VariantWin, Side: SideOf(v.Side)}
		case variant.VerdictLoss:
			return TerminalState{Kind: VariantLoss, Side: SideOf(v.Side)}
		default:
			return TerminalState{Kind: VariantDraw}
		}
	}
	method := g.Method()
	if method == nchess.Checkmate {
		return TerminalState{Kind: Checkmate, Side: SideOf(g.Position().Turn()).Other()}
	}
	if halfMoveClock(g.Position()) >= 150 {
		return TerminalState{Kind: SeventyFiveMoves}
	}
	if repetitions(g) >= 5 {
		return TerminalState{Kind: FivefoldRepetition}
	}
	if method == nchess.Stalemate {
		return TerminalState{Kind: Stalemate, Side: SideOf(g.Position().Turn())}
	}
	if method == nchess.InsufficientMaterial {
		return TerminalState{Kind: InsufficientMaterial}
	}
	switch method {
	case nchess.SeventyFiveMoveRule:
		return TerminalState{Kind: SeventyFiveMoves}
	case nchess.FivefoldRepetition:
		return TerminalState{Kind: FivefoldRepetition}
	}
	return TerminalState{Kind: Ongoing}
}

// Claims are the player-invocable draw rules, distinct from the automatic
// 75-move and fivefold draws.
type Claims struct {
	FiftyMoves          bool
	ThreefoldRepetition bool
}

func (c Claims) Any() bool { return c.FiftyMoves || c.ThreefoldRepetition }

// EvaluateClaims reports which draws the side to move could claim right now.
// Calling it does not mutate the game.
func EvaluateClaims(g *nchess.Game) Claims {
	var c Claims
	for _, m := range g.EligibleDraws() {
		switch m {
		case nchess.FiftyMoveRule:
			c.FiftyMoves = true
		case nchess.ThreefoldRepetition:
			c.ThreefoldRepetition = true
		}
	}
	return c
}

func halfMoveClock(pos *nchess.Position) int {
	parts := strings.Fields(pos.String())
	if len(parts) >= 5 {
		if n, err := strconv.Atoi(parts[4]); err == nil {
			return n
		}
	}
	return 0
}

// repetitionKey drops the move counters from a FEN so positions compare on
// placement, side to move, castling rights, and en passant only.
func repetitionKey(pos *nchess.Position) string {
	parts := strings.Fields(pos.String())
	if len(parts) >= 4 {
		return strings.Join(parts[:4], " ")
	}
	return pos.String()
}

func repetitions(g *nchess.Game) int {
	cur := repetitionKey(g.Position())
	n := 0
	for _, p := range g.Positions() {
		if p != nil && repetitionKey(p) == cur {
			n++
		}
	}
	return n
}
