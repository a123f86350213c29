// Package variant maps variant names and aliases to the initial position and
// the extra terminal predicates a variant adds on top of standard chess.
package variant

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	nchess "github.com/corentings/chess/v2"
	yaml "gopkg.in/yaml.v3"
)

//go:embed variants.yaml
var variantFiles embed.FS

var ErrUnknownVariant = errf("unknown variant")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// VerdictKind tags a variant-specific outcome.
type VerdictKind int

const (
	VerdictNone VerdictKind = iota
	VerdictWin
	VerdictLoss
	VerdictDraw
)

// Verdict is the result of evaluating a variant predicate. Side is the winner
// for VerdictWin and the loser for VerdictLoss.
type Verdict struct {
	Kind VerdictKind
	Side nchess.Color
}

// Predicate inspects a game and reports a variant outcome, or VerdictNone.
type Predicate func(g *nchess.Game) Verdict

// Descriptor is one registered variant. The first alias is the display name
// shown in listings.
type Descriptor struct {
	ID         string
	Aliases    []string
	InitialFEN string

	predicates []Predicate
}

func (d *Descriptor) DisplayName() string {
	if len(d.Aliases) == 0 {
		return d.ID
	}
	return d.Aliases[0]
}

// NewGame returns a fresh game at the variant's initial position.
func (d *Descriptor) NewGame() (*nchess.Game, error) {
	if strings.TrimSpace(d.InitialFEN) == "" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(d.InitialFEN)
	if err != nil {
		return nil, fmt.Errorf("variant %s: bad initial fen: %w", d.ID, err)
	}
	return nchess.NewGame(opt), nil
}

// Evaluate runs the variant predicates in order and returns the first verdict.
func (d *Descriptor) Evaluate(g *nchess.Game) Verdict {
	for _, p := range d.predicates {
		if v := p(g); v.Kind != VerdictNone {
			return v
		}
	}
	return Verdict{Kind: VerdictNone}
}

// Registry resolves variant names and aliases, case-insensitively.
type Registry struct {
	order   []*Descriptor
	byAlias map[string]*Descriptor
}

type variantFile struct {
	Variants []struct {
		ID         string   `yaml:"id"`
		Aliases    []string `yaml:"aliases"`
		InitialFEN string   `yaml:"initial_fen"`
		Rules      []string `yaml:"rules"`
	} `yaml:"variants"`
}

var rulePredicates = map[string]Predicate{
	"king-of-the-hill": kingOfTheHill,
	"three-check":      threeCheck,
}

// New builds the registry from the embedded variant table.
func New() (*Registry, error) {
	raw, err := fs.ReadFile(variantFiles, "variants.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded variants: %w", err)
	}
	var vf variantFile
	if err := yaml.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("parse variants: %w", err)
	}
	r := &Registry{byAlias: make(map[string]*Descriptor)}
	for _, v := range vf.Variants {
		if strings.TrimSpace(v.ID) == "" || len(v.Aliases) == 0 {
			return nil, fmt.Errorf("variant entry missing id or aliases")
		}
		d := &Descriptor{ID: v.ID, Aliases: v.Aliases, InitialFEN: v.InitialFEN}
		for _, rule := range v.Rules {
			p, ok := rulePredicates[rule]
			if !ok {
				return nil, fmt.Errorf("variant %s: unknown rule %q", v.ID, rule)
			}
			d.predicates = append(d.predicates, p)
		}
		r.order = append(r.order, d)
		r.byAlias[normalize(v.ID)] = d
		for _, a := range v.Aliases {
			r.byAlias[normalize(a)] = d
		}
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no variants registered")
	}
	return r, nil
}

// Resolve returns the descriptor for a name or alias. An empty name resolves
// to the standard variant.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	if strings.TrimSpace(name) == "" {
		return r.order[0], nil
	}
	if d, ok := r.byAlias[normalize(name)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

var hillSquares = []nchess.Square{nchess.D4, nchess.E4, nchess.D5, nchess.E5}

// kingOfTheHill: a king standing on one of the four center squares wins.
func kingOfTheHill(g *nchess.Game) Verdict {
	board := g.Position().Board()
	for _, sq := range hillSquares {
		p := board.Piece(sq)
		if p != nchess.NoPiece && p.Type() == nchess.King {
			return Verdict{Kind: VerdictWin, Side: p.Color()}
		}
	}
	return Verdict{Kind: VerdictNone}
}

// threeCheck: the side that delivers a third check wins immediately.
func threeCheck(g *nchess.Game) Verdict {
	whiteChecks, blackChecks := 0, 0
	for _, mv := range g.Moves() {
		if !mv.HasTag(nchess.Check) {
			continue
		}
		// mv.Position() is the position after the move, so the mover is the
		// opposite of its side to move.
		if mv.Position().Turn() == nchess.Black {
			whiteChecks++
		} else {
			blackChecks++
		}
	}
	if whiteChecks >= 3 {
		return Verdict{Kind: VerdictWin, Side: nchess.White}
	}
	if blackChecks >= 3 {
		return Verdict{Kind: VerdictWin, Side: nchess.Black}
	}
	return Verdict{Kind: VerdictNone}
}
