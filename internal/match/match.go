// Package match owns one game's history and lifecycle: turn order, move
// application, draw offers and claims. Position state is always the replay of
// the SAN history over the variant's initial position.
package match

import (
	"encoding/json"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"github.com/wildcogs/chessmatch/internal/rules"
	"github.com/wildcogs/chessmatch/internal/variant"
)

var (
	ErrNotAPlayer       = errf("not a player in this match")
	ErrNotYourTurn      = errf("not your turn")
	ErrFinished         = errf("match already finished")
	ErrAlreadyOffered   = errf("you already offered a draw")
	ErrOpponentOffered  = errf("the other player already offered, respond instead")
	ErrNoDrawOffer      = errf("no draw offer pending")
	ErrClaimNotEligible = errf("draw claim not eligible")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// RecordSchema is the current persisted record shape version, gated globally
// by the schema migrator.
const RecordSchema = 2

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

type ClaimKind string

const (
	ClaimFiftyMoves ClaimKind = "fifty_moves"
	ClaimThreefold  ClaimKind = "threefold_repetition"
)

// Classification tokens for non-terminal move outcomes. Terminal outcomes use
// the rules.TerminalKind value directly.
const (
	ClassCheck          = "check"
	ClassNextTurn       = "next_turn"
	ClassAgreement      = "agreement"
	ClassClaimFifty     = "claim_fifty_moves"
	ClassClaimThreefold = "claim_threefold"
)

// Record is the explicit, schema-versioned persisted shape of a match.
// The (channel, name) identity lives in the store key, not the record.
type Record struct {
	Schema      int       `json:"schema"`
	ID          string    `json:"id"`
	Variant     string    `json:"variant"`
	BlackID     string    `json:"black_id"`
	WhiteID     string    `json:"white_id"`
	MovesSAN    []string  `json:"moves_san"`
	MovesUCI    []string  `json:"moves_uci"`
	DrawOfferBy string    `json:"draw_offer_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result describes how a finished match ended. WinnerID and LoserID are empty
// for draws.
type Result struct {
	Classification string
	WinnerID       string
	LoserID        string
	WinnerSide     rules.Side
}

// MoveOutcome is returned by ApplyMove on success.
type MoveOutcome struct {
	Applied        *rules.Applied
	Terminal       rules.TerminalState
	GameOver       bool
	WinnerID       string
	LoserID        string
	Classification string
	Claims         rules.Claims
}

// Match is the in-memory state of one game. Player identities and the variant
// are immutable after creation; the move history only grows.
type Match struct {
	id          string
	blackID     string
	whiteID     string
	desc        *variant.Descriptor
	sanHist     []string
	uciHist     []string
	drawOfferBy string
	status      Status
	result      *Result
	createdAt   time.Time
	updatedAt   time.Time

	game *nchess.Game
}

// New creates a match with zero moves and no draw offer. Self-play (both ids
// equal) is permitted.
func New(blackID, whiteID string, desc *variant.Descriptor) (*Match, error) {
	g, err := desc.NewGame()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Match{
		id:        uuid.NewString(),
		blackID:   blackID,
		whiteID:   whiteID,
		desc:      desc,
		status:    StatusInProgress,
		createdAt: now,
		updatedAt: now,
		game:      g,
	}, nil
}

// Load reconstructs a match from its persisted record by replaying the SAN
// history. The UCI history is rebuilt from the replay rather than trusted.
func Load(rec *Record, reg *variant.Registry) (*Match, error) {
	desc, err := reg.Resolve(rec.Variant)
	if err != nil {
		return nil, err
	}
	g, err := desc.NewGame()
	if err != nil {
		return nil, err
	}
	m := &Match{
		id:          rec.ID,
		blackID:     rec.BlackID,
		whiteID:     rec.WhiteID,
		desc:        desc,
		drawOfferBy: rec.DrawOfferBy,
		status:      StatusInProgress,
		createdAt:   rec.CreatedAt,
		updatedAt:   rec.UpdatedAt,
		game:        g,
	}
	for i, san := range rec.MovesSAN {
		applied, err := rules.Apply(g, san)
		if err != nil {
			return nil, fmt.Errorf("record %s: replay move %d: %w", rec.ID, i+1, err)
		}
		m.sanHist = append(m.sanHist, applied.SAN)
		m.uciHist = append(m.uciHist, applied.UCI)
	}
	return m, nil
}

// Unmarshal decodes a persisted record and loads it.
func Unmarshal(data []byte, reg *variant.Registry) (*Match, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode match record: %w", err)
	}
	return Load(&rec, reg)
}

// Record returns the persistable snapshot of the match.
func (m *Match) Record() *Record {
	rec := &Record{
		Schema:      RecordSchema,
		ID:          m.id,
		Variant:     m.desc.ID,
		BlackID:     m.blackID,
		WhiteID:     m.whiteID,
		MovesSAN:    append([]string(nil), m.sanHist...),
		MovesUCI:    append([]string(nil), m.uciHist...),
		DrawOfferBy: m.drawOfferBy,
		CreatedAt:   m.createdAt,
		UpdatedAt:   m.updatedAt,
	}
	return rec
}

// Marshal encodes the match's record as JSON.
func (m *Match) Marshal() ([]byte, error) {
	return json.Marshal(m.Record())
}

func (m *Match) ID() string                   { return m.id }
func (m *Match) BlackID() string              { return m.blackID }
func (m *Match) WhiteID() string              { return m.whiteID }
func (m *Match) Variant() *variant.Descriptor { return m.desc }
func (m *Match) TotalMoves() int              { return len(m.sanHist) }
func (m *Match) DrawOfferBy() string          { return m.drawOfferBy }
func (m *Match) Status() Status               { return m.status }
func (m *Match) Finished() bool               { return m.status == StatusFinished }
func (m *Match) CreatedAt() time.Time         { return m.createdAt }
func (m *Match) UpdatedAt() time.Time         { return m.updatedAt }

// Result returns how the match ended, or nil while in progress.
func (m *Match) Result() *Result { return m.result }

// Game exposes the replayed game for collaborators such as the board
// renderer. Callers must not mutate it.
func (m *Match) Game() *nchess.Game { return m.game }

func (m *Match) MovesSAN() []string { return append([]string(nil), m.sanHist...) }
func (m *Match) MovesUCI() []string { return append([]string(nil), m.uciHist...) }

// TurnOrder reports the side label, the player to move, and the other player.
// With previous=true it reports the side that just moved instead.
func (m *Match) TurnOrder(previous bool) (label, toMoveID, otherID string) {
	whiteToMove := len(m.sanHist)%2 == 0
	if previous {
		whiteToMove = !whiteToMove
	}
	if whiteToMove {
		return rules.White.Label(), m.whiteID, m.blackID
	}
	return rules.Black.Label(), m.blackID, m.whiteID
}

func (m *Match) isPlayer(id string) bool {
	return id == m.blackID || id == m.whiteID
}

func (m *Match) sideID(s rules.Side) string {
	switch s {
	case rules.White:
		return m.whiteID
	case rules.Black:
		return m.blackID
	}
	return ""
}

// Claims reports the draw claims currently available to the side to move.
func (m *Match) Claims() rules.Claims {
	return rules.EvaluateClaims(m.game)
}

// ApplyMove validates the actor and applies one move. Any failure leaves the
// history and position exactly as before the call.
func (m *Match) ApplyMove(actorID, moveText string) (*MoveOutcome, error) {
	if m.status == StatusFinished {
		return nil, ErrFinished
	}
	if !m.isPlayer(actorID) {
		return nil, ErrNotAPlayer
	}
	_, toMove, _ := m.TurnOrder(false)
	if actorID != toMove {
		return nil, ErrNotYourTurn
	}

	applied, err := rules.Apply(m.game, moveText)
	if err != nil {
		return nil, err
	}
	m.sanHist = append(m.sanHist, applied.SAN)
	m.uciHist = append(m.uciHist, applied.UCI)
	m.updatedAt = time.Now().UTC()

	out := &MoveOutcome{
		Applied: applied,
		Claims:  rules.EvaluateClaims(m.game),
	}
	out.Terminal = rules.EvaluateTerminal(m.game, m.desc)
	if out.Terminal.GameOver() {
		m.status = StatusFinished
		m.drawOfferBy = ""
		out.GameOver = true
		out.Classification = string(out.Terminal.Kind)
		if winner := out.Terminal.Winner(); winner != rules.NoSide {
			out.WinnerID = m.sideID(winner)
			out.LoserID = m.sideID(winner.Other())
		}
		m.result = &Result{
			Classification: out.Classification,
			WinnerID:       out.WinnerID,
			LoserID:        out.LoserID,
			WinnerSide:     out.Terminal.Winner(),
		}
		return out, nil
	}
	if applied.Check {
		out.Classification = ClassCheck
	} else {
		out.Classification = ClassNextTurn
	}
	return out, nil
}

// OfferDraw records actorID as the offeror. Repeated offers are rejected with
// a distinct error depending on who offered first; no state changes on error.
func (m *Match) OfferDraw(actorID string) error {
	if m.status == StatusFinished {
		return ErrFinished
	}
	if !m.isPlayer(actorID) {
		return ErrNotAPlayer
	}
	switch m.drawOfferBy {
	case "":
		m.drawOfferBy = actorID
		m.updatedAt = time.Now().UTC()
		return nil
	case actorID:
		return ErrAlreadyOffered
	default:
		return ErrOpponentOffered
	}
}

// RespondDraw resolves a pending offer. Accepting finishes the match as an
// agreed draw; declining clears the offer and play continues.
func (m *Match) RespondDraw(accept bool) error {
	if m.status == StatusFinished {
		return ErrFinished
	}
	if m.drawOfferBy == "" {
		return ErrNoDrawOffer
	}
	m.drawOfferBy = ""
	m.updatedAt = time.Now().UTC()
	if accept {
		m.status = StatusFinished
		m.result = &Result{Classification: ClassAgreement}
	}
	return nil
}

// ClaimDraw finishes the match as a draw when the claimed rule currently
// holds, and fails with ErrClaimNotEligible otherwise.
func (m *Match) ClaimDraw(kind ClaimKind) error {
	if m.status == StatusFinished {
		return ErrFinished
	}
	claims := rules.EvaluateClaims(m.game)
	var class string
	switch kind {
	case ClaimFiftyMoves:
		if !claims.FiftyMoves {
			return ErrClaimNotEligible
		}
		class = ClassClaimFifty
	case ClaimThreefold:
		if !claims.ThreefoldRepetition {
			return ErrClaimNotEligible
		}
		class = ClassClaimThreefold
	default:
		return ErrClaimNotEligible
	}
	m.status = StatusFinished
	m.drawOfferBy = ""
	m.updatedAt = time.Now().UTC()
	m.result = &Result{Classification: class}
	return nil
}
