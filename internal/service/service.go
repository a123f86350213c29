// Package service is the command surface of the match engine. It ties the
// store, rules, ratings, and rendering together and owns the finish sequence
// for rated matches.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wildcogs/chessmatch/internal/archive"
	"github.com/wildcogs/chessmatch/internal/config"
	"github.com/wildcogs/chessmatch/internal/confirm"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/matchstore"
	"github.com/wildcogs/chessmatch/internal/migrate"
	"github.com/wildcogs/chessmatch/internal/msgcat"
	"github.com/wildcogs/chessmatch/internal/obslog"
	"github.com/wildcogs/chessmatch/internal/rating"
	"github.com/wildcogs/chessmatch/internal/render"
	"github.com/wildcogs/chessmatch/internal/variant"
	"go.uber.org/zap"
)

// Archiver receives finished matches. Save failures are logged, never
// surfaced to players.
type Archiver interface {
	Save(ctx context.Context, e *archive.Entry) error
}

type Deps struct {
	Config   *config.AppConfig
	Store    *matchstore.Store
	Ratings  *rating.Ledger
	Gate     *migrate.Gate
	Variants *variant.Registry
	Catalog  *msgcat.Catalog
	Renderer *render.Renderer
	Archiver Archiver // optional
}

type Service struct {
	cfg      *config.AppConfig
	store    *matchstore.Store
	ratings  *rating.Ledger
	gate     *migrate.Gate
	variants *variant.Registry
	cat      *msgcat.Catalog
	renderer *render.Renderer
	archiver Archiver
	confirms *confirm.Collector
}

func New(d Deps) *Service {
	return &Service{
		cfg:      d.Config,
		store:    d.Store,
		ratings:  d.Ratings,
		gate:     d.Gate,
		variants: d.Variants,
		cat:      d.Catalog,
		renderer: d.Renderer,
		archiver: d.Archiver,
		confirms: confirm.NewCollector(),
	}
}

// RatingChange is one player's Elo adjustment from a finished match.
type RatingChange struct {
	PlayerID string
	Delta    int
}

type StartResult struct {
	Name    string
	Match   *match.Match
	Message string
	Board   []byte
}

type ShowResult struct {
	Match   *match.Match
	Message string
	Board   []byte
}

type MoveResult struct {
	Match   *match.Match
	Outcome *match.MoveOutcome
	Message string
	Board   []byte
	Ratings []RatingChange
}

type DrawOfferResult struct {
	Match   *match.Match
	Message string
}

type DrawRespondResult struct {
	Accepted bool
	Match    *match.Match
	Message  string
	Ratings  []RatingChange
}

type ClaimResult struct {
	Match   *match.Match
	Message string
	Ratings []RatingChange
}

type CloseResult struct {
	Message string
}

type ClearResult struct {
	Message string
}

// Start creates a match. An empty requestedName falls back to the configured
// default, and either way the stored name gets a numeric suffix when taken.
func (s *Service) Start(ctx context.Context, channel, blackID, whiteID, requestedName, variantName string) (*StartResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	desc, err := s.variants.Resolve(variantName)
	if err != nil {
		return nil, err
	}
	base := requestedName
	if base == "" {
		base = s.cfg.DefaultMatchName
	}
	name, err := s.store.CreateUniqueName(ctx, channel, base)
	if err != nil {
		return nil, err
	}
	m, err := match.New(blackID, whiteID, desc)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, channel, name, m); err != nil {
		return nil, err
	}
	obslog.L().Info("match started",
		zap.String("channel", channel), zap.String("name", name),
		zap.String("variant", desc.ID),
		zap.String("white", whiteID), zap.String("black", blackID))

	msg := s.cat.RenderOr("chess.start.announce",
		fmt.Sprintf("Match %q started.", name),
		map[string]any{
			"Variant": desc.DisplayName(),
			"Name":    name,
			"Black":   blackID,
			"White":   whiteID,
		})
	return &StartResult{Name: name, Match: m, Message: msg, Board: s.board(ctx, m, nil)}, nil
}

// Show returns the current position of a match.
func (s *Service) Show(ctx context.Context, channel, name string) (*ShowResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, channel, name)
	if err != nil {
		return nil, err
	}
	return &ShowResult{Match: m, Message: s.turnMessage(m), Board: s.board(ctx, m, nil)}, nil
}

// Move applies one move. A terminal move settles ratings and archives the
// match; the stored record is already gone by then.
func (s *Service) Move(ctx context.Context, channel, guild, name, actorID, moveText string) (*MoveResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	var out *match.MoveOutcome
	m, err := s.store.Update(ctx, channel, name, func(m *match.Match) error {
		o, err := m.ApplyMove(actorID, moveText)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &MoveResult{Match: m, Outcome: out}
	hl := &render.Highlight{From: out.Applied.From, To: out.Applied.To}
	res.Board = s.board(ctx, m, hl)
	if out.GameOver {
		obslog.L().Info("match finished",
			zap.String("channel", channel), zap.String("name", name),
			zap.String("classification", out.Classification),
			zap.String("winner", out.WinnerID))
		res.Ratings = s.settle(ctx, channel, guild, name, m)
		res.Message = s.cat.RenderOr("chess.move."+out.Classification,
			"The match is over.",
			map[string]any{"Winner": out.WinnerID})
		return res, nil
	}
	label, toMove, _ := m.TurnOrder(false)
	key := "chess.move.next_turn"
	if out.Classification == match.ClassCheck {
		key = "chess.move.check"
	}
	res.Message = s.cat.RenderOr(key,
		fmt.Sprintf("%s to move.", label),
		map[string]any{"Label": label, "Player": toMove})
	if out.Claims.Any() {
		res.Message += " " + s.cat.RenderOr("chess.move.claim_hint",
			fmt.Sprintf("%s may claim a draw.", toMove),
			map[string]any{"Player": toMove})
	}
	return res, nil
}

// OfferDraw records the offer and arms a timeout that withdraws it when the
// opponent never answers.
func (s *Service) OfferDraw(ctx context.Context, channel, name, actorID string) (*DrawOfferResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	m, err := s.store.Update(ctx, channel, name, func(m *match.Match) error {
		return m.OfferDraw(actorID)
	})
	if err != nil {
		return nil, err
	}
	opponent := m.WhiteID()
	if actorID == m.WhiteID() {
		opponent = m.BlackID()
	}
	prompt, err := s.confirms.Open(channel+"/"+name, actorID, opponent)
	if err != nil {
		// The responder is mid-prompt elsewhere; the offer still stands in
		// the record and can be answered or withdrawn later.
		obslog.L().Warn("draw offer prompt not armed",
			zap.String("channel", channel), zap.String("name", name), zap.Error(err))
	} else {
		go s.expireOffer(prompt, channel, name, actorID)
	}

	msg := s.cat.RenderOr("chess.draw.offered",
		fmt.Sprintf("%s offers a draw.", actorID),
		map[string]any{"Player": actorID, "Opponent": opponent})
	return &DrawOfferResult{Match: m, Message: msg}, nil
}

func (s *Service) expireOffer(p *confirm.Prompt, channel, name, offerorID string) {
	d := s.confirms.Await(context.Background(), p, s.cfg.DrawOfferTimeout)
	if d != confirm.TimedOut {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.store.Update(ctx, channel, name, func(m *match.Match) error {
		if m.DrawOfferBy() != offerorID {
			return nil // already answered or replaced
		}
		return m.RespondDraw(false)
	})
	if err != nil && !errors.Is(err, matchstore.ErrNotFound) {
		obslog.L().Warn("withdraw expired draw offer",
			zap.String("channel", channel), zap.String("name", name), zap.Error(err))
		return
	}
	obslog.L().Info("draw offer expired",
		zap.String("channel", channel), zap.String("name", name),
		zap.String("offeror", offerorID))
}

// RespondDraw accepts or declines the pending offer. Only the player who did
// not offer may respond.
func (s *Service) RespondDraw(ctx context.Context, channel, guild, name, actorID string, accept bool) (*DrawRespondResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	m, err := s.store.Update(ctx, channel, name, func(m *match.Match) error {
		if actorID != m.BlackID() && actorID != m.WhiteID() {
			return match.ErrNotAPlayer
		}
		offeror := m.DrawOfferBy()
		if offeror == "" {
			return match.ErrNoDrawOffer
		}
		if offeror == actorID && m.BlackID() != m.WhiteID() {
			return match.ErrAlreadyOffered
		}
		return m.RespondDraw(accept)
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.confirms.Resolve(actorID, accept); err != nil && !errors.Is(err, confirm.ErrNoPending) {
		obslog.L().Warn("resolve draw prompt", zap.Error(err))
	}

	res := &DrawRespondResult{Accepted: accept, Match: m}
	if accept {
		res.Ratings = s.settle(ctx, channel, guild, name, m)
		res.Message = s.cat.RenderOr("chess.draw.accepted", "Draw agreed.", nil)
	} else {
		res.Message = s.cat.RenderOr("chess.draw.declined", "Draw declined.", nil)
	}
	return res, nil
}

// ClaimDraw lets the player to move end the match under the fifty-move or
// threefold repetition rule.
func (s *Service) ClaimDraw(ctx context.Context, channel, guild, name, actorID string, kind match.ClaimKind) (*ClaimResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	m, err := s.store.Update(ctx, channel, name, func(m *match.Match) error {
		if actorID != m.BlackID() && actorID != m.WhiteID() {
			return match.ErrNotAPlayer
		}
		if _, toMove, _ := m.TurnOrder(false); actorID != toMove {
			return match.ErrNotYourTurn
		}
		return m.ClaimDraw(kind)
	})
	if err != nil {
		return nil, err
	}

	key := "chess.draw.claim_fifty_moves"
	fallback := "Draw claimed under the fifty move rule."
	if kind == match.ClaimThreefold {
		key = "chess.draw.claim_threefold"
		fallback = "Draw claimed by threefold repetition."
	}
	return &ClaimResult{
		Match:   m,
		Message: s.cat.RenderOr(key, fallback, nil),
		Ratings: s.settle(ctx, channel, guild, name, m),
	}, nil
}

// List returns the channel's matches sorted by name.
func (s *Service) List(ctx context.Context, channel string) ([]matchstore.Entry, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, channel)
}

// Close abandons a match. No ratings change and nothing is archived.
func (s *Service) Close(ctx context.Context, channel, name string) (*CloseResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, channel, name)
	if err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, channel, name); err != nil {
		return nil, err
	}
	// Drop any outstanding draw prompt belonging to this match.
	topic := channel + "/" + name
	for _, id := range []string{m.BlackID(), m.WhiteID()} {
		if p, ok := s.confirms.Pending(id); ok && p.Topic == topic {
			s.confirms.Cancel(id)
		}
	}
	obslog.L().Info("match closed",
		zap.String("channel", channel), zap.String("name", name))
	msg := s.cat.RenderOr("chess.close.done",
		fmt.Sprintf("Match %q closed.", name),
		map[string]any{"Name": name})
	return &CloseResult{Message: msg}, nil
}

// Scoreboard lists the guild's rated players.
func (s *Service) Scoreboard(ctx context.Context, guild, sortKey string) ([]rating.Row, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	return s.ratings.Scoreboard(ctx, guild, sortKey)
}

// ClearScores resets the guild's scoreboard, or a single player's record when
// playerID is set. Matches in progress are unaffected.
func (s *Service) ClearScores(ctx context.Context, guild, playerID string) (*ClearResult, error) {
	if err := s.gate.Ready(); err != nil {
		return nil, err
	}
	if playerID != "" {
		if err := s.ratings.ClearPlayer(ctx, guild, playerID); err != nil {
			return nil, err
		}
		obslog.L().Info("player rating cleared",
			zap.String("guild", guild), zap.String("player", playerID))
		msg := s.cat.RenderOr("chess.rating.cleared_player",
			fmt.Sprintf("Rating for %s was reset.", playerID),
			map[string]any{"Player": playerID})
		return &ClearResult{Message: msg}, nil
	}
	if err := s.ratings.Clear(ctx, guild); err != nil {
		return nil, err
	}
	obslog.L().Info("scoreboard cleared", zap.String("guild", guild))
	msg := s.cat.RenderOr("chess.rating.cleared",
		"The scoreboard was reset.", nil)
	return &ClearResult{Message: msg}, nil
}

// settle runs after the finished match has been removed from the store: first
// the ratings, then the archive. A crash between removal and rating loses the
// rating update for that match.
func (s *Service) settle(ctx context.Context, channel, guild, name string, m *match.Match) []RatingChange {
	res := m.Result()
	if res == nil {
		return nil
	}
	var changes []RatingChange
	if res.WinnerID != "" {
		winDelta, loseDelta, err := s.ratings.RecordWin(ctx, guild, res.WinnerID, res.LoserID)
		if err != nil {
			obslog.L().Error("record win",
				zap.String("channel", channel), zap.String("name", name), zap.Error(err))
		} else if res.WinnerID != res.LoserID {
			changes = []RatingChange{
				{PlayerID: res.WinnerID, Delta: winDelta},
				{PlayerID: res.LoserID, Delta: loseDelta},
			}
		}
	} else {
		aDelta, bDelta, err := s.ratings.RecordTie(ctx, guild, m.WhiteID(), m.BlackID())
		if err != nil {
			obslog.L().Error("record tie",
				zap.String("channel", channel), zap.String("name", name), zap.Error(err))
		} else if m.WhiteID() != m.BlackID() {
			changes = []RatingChange{
				{PlayerID: m.WhiteID(), Delta: aDelta},
				{PlayerID: m.BlackID(), Delta: bDelta},
			}
		}
	}
	s.archiveMatch(ctx, channel, name, m)
	return changes
}

func (s *Service) archiveMatch(ctx context.Context, channel, name string, m *match.Match) {
	if s.archiver == nil {
		return
	}
	err := s.archiver.Save(ctx, &archive.Entry{
		Channel:    channel,
		Name:       name,
		Match:      m,
		Result:     m.Result(),
		WinnerSide: m.Result().WinnerSide,
	})
	if err != nil {
		obslog.L().Warn("archive match",
			zap.String("channel", channel), zap.String("name", name), zap.Error(err))
	}
}

func (s *Service) turnMessage(m *match.Match) string {
	label, toMove, _ := m.TurnOrder(false)
	return s.cat.RenderOr("chess.move.next_turn",
		fmt.Sprintf("%s to move.", label),
		map[string]any{"Label": label, "Player": toMove})
}

func (s *Service) board(ctx context.Context, m *match.Match, hl *render.Highlight) []byte {
	if s.renderer == nil {
		return nil
	}
	label, toMove, _ := m.TurnOrder(false)
	opts := render.Options{
		Highlight: hl,
		Header:    fmt.Sprintf("%s (white) vs %s (black)", m.WhiteID(), m.BlackID()),
		Turn:      fmt.Sprintf("%s (%s) to move", label, toMove),
	}
	data, err := s.renderer.PNG(ctx, m.Game().Position().Board(), opts)
	if err != nil {
		obslog.L().Warn("render board", zap.Error(err))
		return nil
	}
	return data
}
