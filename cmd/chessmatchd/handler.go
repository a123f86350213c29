package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"
	"github.com/wildcogs/chessmatch/internal/match"
	"github.com/wildcogs/chessmatch/internal/matchstore"
	"github.com/wildcogs/chessmatch/internal/migrate"
	"github.com/wildcogs/chessmatch/internal/obslog"
	"github.com/wildcogs/chessmatch/internal/rating"
	"github.com/wildcogs/chessmatch/internal/rules"
	"github.com/wildcogs/chessmatch/internal/service"
	"github.com/wildcogs/chessmatch/internal/variant"
	"go.uber.org/zap"
)

type handler struct {
	svc  *service.Service
	gate *migrate.Gate
}

func newHandler(svc *service.Service, gate *migrate.Gate) *handler {
	return &handler{svc: svc, gate: gate}
}

func (h *handler) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/readyz":
		if err := h.gate.Ready(); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ready")
	case "/v1/start":
		h.start(ctx)
	case "/v1/show":
		h.show(ctx)
	case "/v1/move":
		h.move(ctx)
	case "/v1/draw/offer":
		h.offerDraw(ctx)
	case "/v1/draw/respond":
		h.respondDraw(ctx)
	case "/v1/draw/claim":
		h.claimDraw(ctx)
	case "/v1/matches":
		h.list(ctx)
	case "/v1/close":
		h.close(ctx)
	case "/v1/scoreboard":
		h.scoreboard(ctx)
	case "/v1/scoreboard/clear":
		h.clearScores(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

type matchSummary struct {
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	Variant     string   `json:"variant"`
	Status      string   `json:"status"`
	WhiteID     string   `json:"white_id"`
	BlackID     string   `json:"black_id"`
	Moves       int      `json:"moves"`
	MovesSAN    []string `json:"moves_san,omitempty"`
	DrawOfferBy string   `json:"draw_offer_by,omitempty"`
}

func summarize(name string, m *match.Match) matchSummary {
	return matchSummary{
		Name:        name,
		ID:          m.ID(),
		Variant:     m.Variant().ID,
		Status:      string(m.Status()),
		WhiteID:     m.WhiteID(),
		BlackID:     m.BlackID(),
		Moves:       m.TotalMoves(),
		DrawOfferBy: m.DrawOfferBy(),
	}
}

type ratingChange struct {
	PlayerID string `json:"player_id"`
	Delta    int    `json:"delta"`
}

func ratingChanges(in []service.RatingChange) []ratingChange {
	out := make([]ratingChange, 0, len(in))
	for _, c := range in {
		out = append(out, ratingChange{PlayerID: c.PlayerID, Delta: c.Delta})
	}
	return out
}

func (h *handler) start(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		BlackID string `json:"black_id"`
		WhiteID string `json:"white_id"`
		Name    string `json:"name"`
		Variant string `json:"variant"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.Start(ctx, req.Channel, req.BlackID, req.WhiteID, req.Name, req.Variant)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, map[string]any{
		"match":   summarize(res.Name, res.Match),
		"message": res.Message,
		"board":   encodeBoard(res.Board),
	})
}

func (h *handler) show(ctx *fasthttp.RequestCtx) {
	channel := string(ctx.QueryArgs().Peek("channel"))
	name := string(ctx.QueryArgs().Peek("name"))
	res, err := h.svc.Show(ctx, channel, name)
	if err != nil {
		writeError(ctx, err)
		return
	}
	s := summarize(name, res.Match)
	s.MovesSAN = res.Match.MovesSAN()
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"match":   s,
		"message": res.Message,
		"board":   encodeBoard(res.Board),
	})
}

func (h *handler) move(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		Guild   string `json:"guild"`
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
		Move    string `json:"move"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.Move(ctx, req.Channel, req.Guild, req.Name, req.ActorID, req.Move)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"san":            res.Outcome.Applied.SAN,
		"uci":            res.Outcome.Applied.UCI,
		"classification": res.Outcome.Classification,
		"game_over":      res.Outcome.GameOver,
		"winner_id":      res.Outcome.WinnerID,
		"message":        res.Message,
		"board":          encodeBoard(res.Board),
		"ratings":        ratingChanges(res.Ratings),
	})
}

func (h *handler) offerDraw(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.OfferDraw(ctx, req.Channel, req.Name, req.ActorID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"message": res.Message})
}

func (h *handler) respondDraw(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		Guild   string `json:"guild"`
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
		Accept  bool   `json:"accept"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.RespondDraw(ctx, req.Channel, req.Guild, req.Name, req.ActorID, req.Accept)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"accepted": res.Accepted,
		"message":  res.Message,
		"ratings":  ratingChanges(res.Ratings),
	})
}

func (h *handler) claimDraw(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		Guild   string `json:"guild"`
		Name    string `json:"name"`
		ActorID string `json:"actor_id"`
		Kind    string `json:"kind"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.ClaimDraw(ctx, req.Channel, req.Guild, req.Name, req.ActorID, match.ClaimKind(req.Kind))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"message": res.Message,
		"ratings": ratingChanges(res.Ratings),
	})
}

func (h *handler) list(ctx *fasthttp.RequestCtx) {
	channel := string(ctx.QueryArgs().Peek("channel"))
	entries, err := h.svc.List(ctx, channel)
	if err != nil {
		writeError(ctx, err)
		return
	}
	out := make([]matchSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e.Name, e.Match))
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"matches": out})
}

func (h *handler) close(ctx *fasthttp.RequestCtx) {
	var req struct {
		Channel string `json:"channel"`
		Name    string `json:"name"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.Close(ctx, req.Channel, req.Name)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"message": res.Message})
}

func (h *handler) scoreboard(ctx *fasthttp.RequestCtx) {
	guild := string(ctx.QueryArgs().Peek("guild"))
	sortKey := string(ctx.QueryArgs().Peek("sort"))
	rows, err := h.svc.Scoreboard(ctx, guild, sortKey)
	if err != nil {
		writeError(ctx, err)
		return
	}
	type row struct {
		PlayerID string `json:"player_id"`
		Elo      int    `json:"elo"`
		Wins     int    `json:"wins"`
		Losses   int    `json:"losses"`
		Ties     int    `json:"ties"`
	}
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		out = append(out, row{PlayerID: r.PlayerID, Elo: r.Elo, Wins: r.Wins, Losses: r.Losses, Ties: r.Ties})
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"players": out})
}

func (h *handler) clearScores(ctx *fasthttp.RequestCtx) {
	var req struct {
		Guild    string `json:"guild"`
		PlayerID string `json:"player_id"`
	}
	if !decode(ctx, &req) {
		return
	}
	res, err := h.svc.ClearScores(ctx, req.Guild, req.PlayerID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"message": res.Message})
}

func decode(ctx *fasthttp.RequestCtx, dst any) bool {
	if err := json.Unmarshal(ctx.PostBody(), dst); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		writeJSONBody(ctx, map[string]string{"error": "bad request body"})
		return false
	}
	return true
}

func encodeBoard(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	writeJSONBody(ctx, body)
}

func writeJSONBody(ctx *fasthttp.RequestCtx, body any) {
	ctx.SetContentType("application/json; charset=utf-8")
	data, err := json.Marshal(body)
	if err != nil {
		obslog.L().Error("encode response", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	writeJSON(ctx, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, migrate.ErrNotReady), errors.Is(err, migrate.ErrDegraded):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, matchstore.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, variant.ErrUnknownVariant),
		errors.Is(err, rules.ErrIllegalMove),
		errors.Is(err, rating.ErrBadSortKey):
		return fasthttp.StatusBadRequest
	case errors.Is(err, match.ErrNotAPlayer),
		errors.Is(err, match.ErrNotYourTurn),
		errors.Is(err, match.ErrFinished),
		errors.Is(err, match.ErrAlreadyOffered),
		errors.Is(err, match.ErrOpponentOffered),
		errors.Is(err, match.ErrNoDrawOffer),
		errors.Is(err, match.ErrClaimNotEligible),
		errors.Is(err, matchstore.ErrExists):
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}
