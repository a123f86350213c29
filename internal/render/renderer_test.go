package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestPNGStartingPosition(t *testing.T) {
	r := New("")
	g := nchess.NewGame()

	data, err := r.PNG(context.Background(), g.Position().Board(), Options{
		Header: "alice vs bob",
		Turn:   "White (alice) to move.",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != boardSize+sideMargin*2 || b.Dy() != boardSize+topMargin+bottomMargin {
		t.Fatalf("bounds = %v", b)
	}
}

func TestPNGWithHighlight(t *testing.T) {
	r := New("")
	g := nchess.NewGame()
	if err := g.PushNotationMove("e4", nchess.AlgebraicNotation{}, nil); err != nil {
		t.Fatalf("move: %v", err)
	}

	data, err := r.PNG(context.Background(), g.Position().Board(), Options{
		Highlight: &Highlight{From: nchess.E2, To: nchess.E4},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty png")
	}
}

func TestPNGNilBoard(t *testing.T) {
	r := New("")
	if _, err := r.PNG(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil board")
	}
}

func TestPNGCancelledContext(t *testing.T) {
	r := New("")
	g := nchess.NewGame()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.PNG(ctx, g.Position().Board(), Options{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPieceAssetNames(t *testing.T) {
	if got := pieceAssetName(nchess.WhiteKing); got != "wK.svg" {
		t.Fatalf("white king asset = %q", got)
	}
	if got := pieceAssetName(nchess.BlackPawn); got != "bP.svg" {
		t.Fatalf("black pawn asset = %q", got)
	}
}
