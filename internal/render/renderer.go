// Package render draws a board position to PNG for posting alongside match
// updates. Pieces come from an optional SVG theme directory; without one the
// renderer falls back to built-in letter glyphs.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Highlight marks the last move's squares.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

// Options adjust one render call.
type Options struct {
	Highlight *Highlight
	Header    string
	Turn      string
}

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	sideMargin   = 28
	topMargin    = 64
	bottomMargin = 28
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{24, 26, 38, 255}
	headerText     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateText = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
	whitePieceFill = color.RGBA{245, 245, 245, 255}
	whitePieceText = color.RGBA{30, 30, 30, 255}
	blackPieceFill = color.RGBA{40, 40, 40, 255}
	blackPieceText = color.RGBA{235, 235, 235, 255}
)

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

// Renderer is safe for concurrent use; rasterized theme pieces are cached
// per size.
type Renderer struct {
	themeDir string

	mu    sync.RWMutex
	cache map[pieceCacheKey]image.Image
}

// New returns a renderer. themeDir may be empty; when set it must contain
// files named wK.svg, bQ.svg and so on for all twelve pieces.
func New(themeDir string) *Renderer {
	return &Renderer{themeDir: themeDir, cache: make(map[pieceCacheKey]image.Image)}
}

// PNG renders the position.
func (r *Renderer) PNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	drawHeader(img, opts, origin)
	drawSquares(img, origin)
	if opts.Highlight != nil {
		drawSquareOverlay(img, opts.Highlight.From, origin, highlightFill)
		drawSquareOverlay(img, opts.Highlight.To, origin, highlightFill)
	}
	if err := r.drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	boardRanks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	boardFiles = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range boardRanks {
		for col, file := range boardFiles {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			sq := nchess.NewSquare(file, rank)
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize),
				image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func (r *Renderer) drawPieces(dst *image.RGBA, board *nchess.Board, origin image.Point) error {
	boardMap := board.SquareMap()
	for sq, piece := range boardMap {
		if piece == nchess.NoPiece {
			continue
		}
		rect := squareRect(sq, origin)
		img, err := r.pieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		if img != nil {
			imagedraw.Draw(dst, rect, img, image.Point{}, imagedraw.Over)
			continue
		}
		drawGlyphPiece(dst, piece, rect)
	}
	return nil
}

// pieceImage returns the rasterized theme piece, or nil when no theme is
// configured.
func (r *Renderer) pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	if r.themeDir == "" {
		return nil, nil
	}
	key := pieceCacheKey{piece: piece, size: size}
	r.mu.RLock()
	if img, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return img, nil
	}
	r.mu.RUnlock()

	name := pieceAssetName(piece)
	data, err := os.ReadFile(filepath.Join(r.themeDir, name))
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg %s: %w", name, err)
	}
	if icon.ViewBox.W <= 0 {
		icon.ViewBox.W = float64(size)
	}
	if icon.ViewBox.H <= 0 {
		icon.ViewBox.H = float64(size)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	r.mu.Lock()
	r.cache[key] = img
	r.mu.Unlock()
	return img, nil
}

func pieceAssetName(piece nchess.Piece) string {
	prefix := "b"
	if piece.Color() == nchess.White {
		prefix = "w"
	}
	return prefix + pieceLetter(piece.Type()) + ".svg"
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "K"
	case nchess.Queen:
		return "Q"
	case nchess.Rook:
		return "R"
	case nchess.Bishop:
		return "B"
	case nchess.Knight:
		return "N"
	default:
		return "P"
	}
}

// drawGlyphPiece is the asset-free fallback: a filled disc with the piece
// letter on top.
func drawGlyphPiece(img *image.RGBA, piece nchess.Piece, rect image.Rectangle) {
	fill, text := blackPieceFill, blackPieceText
	if piece.Color() == nchess.White {
		fill, text = whitePieceFill, whitePieceText
	}
	center := image.Point{
		X: rect.Min.X + rect.Dx()/2,
		Y: rect.Min.Y + rect.Dy()/2,
	}
	radius := rect.Dx() * 2 / 5
	drawDisc(img, center, radius, fill)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(text),
		Face: basicfont.Face7x13,
	}
	letter := pieceLetter(piece.Type())
	width := drawer.MeasureString(letter).Round()
	drawer.Dot = fixed.P(center.X-width/2, center.Y+basicfont.Face7x13.Ascent/2)
	drawer.DrawString(letter)
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			p := image.Point{X: center.X + x, Y: center.Y + y}
			if p.In(img.Bounds()) {
				img.Set(p.X, p.Y, clr)
			}
		}
	}
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, origin image.Point, clr color.Color) {
	rect := squareRect(sq, origin)
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawHeader(img *image.RGBA, opts Options, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(headerText),
		Face: basicfont.Face7x13,
	}
	if opts.Header != "" {
		drawer.Dot = fixed.P(origin.X, origin.Y-36)
		drawer.DrawString(opts.Header)
	}
	if opts.Turn != "" {
		drawer.Dot = fixed.P(origin.X, origin.Y-16)
		drawer.DrawString(opts.Turn)
	}
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(coordinateText),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Ascent

	for row, rank := range boardRanks {
		y := origin.Y + row*squareSize + squareSize/2 + ascent/2
		drawer.Dot = fixed.P(origin.X-sideMargin/2-3, y)
		drawer.DrawString(rank.String())
	}
	for col, file := range boardFiles {
		x := origin.X + col*squareSize + squareSize/2 - 3
		drawer.Dot = fixed.P(x, origin.Y+boardSize+ascent+6)
		drawer.DrawString(file.String())
	}
}

func squareRect(sq nchess.Square, origin image.Point) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
