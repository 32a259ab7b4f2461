package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/samueldurantes/chesu-client/internal/board"
	"github.com/samueldurantes/chesu-client/internal/domain"
)

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	margin       = 24
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{40, 42, 54, 255}
	coordinateText = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

// Renderer draws a position as a PNG, oriented for the viewer: the
// viewer's own color sits at the bottom edge, spectators see white's
// side of the board.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

func (r *Renderer) RenderPNG(pos *board.Position, orientation domain.Color) ([]byte, error) {
	if pos == nil || pos.Board == nil {
		return nil, fmt.Errorf("position is nil")
	}

	totalSize := boardSize + margin*2
	img := image.NewRGBA(image.Rect(0, 0, totalSize, totalSize))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	origin := image.Point{X: margin, Y: margin}
	ranks, files := boardAxes(orientation)

	drawSquares(img, origin, ranks, files)
	drawLastMove(img, origin, ranks, files, pos.LastMove)
	if err := drawPieces(img, origin, ranks, files, pos.Board); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, ranks, files)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// boardAxes returns rank and file draw order, top-left square first.
func boardAxes(orientation domain.Color) ([]nchess.Rank, []nchess.File) {
	ranks := []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files := []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	if orientation == domain.Black {
		reverse(ranks)
		reverse(files)
	}
	return ranks, files
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func drawSquares(dst imagedraw.Image, origin image.Point, ranks []nchess.Rank, files []nchess.File) {
	for row, rank := range ranks {
		for col, file := range files {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := squareColor(nchess.NewSquare(file, rank))
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawLastMove(dst imagedraw.Image, origin image.Point, ranks []nchess.Rank, files []nchess.File, mv *nchess.Move) {
	if mv == nil {
		return
	}
	for _, sq := range []nchess.Square{mv.S1(), mv.S2()} {
		if rect, ok := squareRect(origin, ranks, files, sq); ok {
			imagedraw.Draw(dst, rect, image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
		}
	}
}

func drawPieces(dst imagedraw.Image, origin image.Point, ranks []nchess.Rank, files []nchess.File, b *nchess.Board) error {
	boardMap := b.SquareMap()
	for row, rank := range ranks {
		for col, file := range files {
			piece := boardMap[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func squareRect(origin image.Point, ranks []nchess.Rank, files []nchess.File, sq nchess.Square) (image.Rectangle, bool) {
	row, col := -1, -1
	for i, r := range ranks {
		if r == sq.Rank() {
			row = i
			break
		}
	}
	for i, f := range files {
		if f == sq.File() {
			col = i
			break
		}
	}
	if row < 0 || col < 0 {
		return image.Rectangle{}, false
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize), true
}

func drawCoordinates(dst *image.RGBA, origin image.Point, ranks []nchess.Rank, files []nchess.File) {
	face := basicfont.Face7x13
	for row, rank := range ranks {
		label := fmt.Sprintf("%d", int(rank)+1)
		y := origin.Y + row*squareSize + squareSize/2 + face.Height/2
		drawText(dst, face, label, margin/2-4, y)
	}
	for col, file := range files {
		label := file.String()
		x := origin.X + col*squareSize + squareSize/2 - 3
		drawText(dst, face, label, x, origin.Y+boardSize+margin/2+4)
	}
}

func drawText(dst *image.RGBA, face font.Face, text string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(coordinateText),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
