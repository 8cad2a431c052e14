package xiangqi

const (
	Width  = 9
	Height = 10

	// Rows 0..4 belong to Black, rows 5..9 to Red.
	riverBlackEdge = 4
	riverRedEdge   = 5
)

// Board is a value type: assigning it copies every cell, which is what the
// snapshot history relies on.
type Board struct {
	cells [Height][Width]Piece
	Turn  Side
}

var backRank = [Width]Kind{Chariot, Horse, Elephant, Advisor, King, Advisor, Elephant, Horse, Chariot}

// NewBoard returns the standard starting position with Red to move.
func NewBoard() Board {
	var b Board
	for x, k := range backRank {
		b.cells[0][x] = Piece{Kind: k, Side: Black}
		b.cells[9][x] = Piece{Kind: k, Side: Red}
	}
	b.cells[2][1] = Piece{Kind: Cannon, Side: Black}
	b.cells[2][7] = Piece{Kind: Cannon, Side: Black}
	b.cells[7][1] = Piece{Kind: Cannon, Side: Red}
	b.cells[7][7] = Piece{Kind: Cannon, Side: Red}
	for x := 0; x < Width; x += 2 {
		b.cells[3][x] = Piece{Kind: Soldier, Side: Black}
		b.cells[6][x] = Piece{Kind: Soldier, Side: Red}
	}
	b.Turn = Red
	return b
}

// EmptyBoard returns a board with no pieces and Red to move.
func EmptyBoard() Board { return Board{Turn: Red} }

func onBoard(x, y int) bool { return x >= 0 && x < Width && y >= 0 && y < Height }

// At returns the piece at (x, y); off-board coordinates read as empty.
func (b *Board) At(x, y int) Piece {
	if !onBoard(x, y) {
		return Piece{}
	}
	return b.cells[y][x]
}

// Set places p at (x, y). Off-board coordinates are ignored.
func (b *Board) Set(x, y int, p Piece) {
	if onBoard(x, y) {
		b.cells[y][x] = p
	}
}

// Apply moves the piece at (fx, fy) to (tx, ty) and flips the turn.
// Legality must have been checked with IsLegalMove.
func (b *Board) Apply(fx, fy, tx, ty int) Piece {
	captured := b.At(tx, ty)
	b.Set(tx, ty, b.At(fx, fy))
	b.Set(fx, fy, Piece{})
	b.Turn = b.Turn.Opponent()
	return captured
}

// IsGameOver reports whether at least one king has left the board.
func (b *Board) IsGameOver() bool {
	red, black := b.kingsPresent()
	return !red || !black
}

// Winner returns the side whose king is still standing once the game is over.
func (b *Board) Winner() (Side, bool) {
	red, black := b.kingsPresent()
	switch {
	case red && !black:
		return Red, true
	case black && !red:
		return Black, true
	default:
		return Red, false
	}
}

func (b *Board) kingsPresent() (red, black bool) {
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			p := b.cells[y][x]
			if p.Kind != King {
				continue
			}
			if p.Side == Red {
				red = true
			} else {
				black = true
			}
		}
	}
	return red, black
}
