package xiangqi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadBoardState = errors.New("malformed board state")

// Serialize encodes the board as "R|" or "B|" followed by 90 comma-terminated
// piece ids in row-major order.
func (b *Board) Serialize() string {
	var sb strings.Builder
	sb.Grow(2 + Width*Height*3)
	if b.Turn == Red {
		sb.WriteString("R|")
	} else {
		sb.WriteString("B|")
	}
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			sb.WriteString(strconv.Itoa(b.cells[y][x].ID()))
			sb.WriteByte(',')
		}
	}
	return sb.String()
}

// Deserialize parses the Serialize format. Unknown ids become empty cells and
// missing trailing cells stay empty.
func Deserialize(s string) (Board, error) {
	var b Board
	turn, cells, ok := strings.Cut(strings.TrimSpace(s), "|")
	if !ok {
		return b, fmt.Errorf("%w: missing turn delimiter", ErrBadBoardState)
	}
	switch turn {
	case "R":
		b.Turn = Red
	case "B":
		b.Turn = Black
	default:
		return b, fmt.Errorf("%w: turn marker %q", ErrBadBoardState, turn)
	}

	tokens := strings.Split(strings.TrimSuffix(cells, ","), ",")
	if len(tokens) > Width*Height {
		return b, fmt.Errorf("%w: %d cells", ErrBadBoardState, len(tokens))
	}
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil {
			return b, fmt.Errorf("%w: cell %d: %v", ErrBadBoardState, i, err)
		}
		b.cells[i/Width][i%Width] = PieceFromID(id)
	}
	return b, nil
}
