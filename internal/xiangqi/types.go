package xiangqi

// Side identifies a player colour.
type Side int8

const (
	Red Side = iota
	Black
)

func (s Side) String() string {
	if s == Black {
		return "black"
	}
	return "red"
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == Red {
		return Black
	}
	return Red
}

// Kind is the piece type. The zero value marks an empty cell.
type Kind int8

const (
	None Kind = iota
	King
	Advisor
	Elephant
	Horse
	Chariot
	Cannon
	Soldier
)

var kindNames = [...]string{"none", "king", "advisor", "elephant", "horse", "chariot", "cannon", "soldier"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Piece is a kind on a side. Piece{} is an empty cell.
type Piece struct {
	Kind Kind
	Side Side
}

func (p Piece) Empty() bool { return p.Kind == None }

func (p Piece) String() string {
	if p.Empty() {
		return "empty"
	}
	return p.Side.String() + "_" + p.Kind.String()
}

// Wire ids: red pieces 1..7, black pieces 17..23, kind order as declared.
const blackIDOffset = 16

// ID returns the stable numeric id used in board serialization.
func (p Piece) ID() int {
	if p.Empty() {
		return 0
	}
	id := int(p.Kind)
	if p.Side == Black {
		id += blackIDOffset
	}
	return id
}

// PieceFromID maps a wire id back to a piece. Unknown ids yield an empty cell.
func PieceFromID(id int) Piece {
	switch {
	case id >= int(King) && id <= int(Soldier):
		return Piece{Kind: Kind(id), Side: Red}
	case id >= int(King)+blackIDOffset && id <= int(Soldier)+blackIDOffset:
		return Piece{Kind: Kind(id - blackIDOffset), Side: Black}
	default:
		return Piece{}
	}
}

// MoveRecord is one applied ply.
type MoveRecord struct {
	FromX, FromY int
	ToX, ToY     int
	Captured     Piece
	Mover        Side
}
