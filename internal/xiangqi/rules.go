package xiangqi

// IsLegalMove checks a move against the side to move and the piece rules.
// There is no check detection: a move that leaves the mover's king exposed
// is still legal.
func (b *Board) IsLegalMove(fx, fy, tx, ty int) bool {
	if !onBoard(fx, fy) || !onBoard(tx, ty) {
		return false
	}
	p := b.At(fx, fy)
	if p.Empty() || p.Side != b.Turn {
		return false
	}
	if t := b.At(tx, ty); !t.Empty() && t.Side == p.Side {
		return false
	}

	switch p.Kind {
	case King:
		return inPalace(p.Side, tx, ty) && abs(tx-fx)+abs(ty-fy) == 1
	case Advisor:
		return inPalace(p.Side, tx, ty) && abs(tx-fx) == 1 && abs(ty-fy) == 1
	case Elephant:
		return b.elephantMove(p.Side, fx, fy, tx, ty)
	case Horse:
		return b.horseMove(fx, fy, tx, ty)
	case Chariot:
		return (fx == tx || fy == ty) && b.between(fx, fy, tx, ty) == 0
	case Cannon:
		return b.cannonMove(fx, fy, tx, ty)
	case Soldier:
		return soldierMove(p.Side, fx, fy, tx, ty)
	}
	return false
}

func inPalace(s Side, x, y int) bool {
	if x < 3 || x > 5 {
		return false
	}
	if s == Red {
		return y >= 7 && y <= 9
	}
	return y >= 0 && y <= 2
}

// ownHalf reports whether row y lies on side s's half of the river.
func ownHalf(s Side, y int) bool {
	if s == Red {
		return y >= riverRedEdge
	}
	return y <= riverBlackEdge
}

func (b *Board) elephantMove(s Side, fx, fy, tx, ty int) bool {
	if !ownHalf(s, ty) {
		return false
	}
	if abs(tx-fx) != 2 || abs(ty-fy) != 2 {
		return false
	}
	return b.At((fx+tx)/2, (fy+ty)/2).Empty()
}

func (b *Board) horseMove(fx, fy, tx, ty int) bool {
	dx, dy := abs(tx-fx), abs(ty-fy)
	if !(dx == 2 && dy == 1) && !(dx == 1 && dy == 2) {
		return false
	}
	legX, legY := fx, fy
	if dx == 2 {
		legX += sign(tx - fx)
	} else {
		legY += sign(ty - fy)
	}
	return b.At(legX, legY).Empty()
}

func (b *Board) cannonMove(fx, fy, tx, ty int) bool {
	if fx != tx && fy != ty {
		return false
	}
	if b.At(tx, ty).Empty() {
		return b.between(fx, fy, tx, ty) == 0
	}
	return b.between(fx, fy, tx, ty) == 1
}

func soldierMove(s Side, fx, fy, tx, ty int) bool {
	dx, dy := tx-fx, ty-fy
	if abs(dx)+abs(dy) != 1 {
		return false
	}
	forward := -1
	if s == Black {
		forward = 1
	}
	if dx == 0 && dy == forward {
		return true
	}
	// Sideways only once the source square is past the river.
	return dy == 0 && !ownHalf(s, fy)
}

// between counts occupied cells strictly between two points on one line.
func (b *Board) between(fx, fy, tx, ty int) int {
	sx, sy := sign(tx-fx), sign(ty-fy)
	n := 0
	for x, y := fx+sx, fy+sy; x != tx || y != ty; x, y = x+sx, y+sy {
		if !b.At(x, y).Empty() {
			n++
		}
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
