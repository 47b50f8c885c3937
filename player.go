package server

import "time"

// Direction is the facing and travel axis of a player. Movement is
// axis-priority ordered (up > down > left > right); only one direction is
// active at a time and there is no diagonal motion.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"

	defaultDirection Direction = DirectionDown
)

// ParseDirection validates a direction string received from a client.
func ParseDirection(value string) (Direction, bool) {
	switch Direction(value) {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return Direction(value), true
	default:
		return "", false
	}
}

// PickDirection selects the active direction from the currently pressed
// keys, honoring the up > down > left > right priority order.
func PickDirection(up, down, left, right bool) (Direction, bool) {
	switch {
	case up:
		return DirectionUp, true
	case down:
		return DirectionDown, true
	case left:
		return DirectionLeft, true
	case right:
		return DirectionRight, true
	default:
		return "", false
	}
}

// Vector returns the unit vector for the direction.
func (d Direction) Vector() (float64, float64) {
	switch d {
	case DirectionUp:
		return 0, -1
	case DirectionDown:
		return 0, 1
	case DirectionLeft:
		return -1, 0
	case DirectionRight:
		return 1, 0
	default:
		return 0, 0
	}
}

// Player is the wire view of a connected player. Identity is the
// connection id; there is exactly one Player per live connection and the
// registry is the sole owner of its lifetime.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Direction   Direction `json:"direction"`
	Moving      bool      `json:"isMoving"`
	Score       int       `json:"score"`
	ConnectedAt int64     `json:"connectedAt"`
}

type playerState struct {
	Player
	joinedAt time.Time
}

func (s *playerState) snapshot() Player {
	return s.Player
}
