package overlay

import "github.com/sable-inc/sable-smart-links-sub000/dom"

// Placement is the preferred side of the target an overlay sits on.
type Placement string

const (
	Auto   Placement = "auto"
	Top    Placement = "top"
	Bottom Placement = "bottom"
	Left   Placement = "left"
	Right  Placement = "right"
	Center Placement = "center"
)

// Size of an overlay box.
type Size struct {
	Width  float64
	Height float64
}

// Position is where Place put the box.
type Position struct {
	X, Y      float64
	Placement Placement
}

// Gap between target and overlay.
const Gap = 12

// Place positions a box of the given size next to target inside viewport.
// The preferred side flips to the opposite one when it does not fit; Auto
// takes the first side that fits in bottom, top, right, left order. An empty
// target centres the box. The result is clamped to the viewport.
func Place(target dom.Rect, size Size, pref Placement, viewport dom.Rect) Position {
	if target.Empty() || pref == Center {
		return clamp(Position{
			X:         viewport.X + (viewport.Width-size.Width)/2,
			Y:         viewport.Y + (viewport.Height-size.Height)/2,
			Placement: Center,
		}, size, viewport)
	}

	var order []Placement
	switch pref {
	case Top:
		order = []Placement{Top, Bottom}
	case Bottom:
		order = []Placement{Bottom, Top}
	case Left:
		order = []Placement{Left, Right}
	case Right:
		order = []Placement{Right, Left}
	default:
		order = []Placement{Bottom, Top, Right, Left}
	}
	for _, p := range order {
		pos := at(target, size, p)
		if fits(pos, size, viewport) {
			return clamp(pos, size, viewport)
		}
	}
	return clamp(at(target, size, order[0]), size, viewport)
}

func at(t dom.Rect, s Size, p Placement) Position {
	cx := t.X + (t.Width-s.Width)/2
	cy := t.Y + (t.Height-s.Height)/2
	switch p {
	case Top:
		return Position{X: cx, Y: t.Y - s.Height - Gap, Placement: Top}
	case Left:
		return Position{X: t.X - s.Width - Gap, Y: cy, Placement: Left}
	case Right:
		return Position{X: t.X + t.Width + Gap, Y: cy, Placement: Right}
	default:
		return Position{X: cx, Y: t.Y + t.Height + Gap, Placement: Bottom}
	}
}

func fits(p Position, s Size, vp dom.Rect) bool {
	return p.X >= vp.X && p.Y >= vp.Y &&
		p.X+s.Width <= vp.X+vp.Width && p.Y+s.Height <= vp.Y+vp.Height
}

func clamp(p Position, s Size, vp dom.Rect) Position {
	if p.X+s.Width > vp.X+vp.Width {
		p.X = vp.X + vp.Width - s.Width
	}
	if p.Y+s.Height > vp.Y+vp.Height {
		p.Y = vp.Y + vp.Height - s.Height
	}
	if p.X < vp.X {
		p.X = vp.X
	}
	if p.Y < vp.Y {
		p.Y = vp.Y
	}
	return p
}
