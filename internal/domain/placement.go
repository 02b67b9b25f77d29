package domain

import "math"

const (
	// DefaultItemSize is the edge length, in canvas points, of an unscaled item.
	DefaultItemSize = 100
	// DefaultCanvasWidth and DefaultCanvasHeight size the composition canvas.
	DefaultCanvasWidth  = 360
	DefaultCanvasHeight = 320
	// MinResizeScale bounds the resize handle from below.
	MinResizeScale = 0.3

	canvasMargin = 16
	staggerStepX = 56
	staggerStepY = 44
)

// Transform positions one item on the canvas.
type Transform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// ItemPlacement is the transform of an item plus the gesture bookkeeping
// needed to apply relative gesture updates.
type ItemPlacement struct {
	Transform  Transform
	OffsetX    float64
	OffsetY    float64
	SavedScale float64
	Resizing   bool
}

// CanvasSize is the drawable area of a composition.
type CanvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlacementState is the input and output of ReducePlacement.
type PlacementState struct {
	Canvas   CanvasSize
	ItemSize float64
	Active   string
	Items    map[string]ItemPlacement
}

// GestureKind enumerates the discrete gesture messages accepted by the reducer.
type GestureKind string

const (
	GestureDragBegin    GestureKind = "drag_begin"
	GestureDragStart    GestureKind = "drag_start"
	GestureDragUpdate   GestureKind = "drag_update"
	GestureDragEnd      GestureKind = "drag_end"
	GesturePinchUpdate  GestureKind = "pinch_update"
	GesturePinchEnd     GestureKind = "pinch_end"
	GestureResizeBegin  GestureKind = "resize_begin"
	GestureResizeUpdate GestureKind = "resize_update"
	GestureResizeEnd    GestureKind = "resize_end"
	GestureSelect       GestureKind = "select"
	GestureDeselect     GestureKind = "deselect"
)

// GestureEvent is one gesture message. DX and DY are the cumulative
// translation since the gesture started; Scale is the cumulative pinch factor.
type GestureEvent struct {
	Kind   GestureKind `json:"kind"`
	ItemID string      `json:"itemId,omitempty"`
	DX     float64     `json:"dx,omitempty"`
	DY     float64     `json:"dy,omitempty"`
	Scale  float64     `json:"scale,omitempty"`
}

// Valid reports whether the event kind is known.
func (e GestureEvent) Valid() bool {
	switch e.Kind {
	case GestureDragBegin, GestureDragStart, GestureDragUpdate, GestureDragEnd,
		GesturePinchUpdate, GesturePinchEnd,
		GestureResizeBegin, GestureResizeUpdate, GestureResizeEnd,
		GestureSelect, GestureDeselect:
		return true
	default:
		return false
	}
}

// NewPlacementState lays out ids staggered across the canvas in the given order.
func NewPlacementState(ids []string, canvas CanvasSize, itemSize float64) PlacementState {
	if canvas.Width <= 0 {
		canvas.Width = DefaultCanvasWidth
	}
	if canvas.Height <= 0 {
		canvas.Height = DefaultCanvasHeight
	}
	if itemSize <= 0 {
		itemSize = DefaultItemSize
	}
	state := PlacementState{
		Canvas:   canvas,
		ItemSize: itemSize,
		Items:    make(map[string]ItemPlacement, len(ids)),
	}
	spanX := math.Max(1, float64(canvas.Width)-itemSize-2*canvasMargin)
	spanY := math.Max(1, float64(canvas.Height)-itemSize-2*canvasMargin)
	for i, id := range ids {
		x := canvasMargin + math.Mod(float64(i*staggerStepX), spanX)
		y := canvasMargin + math.Mod(float64(i*staggerStepY), spanY)
		state.Items[id] = ItemPlacement{
			Transform:  Transform{X: x, Y: y, Scale: 1},
			OffsetX:    x,
			OffsetY:    y,
			SavedScale: 1,
		}
	}
	return state
}

// Clone returns a deep copy of the state.
func (s PlacementState) Clone() PlacementState {
	out := s
	out.Items = make(map[string]ItemPlacement, len(s.Items))
	for id, placement := range s.Items {
		out.Items[id] = placement
	}
	return out
}

// ReducePlacement applies a gesture to state and returns the new state. The
// input is not modified. Events for unknown items are ignored. Drag and pinch
// messages for the same item may interleave.
func ReducePlacement(state PlacementState, ev GestureEvent) PlacementState {
	if ev.Kind == GestureDeselect {
		next := state.Clone()
		next.Active = ""
		return next
	}

	current, ok := state.Items[ev.ItemID]
	if !ok {
		return state
	}
	next := state.Clone()
	itemSize := state.ItemSize
	if itemSize <= 0 {
		itemSize = DefaultItemSize
	}

	switch ev.Kind {
	case GestureSelect, GestureDragBegin:
		next.Active = ev.ItemID
	case GestureDragStart:
		current.OffsetX = current.Transform.X
		current.OffsetY = current.Transform.Y
	case GestureDragUpdate:
		current.Transform.X = current.OffsetX + ev.DX
		current.Transform.Y = current.OffsetY + ev.DY
	case GestureDragEnd:
		current.OffsetX = current.Transform.X
		current.OffsetY = current.Transform.Y
	case GesturePinchUpdate:
		if ev.Scale <= 0 {
			return state
		}
		current.Transform.Scale = current.SavedScale * ev.Scale
	case GesturePinchEnd:
		current.SavedScale = current.Transform.Scale
	case GestureResizeBegin:
		if state.Active != ev.ItemID {
			return state
		}
		current.SavedScale = current.Transform.Scale
		current.Resizing = true
	case GestureResizeUpdate:
		if !current.Resizing {
			return state
		}
		change := (ev.DX + ev.DY) / (2 * itemSize)
		current.Transform.Scale = math.Max(MinResizeScale, current.SavedScale+change)
	case GestureResizeEnd:
		if !current.Resizing {
			return state
		}
		current.SavedScale = current.Transform.Scale
		current.Resizing = false
	default:
		return state
	}

	next.Items[ev.ItemID] = current
	return next
}
