// Package eventqueue implements the bounded, chronologically ordered event
// queue that feeds a session's worker loop.
//
// The ordering structure is a red-black tree keyed by the composite
// (timestamp, sequence) pair rather than by price — this is the same
// ordered-map-with-O(1)-min shape a limit order book's price index needs,
// just re-keyed for chronological replay instead of price-time priority.
// Because every push is stamped with a strictly increasing sequence number,
// keys are always unique: there is no FIFO bucket per key the way a price
// level needs one for same-price orders.
package eventqueue

import "github.com/rishav/marketsim/internal/model"

type color bool

const (
	red   color = true
	black color = false
)

// eventKey is the (timestamp, sequence) ordering key.
type eventKey struct {
	ts  int64
	seq uint64
}

func (k eventKey) less(other eventKey) bool {
	if k.ts != other.ts {
		return k.ts < other.ts
	}
	return k.seq < other.seq
}

type rbNode struct {
	key    eventKey
	event  model.Event
	color  color
	left   *rbNode
	right  *rbNode
	parent *rbNode
}

// rbTree is a red-black tree keyed by (timestamp, sequence), caching the
// minimum node for O(1) peek/pop of the earliest event.
type rbTree struct {
	root    *rbNode
	size    int
	minNode *rbNode
}

func newRBTree() *rbTree {
	return &rbTree{}
}

func (t *rbTree) Size() int {
	return t.size
}

func (t *rbTree) IsEmpty() bool {
	return t.size == 0
}

// Min returns the earliest event without removing it.
func (t *rbTree) Min() (model.Event, bool) {
	if t.minNode == nil {
		return model.Event{}, false
	}
	return t.minNode.event, true
}

// Max walks to the rightmost node. No overflow policy calls it:
// drop_oldest always evicts the minimum.
func (t *rbTree) Max() (model.Event, bool) {
	if t.root == nil {
		return model.Event{}, false
	}
	n := t.root
	for n.right != nil {
		n = n.right
	}
	return n.event, true
}

// Insert adds an event under its (timestamp, sequence) key.
func (t *rbTree) Insert(ev model.Event) {
	key := eventKey{ts: ev.Timestamp, seq: ev.Sequence}
	newNode := &rbNode{key: key, event: ev, color: red}

	if t.root == nil {
		newNode.color = black
		t.root = newNode
		t.minNode = newNode
		t.size = 1
		return
	}

	var parent *rbNode
	current := t.root
	for current != nil {
		parent = current
		if key.less(current.key) {
			current = current.left
		} else {
			current = current.right
		}
	}

	newNode.parent = parent
	if key.less(parent.key) {
		parent.left = newNode
	} else {
		parent.right = newNode
	}
	t.size++

	if key.less(t.minNode.key) {
		t.minNode = newNode
	}

	t.insertFixup(newNode)
}

// PopMin removes and returns the earliest event.
func (t *rbTree) PopMin() (model.Event, bool) {
	if t.minNode == nil {
		return model.Event{}, false
	}
	node := t.minNode
	ev := node.event
	t.minNode = t.successor(node)
	t.deleteNode(node)
	t.size--
	return ev, true
}

// Clear empties the tree.
func (t *rbTree) Clear() {
	t.root = nil
	t.minNode = nil
	t.size = 0
}

func (t *rbTree) successor(node *rbNode) *rbNode {
	if node.right != nil {
		current := node.right
		for current.left != nil {
			current = current.left
		}
		return current
	}
	parent := node.parent
	for parent != nil && node == parent.right {
		node = parent
		parent = parent.parent
	}
	return parent
}

func (t *rbTree) rotateLeft(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *rbTree) rotateRight(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *rbTree) insertFixup(z *rbNode) {
	for z.parent != nil && z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y != nil && y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y != nil && y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *rbTree) transplant(u, v *rbNode) {
	if u.parent == nil {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func (t *rbTree) deleteNode(z *rbNode) {
	var x, xParent *rbNode
	y := z
	yOriginalColor := y.color

	if z.left == nil {
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	} else if z.right == nil {
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	} else {
		y = z.right
		for y.left != nil {
			y = y.left
		}
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		t.deleteFixup(x, xParent)
	}
}

func (t *rbTree) deleteFixup(x *rbNode, xParent *rbNode) {
	for x != t.root && (x == nil || x.color == black) {
		if xParent == nil {
			break
		}
		if x == xParent.left {
			w := xParent.right
			if w != nil && w.color == red {
				w.color = black
				xParent.color = red
				t.rotateLeft(xParent)
				w = xParent.right
			}
			if w == nil || ((w.left == nil || w.left.color == black) && (w.right == nil || w.right.color == black)) {
				if w != nil {
					w.color = red
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.right == nil || w.right.color == black {
					if w.left != nil {
						w.left.color = black
					}
					w.color = red
					t.rotateRight(w)
					w = xParent.right
				}
				w.color = xParent.color
				xParent.color = black
				if w.right != nil {
					w.right.color = black
				}
				t.rotateLeft(xParent)
				x = t.root
			}
		} else {
			w := xParent.left
			if w != nil && w.color == red {
				w.color = black
				xParent.color = red
				t.rotateRight(xParent)
				w = xParent.left
			}
			if w == nil || ((w.right == nil || w.right.color == black) && (w.left == nil || w.left.color == black)) {
				if w != nil {
					w.color = red
				}
				x = xParent
				xParent = x.parent
			} else {
				if w.left == nil || w.left.color == black {
					if w.right != nil {
						w.right.color = black
					}
					w.color = red
					t.rotateLeft(w)
					w = xParent.left
				}
				w.color = xParent.color
				xParent.color = black
				if w.left != nil {
					w.left.color = black
				}
				t.rotateRight(xParent)
				x = t.root
			}
		}
	}
	if x != nil {
		x.color = black
	}
}
