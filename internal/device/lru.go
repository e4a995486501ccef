package device

import "container/list"

// lru is a small bounded cache of recently-resolved path→device lookups,
// generalized from the teacher's map-based indices into an explicit
// least-recently-used eviction policy per §4.2's "small LRU cache of the
// most recently resolved paths".
type lru struct {
	size int
	ll   *list.List
	idx  map[string]*list.Element
}

type lruEntry struct {
	path string
	d    *Descriptor
}

func newLRU(size int) *lru {
	if size <= 0 {
		size = 256
	}
	return &lru{size: size, ll: list.New(), idx: make(map[string]*list.Element)}
}

func (c *lru) get(path string) (*Descriptor, bool) {
	e, ok := c.idx[path]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*lruEntry).d, true
}

func (c *lru) put(path string, d *Descriptor) {
	if e, ok := c.idx[path]; ok {
		e.Value.(*lruEntry).d = d
		c.ll.MoveToFront(e)
		return
	}
	e := c.ll.PushFront(&lruEntry{path: path, d: d})
	c.idx[path] = e
	for c.ll.Len() > c.size {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.idx, back.Value.(*lruEntry).path)
	}
}

func (c *lru) remove(path string) {
	if e, ok := c.idx[path]; ok {
		c.ll.Remove(e)
		delete(c.idx, path)
	}
}
