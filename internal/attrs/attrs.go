// Package attrs provides the keyed attribute stores behind request, session
// and context attributes.
package attrs

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store maps attribute names to opaque values. Set and Remove return the
// prior value, or nil.
type Store interface {
	Get(name string) any
	Set(name string, value any) any
	Remove(name string) any
	Names() []string
	Len() int
	Clear()
}

var (
	_ Store = (*Concurrent)(nil)
	_ Store = (*Ordered)(nil)
)

// Concurrent is safe for concurrent readers and writers. Names are returned
// sorted since the backing map has no stable order.
type Concurrent struct {
	m *xsync.MapOf[string, any]
}

func NewConcurrent() *Concurrent {
	return &Concurrent{m: xsync.NewMapOf[string, any]()}
}

func (c *Concurrent) Get(name string) any {
	v, _ := c.m.Load(name)
	return v
}

func (c *Concurrent) Set(name string, value any) any {
	prev, loaded := c.m.LoadAndStore(name, value)
	if !loaded {
		return nil
	}
	return prev
}

func (c *Concurrent) Remove(name string) any {
	prev, _ := c.m.LoadAndDelete(name)
	return prev
}

func (c *Concurrent) Names() []string {
	names := make([]string, 0, c.m.Size())
	c.m.Range(func(k string, _ any) bool {
		names = append(names, k)
		return true
	})
	sort.Strings(names)
	return names
}

func (c *Concurrent) Len() int { return c.m.Size() }

func (c *Concurrent) Clear() { c.m.Clear() }

// Ordered preserves insertion order and must only be used by one goroutine
// at a time.
type Ordered struct {
	m *orderedmap.OrderedMap[string, any]
}

func NewOrdered() *Ordered {
	return &Ordered{m: orderedmap.New[string, any]()}
}

func (o *Ordered) Get(name string) any {
	v, _ := o.m.Get(name)
	return v
}

func (o *Ordered) Set(name string, value any) any {
	prev, _ := o.m.Set(name, value)
	return prev
}

func (o *Ordered) Remove(name string) any {
	prev, _ := o.m.Delete(name)
	return prev
}

func (o *Ordered) Names() []string {
	names := make([]string, 0, o.m.Len())
	for p := o.m.Oldest(); p != nil; p = p.Next() {
		names = append(names, p.Key)
	}
	return names
}

func (o *Ordered) Len() int { return o.m.Len() }

func (o *Ordered) Clear() { o.m = orderedmap.New[string, any]() }
