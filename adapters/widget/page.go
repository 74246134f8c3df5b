package widget

import (
	"fmt"
	"sync"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
)

// Page is a server-side model of the dialog page's mount points
type Page struct {
	mu      sync.Mutex
	mounts  map[string]*Container
	waiters map[string]chan struct{}
}

// NewPage creates an empty page
func NewPage() *Page {
	return &Page{
		mounts:  make(map[string]*Container),
		waiters: make(map[string]chan struct{}),
	}
}

var (
	_ ports.WidgetHost    = (*Page)(nil)
	_ ports.ReadyNotifier = (*Page)(nil)
)

// Mount creates the mount point id if it does not exist and wakes anyone waiting for it
func (p *Page) Mount(id string) *Container {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.mounts[id]; ok {
		return c
	}
	c := &Container{id: id}
	p.mounts[id] = c
	if ch, ok := p.waiters[id]; ok {
		close(ch)
		delete(p.waiters, id)
	}
	return c
}

// MountPoint returns the container for id, if mounted
func (p *Page) MountPoint(id string) (ports.MountPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.mounts[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// Ready returns a channel closed once id is mounted
func (p *Page) Ready(id string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.mounts[id]; ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch, ok := p.waiters[id]
	if !ok {
		ch = make(chan struct{})
		p.waiters[id] = ch
	}
	return ch
}

// Container is a mount point holding injected elements
type Container struct {
	id       string
	mu       sync.RWMutex
	children []core.Element
}

// ID returns the mount point id
func (c *Container) ID() string {
	return c.id
}

// Contains reports whether an element with elementID was already appended
func (c *Container) Contains(elementID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, el := range c.children {
		if el.ID == elementID {
			return true
		}
	}
	return false
}

// Append adds el as the last child
func (c *Container) Append(el core.Element) error {
	if el.Tag == "" {
		return fmt.Errorf("element %q has no tag", el.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.children = append(c.children, el)
	return nil
}

// Children returns a copy of the appended elements
func (c *Container) Children() []core.Element {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]core.Element, len(c.children))
	copy(out, c.children)
	return out
}
