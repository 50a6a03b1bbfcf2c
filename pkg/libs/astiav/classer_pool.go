package astiavreader

import (
	"sync"

	"github.com/asticode/go-astiav"
)

var classers = newClasserPool()

type classerPool struct {
	m sync.Mutex
	p map[astiav.Classer]*Source
}

func newClasserPool() *classerPool {
	return &classerPool{p: make(map[astiav.Classer]*Source)}
}

func (p *classerPool) set(c astiav.Classer, s *Source) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[c] = s
}

func (p *classerPool) del(c astiav.Classer) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, c)
}

func (p *classerPool) get(c astiav.Classer) (*Source, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	s, ok := p.p[c]
	return s, ok
}
