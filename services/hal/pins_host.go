//go:build !rp2040

package hal

import "sync"

// MemPin is an in-memory GPIOPin for host builds and tests.
type MemPin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	writes  int
}

func (p *MemPin) ConfigureInput(_ Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *MemPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *MemPin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.writes++
	p.mu.Unlock()
}

func (p *MemPin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *MemPin) Toggle() { p.Set(!p.Get()) }

func (p *MemPin) Number() int { return p.number }

// IsOutput reports whether the pin was last configured as an output.
func (p *MemPin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Writes counts Set calls.
func (p *MemPin) Writes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writes
}

// MemPinFactory returns stable *MemPin instances per number.
type MemPinFactory struct {
	mu   sync.Mutex
	pins map[int]*MemPin
}

func (f *MemPinFactory) ByNumber(n int) (GPIOPin, bool) {
	if n < 0 {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*MemPin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = &MemPin{number: n}
		f.pins[n] = p
	}
	return p, true
}

// Get exposes the underlying *MemPin, if it has been claimed.
func (f *MemPinFactory) Get(n int) (*MemPin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	return p, ok
}

// DefaultPinFactory provides the host GPIO factory.
func DefaultPinFactory() PinFactory { return &MemPinFactory{} }
