package sim

import (
	"sync"

	"bmscode-go/errcode"
	"bmscode-go/x/mathx"
)

// Charger sources the requested current into a Pack while started.
type Charger struct {
	pack *Pack
	maxA float64

	mu       sync.Mutex
	running  bool
	requestA float64
	starts   int
}

func NewCharger(p *Pack, maxA float64) *Charger { return &Charger{pack: p, maxA: maxA} }

func (c *Charger) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.starts++
	return nil
}

// Request sets the charge current, limited to the charger's rating.
func (c *Charger) Request(currentA float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return errcode.New(errcode.InvalidParams, "sim.charger", "not started")
	}
	c.requestA = mathx.Clamp(currentA, 0, c.maxA)
	c.pack.SetCurrent(-c.requestA)
	return nil
}

func (c *Charger) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.pack.SetCurrent(0)
	}
	c.running = false
	c.requestA = 0
	return nil
}

func (c *Charger) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Charger) Requested() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestA
}
