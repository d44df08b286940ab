package canframe

import (
	"sort"

	"bmscode-go/errcode"
)

// Message binds a schema to a bus identifier.
type Message struct {
	ID     uint32
	Name   string
	Schema *Schema
}

// Catalog indexes messages by name and by identifier.
type Catalog struct {
	byName map[string]Message
	byID   map[uint32]Message
}

// NewCatalog rejects duplicate names or identifiers.
func NewCatalog(msgs ...Message) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]Message, len(msgs)),
		byID:   make(map[uint32]Message, len(msgs)),
	}
	for _, m := range msgs {
		if _, dup := c.byName[m.Name]; dup {
			return nil, errcode.New(errcode.DuplicateName, "new_catalog", m.Name)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, errcode.New(errcode.DuplicateName, "new_catalog", m.Name+": identifier already used")
		}
		c.byName[m.Name] = m
		c.byID[m.ID] = m
	}
	return c, nil
}

// ByName looks a message up by name.
func (c *Catalog) ByName(name string) (Message, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// ByID looks a message up by identifier.
func (c *Catalog) ByID(id uint32) (Message, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Names returns the message names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for n := range c.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
