package service

import (
	"sync"

	"github.com/adwski/audiorooms/backend/storage/memory"
)

// Client is a relay-side signaling connection.
//
// Name and room change only under the corresponding name and room locks,
// the mutex only makes single reads consistent.
type Client struct {
	id   string
	mx   *sync.Mutex
	name string
	room *memory.Room
}

func NewClient(id string) *Client {
	return &Client{
		id: id,
		mx: &sync.Mutex{},
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Name() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.name
}

func (c *Client) Room() *memory.Room {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.room
}

func (c *Client) set(name string, room *memory.Room) {
	c.mx.Lock()
	c.name = name
	c.room = room
	c.mx.Unlock()
}

func (c *Client) setName(name string) {
	c.mx.Lock()
	c.name = name
	c.mx.Unlock()
}

func (c *Client) setRoom(room *memory.Room) {
	c.mx.Lock()
	c.room = room
	c.mx.Unlock()
}
