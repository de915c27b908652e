package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/chartflow/chartflow/pkg/models"
)

// Conversations persists one directory per conversation. Saves are atomic
// per conversation id; traces are written next to conversation.json by the
// trace recorder.
type Conversations struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*models.Conversation
}

// Dir returns the directory of one conversation, for trace recorders.
func (c *Conversations) Dir(id string) string {
	return filepath.Join(c.dir, id)
}

// Get loads a conversation, from cache when warm.
func (c *Conversations) Get(id string) (*models.Conversation, error) {
	c.mu.RLock()
	if conv, ok := c.cache[id]; ok {
		c.mu.RUnlock()
		return conv, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.cache[id]; ok {
		return conv, nil
	}
	var conv models.Conversation
	if err := readJSON(filepath.Join(c.Dir(id), "conversation.json"), &conv); err != nil {
		return nil, err
	}
	if c.cache == nil {
		c.cache = map[string]*models.Conversation{}
	}
	c.cache[id] = &conv
	return &conv, nil
}

// Save writes a conversation to disk, then refreshes the cache.
func (c *Conversations) Save(conv *models.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeJSON(filepath.Join(c.Dir(conv.ID), "conversation.json"), conv); err != nil {
		return err
	}
	if c.cache == nil {
		c.cache = map[string]*models.Conversation{}
	}
	c.cache[conv.ID] = conv
	return nil
}

// List returns the conversation ids on disk.
func (c *Conversations) List() ([]string, error) {
	return listNames(c.dir, false)
}

// Invalidate drops one conversation from the cache, or all when id is
// empty.
func (c *Conversations) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.cache = nil
		return
	}
	delete(c.cache, id)
}
