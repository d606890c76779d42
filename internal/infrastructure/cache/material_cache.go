// Package cache provides caching infrastructure with PostgreSQL LISTEN/NOTIFY support.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"concreterp/internal/core/id"
	"concreterp/internal/domain/arkik"
	"concreterp/pkg/logger"
)

// MaterialsChannel is the NOTIFY channel raised by the materials trigger.
// The payload is the plant id of the changed row.
const MaterialsChannel = "materials_changed"

// MaterialLoader loads the active materials of one plant.
type MaterialLoader interface {
	PlantMaterials(ctx context.Context, plantID id.ID) ([]arkik.PlantMaterial, error)
}

// InvalidationListener is called after the cache dropped entries.
type InvalidationListener func(channel string, payload string)

// MaterialCache keeps the material catalog of each plant in memory, keyed by
// material code. Plants are loaded on first use and dropped when PostgreSQL
// notifies a change on MaterialsChannel.
type MaterialCache struct {
	pool   *pgxpool.Pool
	loader MaterialLoader

	mu     sync.RWMutex
	plants map[id.ID]map[string]arkik.PlantMaterial
	hits   uint64
	misses uint64

	listeners   []InvalidationListener
	listenersMu sync.RWMutex

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewMaterialCache creates a material cache. pool may be nil, in which case
// Start is a no-op and entries are never invalidated.
func NewMaterialCache(pool *pgxpool.Pool, loader MaterialLoader) *MaterialCache {
	return &MaterialCache{
		pool:   pool,
		loader: loader,
		plants: make(map[id.ID]map[string]arkik.PlantMaterial),
	}
}

// ResolveMaterials returns the cached materials of plant whose codes are in codes.
func (c *MaterialCache) ResolveMaterials(ctx context.Context, plantID id.ID, codes []string) (map[string]arkik.PlantMaterial, error) {
	out := make(map[string]arkik.PlantMaterial, len(codes))
	if len(codes) == 0 {
		return out, nil
	}

	catalog, err := c.plant(ctx, plantID)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		if m, ok := catalog[code]; ok {
			out[code] = m
		}
	}
	return out, nil
}

func (c *MaterialCache) plant(ctx context.Context, plantID id.ID) (map[string]arkik.PlantMaterial, error) {
	c.mu.Lock()
	catalog, ok := c.plants[plantID]
	if ok {
		c.hits++
		c.mu.Unlock()
		return catalog, nil
	}
	c.misses++
	c.mu.Unlock()

	materials, err := c.loader.PlantMaterials(ctx, plantID)
	if err != nil {
		return nil, fmt.Errorf("load materials of plant %s: %w", plantID, err)
	}
	catalog = make(map[string]arkik.PlantMaterial, len(materials))
	for _, m := range materials {
		catalog[m.Code] = m
	}

	c.mu.Lock()
	c.plants[plantID] = catalog
	c.mu.Unlock()
	return catalog, nil
}

// Start begins listening for NOTIFY events.
func (c *MaterialCache) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.pool == nil {
		return nil
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "material cache started")
	return nil
}

// Stop stops the listener and waits for it to exit.
func (c *MaterialCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	logger.Info(context.Background(), "material cache stopped")
}

func (c *MaterialCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+MaterialsChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", MaterialsChannel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Anything cached before LISTEN took effect may be stale.
		c.invalidate("")
		logger.Info(c.ctx, "listening for notifications", "channel", MaterialsChannel)

		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *MaterialCache) waitForNotifications(conn *pgxpool.Conn) {
	for c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue // timeout
			}
			logger.Warn(c.ctx, "lost LISTEN connection", "error", err)
			return
		}

		logger.Debug(c.ctx, "received notification",
			"channel", notification.Channel,
			"payload", notification.Payload)
		c.handleNotification(notification.Channel, notification.Payload)
	}
}

func (c *MaterialCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}

func (c *MaterialCache) handleNotification(channel, payload string) {
	if channel != MaterialsChannel {
		return
	}
	c.invalidate(payload)

	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, listener := range c.listeners {
		func(l InvalidationListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(context.Background(), "listener panic recovered", "channel", channel, "panic", r)
				}
			}()
			l(channel, payload)
		}(listener)
	}
}

// invalidate drops one plant, or every plant when payload is not a plant id.
func (c *MaterialCache) invalidate(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	plantID, err := id.Parse(strings.TrimSpace(payload))
	if err != nil || id.IsNil(plantID) {
		c.plants = make(map[id.ID]map[string]arkik.PlantMaterial)
		return
	}
	delete(c.plants, plantID)
}

// OnInvalidation registers a listener called after each handled notification.
func (c *MaterialCache) OnInvalidation(listener InvalidationListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Stats returns cache statistics.
func (c *MaterialCache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	materials := 0
	for _, catalog := range c.plants {
		materials += len(catalog)
	}
	return map[string]any{
		"plants":    len(c.plants),
		"materials": materials,
		"hits":      c.hits,
		"misses":    c.misses,
	}
}
