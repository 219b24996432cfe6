// Package fleet implements the Fleet Coordinator: instance registration,
// heartbeats, admission control and least-loaded ranking across the
// cluster, driven by a single background goroutine on a ticker and a
// stop channel.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

const (
	instanceKeyPrefix   = "fleet:instance:"
	timeseriesKeyPrefix = "fleet:ts:"
	timeseriesCap       = 100
	timeseriesWindow    = time.Hour
	healthyWithin       = 30 * time.Second
	deadAfter           = 60 * time.Second
)

// Coordinator is the Fleet Coordinator. One instance runs per process.
type Coordinator struct {
	ss       interfaces.SharedStore
	sampler  Sampler
	instance types.InstanceRecord

	instanceTTL       time.Duration
	heartbeatInterval time.Duration

	activeConnections int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Coordinator for this process. InstanceID is
// host+pid+boot-nanos.
func New(ss interfaces.SharedStore, host string, port int, instanceTTL, heartbeatInterval time.Duration) *Coordinator {
	id := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	return &Coordinator{
		ss:      ss,
		sampler: newRuntimeSampler(),
		instance: types.InstanceRecord{
			InstanceID: id,
			Host:       host,
			Port:       port,
			Healthy:    true,
		},
		instanceTTL:       instanceTTL,
		heartbeatInterval: heartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// InstanceID returns this process's cluster identity.
func (c *Coordinator) InstanceID() string { return c.instance.InstanceID }

// Start writes the initial instance record and begins the heartbeat loop.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.heartbeatOnce(ctx); err != nil {
		return fmt.Errorf("fleet: initial heartbeat: %w", err)
	}
	c.wg.Add(1)
	go c.run(ctx)
	log.Printf("fleet: instance %s started on %s:%d", c.instance.InstanceID, c.instance.Host, c.instance.Port)
	return nil
}

// Stop ends the heartbeat loop and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// SetActiveConnections updates the connection count reported in heartbeats.
// Called by the Connection Supervisor as connections come and go.
func (c *Coordinator) SetActiveConnections(n int) {
	atomic.StoreInt64(&c.activeConnections, int64(n))
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.heartbeatOnce(ctx); err != nil {
				log.Printf("fleet: heartbeat failed: %v", err)
			}
		}
	}
}

func (c *Coordinator) heartbeatOnce(ctx context.Context) error {
	cpu, mem := c.sampler.Sample()
	c.instance.CPUPercent = cpu
	c.instance.MemPercent = mem
	c.instance.ActiveConnections = int(atomic.LoadInt64(&c.activeConnections))
	c.instance.LastHeartbeat = time.Now()
	c.instance.Healthy = true

	blob, err := json.Marshal(c.instance)
	if err != nil {
		return err
	}
	if err := c.ss.Set(ctx, instanceKeyPrefix+c.instance.InstanceID, string(blob), c.instanceTTL); err != nil {
		return err
	}
	return c.appendSample(ctx, cpu, mem)
}

func (c *Coordinator) appendSample(ctx context.Context, cpu, mem float64) error {
	key := timeseriesKeyPrefix + c.instance.InstanceID
	now := time.Now()
	member := fmt.Sprintf("%d:%.2f:%.2f", now.UnixNano(), cpu, mem)
	if err := c.ss.ZAdd(ctx, key, float64(now.UnixNano()), member); err != nil {
		return err
	}

	cutoff := float64(now.Add(-timeseriesWindow).UnixNano())
	if _, err := c.ss.ZRemRangeByScore(ctx, key, 0, cutoff); err != nil {
		return err
	}

	count, err := c.ss.ZCard(ctx, key)
	if err != nil {
		return err
	}
	if count > timeseriesCap {
		excess := count - timeseriesCap
		oldest, err := c.ss.ZRange(ctx, key, 0, excess-1)
		if err != nil {
			return err
		}
		if len(oldest) > 0 {
			if _, err := c.ss.ZRem(ctx, key, oldest...); err != nil {
				return err
			}
		}
	}
	return nil
}

// ShouldAccept reports whether this instance has headroom for a new
// WebSocket connection.
func (c *Coordinator) ShouldAccept() bool {
	return c.instance.CPUPercent <= 90 && c.instance.MemPercent <= 85
}

// GetHealthyInstances returns every instance record with a heartbeat newer
// than 30 s and healthy=true.
func (c *Coordinator) GetHealthyInstances(ctx context.Context) ([]*types.InstanceRecord, error) {
	records, err := c.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	var healthy []*types.InstanceRecord
	now := time.Now()
	for _, r := range records {
		if r.Healthy && now.Sub(r.LastHeartbeat) <= healthyWithin {
			healthy = append(healthy, r)
		}
	}
	return healthy, nil
}

// ReapDead deletes instance records (and their timeseries) whose heartbeat
// is older than 60 s.
func (c *Coordinator) ReapDead(ctx context.Context) error {
	records, err := c.allRecords(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range records {
		if now.Sub(r.LastHeartbeat) > deadAfter {
			if err := c.ss.Delete(ctx, instanceKeyPrefix+r.InstanceID); err != nil {
				log.Printf("fleet: reap instance %s: %v", r.InstanceID, err)
			}
			if err := c.ss.Delete(ctx, timeseriesKeyPrefix+r.InstanceID); err != nil {
				log.Printf("fleet: reap timeseries %s: %v", r.InstanceID, err)
			}
		}
	}
	return nil
}

// LeastLoaded ranks healthy instances by LoadScore ascending, breaking
// ties by the older (lower) LastHeartbeat.
func (c *Coordinator) LeastLoaded(ctx context.Context) (*types.InstanceRecord, error) {
	healthy, err := c.GetHealthyInstances(ctx)
	if err != nil {
		return nil, err
	}
	if len(healthy) == 0 {
		return nil, nil
	}
	best := healthy[0]
	for _, r := range healthy[1:] {
		if r.LoadScore() < best.LoadScore() ||
			(r.LoadScore() == best.LoadScore() && r.LastHeartbeat.Before(best.LastHeartbeat)) {
			best = r
		}
	}
	return best, nil
}

func (c *Coordinator) allRecords(ctx context.Context) ([]*types.InstanceRecord, error) {
	var records []*types.InstanceRecord
	var cursor uint64
	for {
		keys, next, err := c.ss.Scan(ctx, cursor, instanceKeyPrefix+"*", 100)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, instanceKeyPrefix) {
				continue
			}
			v, ok, err := c.ss.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			var rec types.InstanceRecord
			if err := json.Unmarshal([]byte(v), &rec); err != nil {
				log.Printf("fleet: corrupt instance record at %s: %v", key, err)
				continue
			}
			records = append(records, &rec)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return records, nil
}
