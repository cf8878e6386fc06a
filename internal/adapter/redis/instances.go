package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey     = "devicehub:instances"
	instanceStaleAge = 60 * time.Second
)

// InstanceInfo is the presence record a hub instance keeps in Redis.
type InstanceInfo struct {
	InstanceID  string    `json:"instance_id"`
	Version     string    `json:"version"`
	Connections int       `json:"connections"`
	LastSeen    time.Time `json:"last_seen"`
}

// InstanceRegistry announces this hub instance in a shared hash so operators can
// see every node sharing the relay channel. Entries older than a minute are ignored.
type InstanceRegistry struct {
	rdb         *goredis.Client
	clock       clockwork.Clock
	instanceID  string
	version     string
	interval    time.Duration
	connections func() int
}

func NewInstanceRegistry(rdb *goredis.Client, clock clockwork.Clock, instanceID, version string, interval time.Duration, connections func() int) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:         rdb,
		clock:       clock,
		instanceID:  instanceID,
		version:     version,
		interval:    interval,
		connections: connections,
	}
}

// Run registers immediately and refreshes on every interval. It blocks until ctx
// is cancelled, then removes the entry.
func (r *InstanceRegistry) Run(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) {
	info := InstanceInfo{
		InstanceID: r.instanceID,
		Version:    r.version,
		LastSeen:   r.clock.Now().UTC(),
	}
	if r.connections != nil {
		info.Connections = r.connections()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := r.rdb.HSet(ctx, instancesKey, r.instanceID, data).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to refresh instance presence", "instance_id", r.instanceID, "error", err)
	}
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.HDel(ctx, instancesKey, r.instanceID).Err(); err != nil {
		slog.Warn("Failed to remove instance presence", "instance_id", r.instanceID, "error", err)
	}
}

// Active lists instances seen within the last minute, ordered by id.
func (r *InstanceRegistry) Active(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	cutoff := r.clock.Now().Add(-instanceStaleAge)
	active := make([]InstanceInfo, 0, len(entries))
	for _, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if info.LastSeen.After(cutoff) {
			active = append(active, info)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].InstanceID < active[j].InstanceID })
	return active, nil
}
