package socketreg

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

const deliveryChannel = "sr:deliver"

// directedMessage is published on the fleet-wide delivery channel when the
// target user has no socket on the publishing instance.
type directedMessage struct {
	TargetUserID string          `json:"target_user_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
}

// Registry is the Socket Registry: local userId<->socket maps plus
// cross-instance delivery over the Shared Store. Unlike a simple
// single-connection-per-user map, it tracks a socket set per user so a
// user may have more than one device/tab connected at once.
type Registry struct {
	ss         interfaces.SharedStore
	instanceID string
	presenceTTL time.Duration

	mu       sync.RWMutex
	sockets  map[string]interfaces.Connection   // socketID -> connection
	byUser   map[string]map[string]struct{}     // userID -> set of socketID

	sub    interfaces.Subscription
	stopCh chan struct{}
}

// New builds a Registry bound to one SharedStore and this instance's ID.
func New(ss interfaces.SharedStore, instanceID string, presenceTTL time.Duration) *Registry {
	return &Registry{
		ss:          ss,
		instanceID:  instanceID,
		presenceTTL: presenceTTL,
		sockets:     make(map[string]interfaces.Connection),
		byUser:      make(map[string]map[string]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to the fleet-wide delivery channel so directed messages
// aimed at users on other instances land here if they reconnect locally.
func (r *Registry) Start(ctx context.Context) error {
	sub, err := r.ss.Subscribe(ctx, deliveryChannel)
	if err != nil {
		return err
	}
	r.sub = sub
	go r.deliveryLoop()
	return nil
}

func (r *Registry) Stop() {
	close(r.stopCh)
	if r.sub != nil {
		r.sub.Close()
	}
}

func (r *Registry) deliveryLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case raw, ok := <-r.sub.Channel():
			if !ok {
				return
			}
			var msg directedMessage
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				log.Printf("socketreg: corrupt directed message: %v", err)
				continue
			}
			r.deliverLocal(msg.TargetUserID, types.Envelope{Type: msg.Type, Payload: msg.Payload}, true)
		}
	}
}

// Register adds a connection for userID. If this is the user's first local
// socket, it publishes user:online and refreshes presence.
func (r *Registry) Register(ctx context.Context, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	userID := conn.UserID()

	r.mu.Lock()
	r.sockets[conn.SocketID()] = conn
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	firstSocket := len(set) == 0
	set[conn.SocketID()] = struct{}{}
	r.mu.Unlock()

	if err := r.refreshPresence(ctx, userID); err != nil {
		log.Printf("socketreg: refresh presence for %s: %v", userID, err)
	}
	if firstSocket {
		r.publishPresence(ctx, userID, "user:online")
	}
	return nil
}

// Unregister removes conn. If it was the user's last local socket, it
// clears this instance's presence key, and publishes user:offline only when
// no instance still holds a presence key for the user.
func (r *Registry) Unregister(ctx context.Context, conn interfaces.Connection) {
	if conn == nil {
		return
	}
	userID := conn.UserID()

	r.mu.Lock()
	delete(r.sockets, conn.SocketID())
	var lastSocket bool
	if set, ok := r.byUser[userID]; ok {
		delete(set, conn.SocketID())
		if len(set) == 0 {
			delete(r.byUser, userID)
			lastSocket = true
		}
	}
	r.mu.Unlock()

	if lastSocket {
		if err := r.ss.Delete(ctx, presenceKey(userID, r.instanceID)); err != nil {
			log.Printf("socketreg: clear presence for %s: %v", userID, err)
		}
		stillOnline, err := r.anyPresence(ctx, userID)
		if err != nil {
			log.Printf("socketreg: check remaining presence for %s: %v", userID, err)
		}
		if !stillOnline {
			r.publishPresence(ctx, userID, "user:offline")
		}
	}
}

// anyPresence reports whether any instance in the fleet still holds a
// presence key for userID, so offline is only published once the user's
// last socket anywhere (not just on this instance) disappears.
func (r *Registry) anyPresence(ctx context.Context, userID string) (bool, error) {
	pattern := presencePattern(userID)
	var cursor uint64
	for {
		keys, next, err := r.ss.Scan(ctx, cursor, pattern, 50)
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		cursor = next
		if cursor == 0 {
			return false, nil
		}
	}
}

// IsOnline reports whether userID has a live socket anywhere in the fleet,
// not just on this instance — a thin public wrapper over the same
// presence scan Unregister already uses to decide whether to publish
// user:offline.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	return r.anyPresence(ctx, userID)
}

// OnlineInstances returns the instance IDs that currently hold a live
// presence key for userID, so a caller can tell a user is connected
// without caring which instance owns the socket.
func (r *Registry) OnlineInstances(ctx context.Context, userID string) ([]string, error) {
	pattern := presencePattern(userID)
	var instances []string
	var cursor uint64
	for {
		keys, next, err := r.ss.Scan(ctx, cursor, pattern, 50)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			v, ok, err := r.ss.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			var p types.Presence
			if err := json.Unmarshal([]byte(v), &p); err != nil {
				log.Printf("socketreg: corrupt presence record at %s: %v", key, err)
				continue
			}
			instances = append(instances, p.InstanceID)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return instances, nil
}

// IsOnlineLocally reports whether userID has at least one socket on this instance.
func (r *Registry) IsOnlineLocally(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// ConnectionCount returns the number of locally registered sockets, the
// figure the Fleet Coordinator reports in its heartbeat.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// EmitToUser delivers env to every local socket of userID if present;
// otherwise it publishes a directed message on the fleet-wide channel so
// whichever instance holds the user's sockets can deliver it.
func (r *Registry) EmitToUser(ctx context.Context, userID string, env types.Envelope, critical bool) error {
	if r.deliverLocal(userID, env, critical) {
		return nil
	}
	msg := directedMessage{TargetUserID: userID, Type: env.Type, Payload: env.Payload}
	blob, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.ss.Publish(ctx, deliveryChannel, string(blob))
}

func (r *Registry) deliverLocal(userID string, env types.Envelope, critical bool) bool {
	r.mu.RLock()
	set, ok := r.byUser[userID]
	var conns []interfaces.Connection
	if ok {
		for socketID := range set {
			if c, ok := r.sockets[socketID]; ok {
				conns = append(conns, c)
			}
		}
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return false
	}
	for _, c := range conns {
		if err := c.WriteEnvelope(env, critical); err != nil {
			log.Printf("socketreg: deliver to socket %s: %v", c.SocketID(), err)
		}
	}
	return true
}

// BroadcastLocal writes env to every socket registered on this instance,
// used for fleet-wide stats like connected-user counts where each instance
// only needs to reach its own sockets.
func (r *Registry) BroadcastLocal(env types.Envelope, critical bool) {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.sockets))
	for _, c := range r.sockets {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteEnvelope(env, critical); err != nil {
			log.Printf("socketreg: broadcast to socket %s: %v", c.SocketID(), err)
		}
	}
}

// presenceKey is scoped per-instance: a user connected to two instances at
// once holds two keys, and the fleet only considers them offline once none
// remain (see anyPresence).
func presenceKey(userID, instanceID string) string { return "presence:" + userID + ":" + instanceID }

func presencePattern(userID string) string { return "presence:" + userID + ":*" }

func (r *Registry) refreshPresence(ctx context.Context, userID string) error {
	p := types.Presence{UserID: userID, InstanceID: r.instanceID, LastSeen: time.Now()}
	blob, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.ss.Set(ctx, presenceKey(userID, r.instanceID), string(blob), r.presenceTTL)
}

func (r *Registry) publishPresence(ctx context.Context, userID, event string) {
	env, err := types.Outbound(event, map[string]string{"user_id": userID, "instance_id": r.instanceID})
	if err != nil {
		log.Printf("socketreg: build %s envelope: %v", event, err)
		return
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := r.ss.Publish(ctx, "fleet:"+event, string(blob)); err != nil {
		log.Printf("socketreg: publish %s for %s: %v", event, userID, err)
	}
}
