package demo

import (
	"sync"

	"netsnap/internal/replication"
	"netsnap/internal/snapshot"
	"netsnap/internal/transport"
)

// Host implements replication.Host over an in-memory object table and a
// transport.Hub. It is intentionally single-threaded on the replication
// side: Tick/Store/Spawn/Receive must all be called from the same
// goroutine, per the protocol's concurrency model. The embedded Hub's read
// goroutines only ever touch its own inbound queues, never this struct.
type Host struct {
	*transport.Hub

	isServer bool
	local    uint64
	server   uint64
	tick     int32

	mu      sync.Mutex
	peers   []uint64
	objects map[uint64]*Object
}

// NewHost constructs a demo host. A server host lists every connected
// client as a peer; a client host's only peer is the server.
func NewHost(hub *transport.Hub, isServer bool, local, server uint64) *Host {
	return &Host{
		Hub:      hub,
		isServer: isServer,
		local:    local,
		server:   server,
		objects:  make(map[uint64]*Object),
	}
}

// AddPeer registers clientID as a peer this host will target when
// computing spawn/tick recipients (server role only; a client's peer set
// is fixed to just the server).
func (h *Host) AddPeer(clientID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		if p == clientID {
			return
		}
	}
	h.peers = append(h.peers, clientID)
}

// RemovePeer drops clientID from the peer set.
func (h *Host) RemovePeer(clientID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == clientID {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return
		}
	}
}

// SetTick advances the host's view of the current tick, read by
// System.Tick/Store/Spawn through CurrentTick.
func (h *Host) SetTick(tick int32) { h.tick = tick }

// Register adds obj to the local object table, for use before ApplySpawn
// is ever called on it (e.g. objects the local host itself spawns).
func (h *Host) Register(obj *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[obj.ID] = obj
}

// Object returns the object registered under id, if any.
func (h *Host) Object(id uint64) (*Object, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[id]
	return obj, ok
}

func (h *Host) LookupVariable(objectID uint64, behaviourIndex, variableIndex uint16) (replication.VariableHandle, bool) {
	h.mu.Lock()
	obj, ok := h.objects[objectID]
	h.mu.Unlock()
	if !ok || behaviourIndex != BehaviourTransform {
		return nil, false
	}
	return obj.VariableHandle(variableIndex)
}

// ApplySpawn instantiates a zero-valued object for cmd.ObjectID if one
// doesn't already exist. parent is accepted for interface compatibility;
// this demo host has no object hierarchy to attach to.
func (h *Host) ApplySpawn(cmd snapshot.SpawnCommand, parent *uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.objects[cmd.ObjectID]; exists {
		return
	}
	h.objects[cmd.ObjectID] = &Object{
		ID:       cmd.ObjectID,
		Position: Vector2{X: cmd.Position.X, Y: cmd.Position.Y},
	}
}

func (h *Host) ListPeers() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.peers)+1)
	out[0] = h.local
	copy(out[1:], h.peers)
	return out
}

func (h *Host) IsServer() bool         { return h.isServer }
func (h *Host) LocalClientID() uint64  { return h.local }
func (h *Host) ServerClientID() uint64 { return h.server }
func (h *Host) CurrentTick() int32     { return h.tick }
