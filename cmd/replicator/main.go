// Command replicator runs a demo snapshot-replication server: a WebSocket
// transport accepting peer connections, an in-memory object host, the
// snapshot system driving the tick hook over both, and an admin API
// exposing health/metrics/pprof/stats.
package main

import (
	"bytes"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"netsnap/internal/adminapi"
	"netsnap/internal/config"
	"netsnap/internal/demo"
	"netsnap/internal/metrics"
	"netsnap/internal/replication"
	"netsnap/internal/snapshot"
	"netsnap/internal/transport"
)

// serverClientID is this process's own client ID when acting as the
// server role; 0 is reserved and never assigned to a connecting peer.
const serverClientID uint64 = 0

type statsAdapter struct {
	sys *replication.System
}

func (a statsAdapter) Stats() adminapi.Stats {
	store := a.sys.SnapshotStore()
	limits := store.Limits()

	clients := a.sys.Snapshot()
	out := adminapi.Stats{
		Entries:      len(store.Entries()),
		MaxEntries:   limits.MaxEntries,
		Spawns:       len(store.Spawns()),
		MaxSpawns:    limits.MaxSpawns,
		AllocatorUse: store.AllocatorRange(),
		Clients:      make([]adminapi.ClientStats, 0, len(clients)),
	}
	for _, c := range clients {
		out.Clients = append(out.Clients, adminapi.ClientStats{
			ClientID:      c.ClientID,
			NextSequence:  c.NextSequence,
			LastAcked:     c.LastAcked,
			PendingSpawns: c.Pending,
		})
	}
	return out
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	log.Println("================================")
	log.Println(" SNAPSHOT REPLICATION SERVER")
	log.Println("================================")

	cfg := config.Load()
	log.Printf("store: buf=%d entries=%d spawns=%d", cfg.Store.BufSize, cfg.Store.MaxEntries, cfg.Store.MaxSpawns)
	log.Printf("protocol: delta=%v spawn=%v tick=%s ack_window=%d",
		cfg.Protocol.UseSnapshotDelta, cfg.Protocol.UseSnapshotSpawn, cfg.Protocol.TickRate, cfg.Protocol.AckWindow)

	sink := metrics.NewSink()

	hub := transport.NewHub(sink)
	host := demo.NewHost(hub, true, serverClientID, serverClientID)

	store := snapshot.New(snapshot.Limits{
		BufSize:         cfg.Store.BufSize,
		MaxEntries:      cfg.Store.MaxEntries,
		MaxSpawns:       cfg.Store.MaxSpawns,
		MaxVariableSize: cfg.Store.MaxVariableSize,
	})
	sys := replication.NewSystem(host, store, replication.Config{
		UseSnapshotDelta: cfg.Protocol.UseSnapshotDelta,
		UseSnapshotSpawn: cfg.Protocol.UseSnapshotSpawn,
	}, sink)

	// OnDisconnect runs on the connection's read goroutine; the client IDs
	// are queued and dropped from the host and System on the tick loop.
	disconnects := make(chan uint64, transport.MaxConnections)
	hub.OnDisconnect = func(clientID uint64) {
		disconnects <- clientID
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		clientID, err := strconv.ParseUint(r.URL.Query().Get("client_id"), 10, 64)
		if err != nil || clientID == serverClientID {
			http.Error(w, "missing or invalid client_id", http.StatusBadRequest)
			return
		}
		if hub.Accept(w, r, clientID) {
			host.AddPeer(clientID)
		}
	})

	adminRouter := adminapi.NewRouter(adminapi.Config{Provider: statsAdapter{sys: sys}})

	go func() {
		log.Printf("transport listening on %s", cfg.Server.ListenAddr)
		if err := http.ListenAndServe(cfg.Server.ListenAddr, mux); err != nil {
			log.Fatalf("transport server error: %v", err)
		}
	}()

	go func() {
		log.Printf("admin API listening on %s", cfg.Server.AdminAddr)
		if err := http.ListenAndServe(cfg.Server.AdminAddr, adminRouter); err != nil {
			log.Printf("admin server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Protocol.TickRate)
	defer ticker.Stop()

	var currentTick int32
	log.Println("replication loop running, press Ctrl+C to stop")
	for {
		select {
		case <-stop:
			log.Println("shutting down")
			hub.Stop()
			return
		case <-ticker.C:
			currentTick++
			host.SetTick(currentTick)

			for pending := true; pending; {
				select {
				case clientID := <-disconnects:
					host.RemovePeer(clientID)
					sys.Disconnect(clientID)
				default:
					pending = false
				}
			}

			hub.DrainInbound(func(clientID uint64, frame []byte) {
				if err := sys.Receive(clientID, bytes.NewReader(frame)); err != nil {
					log.Printf("receive from client %d failed: %v", clientID, err)
				}
			})

			sys.Tick()
		}
	}
}
