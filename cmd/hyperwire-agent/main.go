package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coder/websocket"

	"github.com/gosuda/hyperwire/discovery"
	"github.com/gosuda/hyperwire/discoveryx"
	"github.com/gosuda/hyperwire/endpoint"
	"github.com/gosuda/hyperwire/transport"
)

var rootCmd = &cobra.Command{
	Use:   "hyperwire-agent",
	Short: "Accepts hyperwire endpoints over websocket and libp2p",
	RunE:  runAgent,
}

var (
	flagKeyHex      string
	flagListenWS    string
	flagListenDebug string
	flagBootstraps  []string
	flagRelay       bool
	flagTopic       string
	flagLive        bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagKeyHex, "key", "", "hex-encoded 32-byte log key this agent serves")
	flags.StringVar(&flagListenWS, "listen-ws", ":9000", "websocket listen address")
	flags.StringVar(&flagListenDebug, "listen-debug", ":9001", "debug/introspection HTTP address")
	flags.StringSliceVar(&flagBootstraps, "bootstrap", nil, "libp2p multiaddrs with /p2p/")
	flags.BoolVar(&flagRelay, "relay", false, "enable libp2p circuit relay")
	flags.StringVar(&flagTopic, "topic", "hyperwire.peers", "pubsub topic for peer adverts")
	flags.BoolVar(&flagLive, "live", true, "advertise this endpoint as a live (growing) log")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("hyperwire-agent")
	}
}

// registry tracks live endpoints for the debug HTTP surface. An agent
// can hold many endpoints at once: one per inbound websocket connection
// plus one per inbound libp2p stream.
type registry struct {
	mu   sync.RWMutex
	next int
	eps  map[int]*endpoint.Endpoint
}

func newRegistry() *registry {
	return &registry{eps: map[int]*endpoint.Endpoint{}}
}

func (r *registry) add(ep *endpoint.Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.eps[id] = ep
	return id
}

func (r *registry) remove(id int) {
	r.mu.Lock()
	delete(r.eps, id)
	r.mu.Unlock()
}

type endpointSummary struct {
	ID        int  `json:"id"`
	Destroyed bool `json:"destroyed"`
}

func (r *registry) snapshot() []endpointSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]endpointSummary, 0, len(r.eps))
	for id, ep := range r.eps {
		out = append(out, endpointSummary{ID: id, Destroyed: ep.Destroyed()})
	}
	return out
}

func runAgent(cmd *cobra.Command, args []string) error {
	var key [32]byte
	if flagKeyHex != "" {
		raw, err := hex.DecodeString(flagKeyHex)
		if err != nil || len(raw) != 32 {
			log.Fatal().Str("key", flagKeyHex).Msg("hyperwire-agent: --key must be 32 hex-encoded bytes")
		}
		copy(key[:], raw)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()

	h, err := discoveryx.NewHost(flagRelay)
	if err != nil {
		return err
	}
	discoveryx.ConnectBootstraps(ctx, h, flagBootstraps, func(addr string, err error) {
		log.Warn().Err(err).Str("addr", addr).Msg("hyperwire-agent: bootstrap dial failed")
	})

	dir, err := discoveryx.NewDirectory(ctx, h, flagTopic)
	if err != nil {
		return err
	}
	go dir.Advertise(ctx, [][32]byte{discovery.Key(key)}, 20*time.Second)

	discoveryx.ServeStreams(h, func(sink *discoveryx.StreamSink) {
		acceptEndpoint(ctx, reg, sink, key)
	})

	go runWebsocketServer(ctx, reg, key)
	go runDebugServer(flagListenDebug, reg)

	log.Info().
		Str("listen_ws", flagListenWS).
		Str("listen_debug", flagListenDebug).
		Str("peer_id", h.ID().String()).
		Msg("hyperwire-agent: running")

	<-ctx.Done()
	time.Sleep(300 * time.Millisecond)
	return nil
}

// acceptEndpoint wires a freshly-accepted libp2p stream into a new
// Endpoint, feeds the agent's key, and pumps the stream until it
// errors or the endpoint is destroyed.
func acceptEndpoint(ctx context.Context, reg *registry, sink *discoveryx.StreamSink, key [32]byte) {
	opts := endpoint.Options{Live: flagLive, Logger: log.Logger}
	ep := endpoint.New(sink, opts)
	id := reg.add(ep)
	defer reg.remove(id)

	ep.Feed(key)
	log.Info().Int("endpoint", id).Msg("hyperwire-agent: libp2p endpoint opened")

	if err := sink.Run(ep, func(evs []endpoint.Event) {
		for _, ev := range evs {
			logEvent(id, ev)
		}
	}); err != nil {
		log.Debug().Err(err).Int("endpoint", id).Msg("hyperwire-agent: libp2p stream ended")
	}
	_ = sink.Close()
}

func logEvent(endpointID int, ev endpoint.Event) {
	e := log.Info().Int("endpoint", endpointID).Str("kind", eventKindString(ev.Kind))
	if ev.Kind == endpoint.EventClose {
		e = e.Str("reason", ev.CloseReason)
	}
	e.Msg("hyperwire-agent: event")
}

func eventKindString(k endpoint.EventKind) string {
	switch k {
	case endpoint.EventFeed:
		return "feed"
	case endpoint.EventHandshake:
		return "handshake"
	case endpoint.EventMessage:
		return "message"
	case endpoint.EventClose:
		return "close"
	default:
		return "unknown"
	}
}

func runWebsocketServer(ctx context.Context, reg *registry, key [32]byte) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hyperwire", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		sink := transport.NewWebSocketSink(conn, log.Logger)
		ep := endpoint.New(sink, endpoint.Options{Live: flagLive, Logger: log.Logger})
		id := reg.add(ep)
		defer reg.remove(id)

		ep.Feed(key)
		log.Info().Int("endpoint", id).Msg("hyperwire-agent: websocket endpoint opened")

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := sink.Run(runCtx, ep, func(evs []endpoint.Event) {
			for _, ev := range evs {
				logEvent(id, ev)
			}
		}); err != nil {
			log.Debug().Err(err).Int("endpoint", id).Msg("hyperwire-agent: websocket read loop ended")
		}
		_ = sink.Close()
	})

	srv := &http.Server{Addr: flagListenWS, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("hyperwire-agent: websocket server")
	}
}

func runDebugServer(addr string, reg *registry) {
	r := chi.NewRouter()
	r.Get("/debug/stats", func(w http.ResponseWriter, req *http.Request) {
		snap := reg.snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"endpoint_count": len(snap)})
	})
	r.Get("/debug/channels", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.snapshot())
	})

	log.Info().Str("addr", addr).Msg("hyperwire-agent: debug HTTP listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error().Err(err).Msg("hyperwire-agent: debug server")
	}
}
