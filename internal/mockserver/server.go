package mockserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/comparator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/wire"
)

// ServerState is the per-server state machine of spec.md §4.6: Bound ->
// Serving -> Shutdown.
type ServerState int

const (
	StateBound ServerState = iota
	StateServing
	StateShutdown
)

// Config configures one MockServer instance.
type Config struct {
	// HostToBindTo is the loopback address to bind: IPv4 by default,
	// IPv6 when the manifest/test config explicitly names it
	// (SPEC_FULL.md §6).
	HostToBindTo string

	// InactivityTimeout shuts the server down if no call arrives for
	// this long (spec.md §4.6: ten minutes).
	InactivityTimeout time.Duration

	// DrainGracePeriod bounds how long Shutdown waits for in-flight
	// calls to finish before forcing a stop (Open Question decision,
	// SPEC_FULL.md §E.2: defaults to 5 seconds).
	DrainGracePeriod time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		HostToBindTo:      "127.0.0.1",
		InactivityTimeout: 10 * time.Minute,
		DrainGracePeriod:  5 * time.Second,
	}
}

// ResultKind classifies one recorded call outcome.
type ResultKind int

const (
	ResultMatched ResultKind = iota
	ResultUnmatched
	ResultMissingRequest
)

func (k ResultKind) String() string {
	switch k {
	case ResultMatched:
		return "Matched"
	case ResultUnmatched:
		return "Unmatched"
	case ResultMissingRequest:
		return "MissingRequest"
	default:
		return "Unknown"
	}
}

// Result is one entry in a MockServer's observed-request log.
type Result struct {
	InteractionID string
	MethodPath    string
	Kind          ResultKind
	Mismatches    []comparator.Mismatch
	Diagnosis     string
}

// Server is a dynamic, descriptor-driven gRPC mock server bound to one
// loopback port (spec.md §4.6).
type Server struct {
	log  *zap.Logger
	cfg  Config
	ctx  generator.Context

	grpcServer *grpc.Server
	listener   net.Listener

	mu           sync.Mutex
	interactions []*Interaction
	results      []Result
	state        ServerState

	activity     chan struct{}
	shutdownOnce sync.Once
	stopTimer    chan struct{}
}

// New creates a Server bound (but not yet serving) against the given
// interactions.
func New(log *zap.Logger, cfg Config, interactions []*Interaction) (*Server, error) {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultConfig().InactivityTimeout
	}
	if cfg.DrainGracePeriod <= 0 {
		cfg.DrainGracePeriod = DefaultConfig().DrainGracePeriod
	}
	registerRawCodec()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf("%s:0", cfg.HostToBindTo))
	if err != nil {
		return nil, fmt.Errorf("mockserver: bind failed: %w", err)
	}

	s := &Server{
		log:          log.Named("mockserver"),
		cfg:          cfg,
		interactions: interactions,
		state:        StateBound,
		listener:     ln,
		activity:     make(chan struct{}, 1),
		stopTimer:    make(chan struct{}),
	}
	s.ctx = generator.Context{MockServerURL: s.Addr()}

	s.grpcServer = grpc.NewServer(grpc.UnknownServiceHandler(s.handleUnknown))
	return s, nil
}

// Addr returns the bound "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting connections and begins the inactivity timer.
// It runs until Shutdown is called or the listener fails.
func (s *Server) Serve() error {
	s.mu.Lock()
	s.state = StateServing
	s.mu.Unlock()

	go s.inactivityLoop()

	s.log.Info("mock server serving", zap.String("addr", s.Addr()))
	return s.grpcServer.Serve(s.listener)
}

func (s *Server) inactivityLoop() {
	timer := time.NewTimer(s.cfg.InactivityTimeout)
	defer timer.Stop()
	for {
		select {
		case <-s.stopTimer:
			return
		case <-s.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.cfg.InactivityTimeout)
		case <-timer.C:
			s.log.Info("mock server idle timeout reached, shutting down")
			s.Shutdown()
			return
		}
	}
}

func (s *Server) noteActivity() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// Shutdown stops the server, draining in-flight calls for up to the
// configured grace period, and records a MissingRequest result for every
// interaction still Pending.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.state = StateShutdown
		s.mu.Unlock()
		close(s.stopTimer)

		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.DrainGracePeriod):
			s.grpcServer.Stop()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, it := range s.interactions {
			if it.MarkUnmatched() {
				s.results = append(s.results, Result{
					InteractionID: it.ID,
					MethodPath:    it.MethodPath,
					Kind:          ResultMissingRequest,
					Diagnosis:     "no request was ever received for this interaction",
				})
			}
		}
	})
}

// State reports the server's current lifecycle state.
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns a snapshot of the observed-request log. Calling this
// never triggers shutdown, per spec.md §4.6.
func (s *Server) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// AllMatched reports whether every recorded result so far is Matched and
// no interaction remains Pending — the fast boolean predicate behind the
// MockServerMatched control RPC (SPEC_FULL.md §D).
func (s *Server) AllMatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.interactions {
		if it.snapshotState() != StateMatched {
			return false
		}
	}
	for _, r := range s.results {
		if r.Kind != ResultMatched {
			return false
		}
	}
	return true
}

// handleUnknown is the grpc.UnknownServiceHandler: every incoming call,
// regardless of service, lands here. It reads the raw request bytes,
// dispatches against the stored interactions for the call's method path,
// and writes back the stored (or synthesised) response.
func (s *Server) handleUnknown(srv interface{}, stream grpc.ServerStream) error {
	s.noteActivity()

	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "mockserver: unable to determine method path")
	}

	var reqBytes []byte
	if err := stream.RecvMsg(&reqBytes); err != nil {
		return err
	}

	it, mismatches, diagnosis := s.selectInteraction(method, reqBytes)
	if it == nil {
		s.recordResult(Result{MethodPath: method, Kind: ResultUnmatched, Diagnosis: diagnosis})
		return status.Error(codes.InvalidArgument, diagnosis)
	}

	if len(mismatches) > 0 {
		s.recordResult(Result{InteractionID: it.ID, MethodPath: method, Kind: ResultUnmatched, Mismatches: mismatches})
		return status.Error(codes.InvalidArgument, formatMismatches(mismatches))
	}

	s.recordResult(Result{InteractionID: it.ID, MethodPath: method, Kind: ResultMatched})

	if it.ResponseStatus != nil {
		if len(it.ResponseMetadata) > 0 {
			_ = stream.SendHeader(metadata.New(it.ResponseMetadata))
		}
		return status.Error(codes.Code(it.ResponseStatus.Code), it.ResponseStatus.MessageValue)
	}

	respBytes, err := s.buildResponse(it)
	if err != nil {
		return status.Errorf(codes.Internal, "mockserver: failed to build response: %v", err)
	}
	if len(it.ResponseMetadata) > 0 {
		if err := stream.SendHeader(metadata.New(it.ResponseMetadata)); err != nil {
			return err
		}
	}
	return stream.SendMsg(&respBytes)
}

// selectInteraction finds the interaction whose method path matches and
// whose stored request matches the decoded request under its
// MatchingCatalogue, applying the tie-breaking rule of spec.md §4.6:
// prefer a still-Pending interaction over an already-Matched one;
// otherwise the one declared first wins.
func (s *Server) selectInteraction(method string, reqBytes []byte) (*Interaction, []comparator.Mismatch, string) {
	s.mu.Lock()
	candidates := make([]*Interaction, 0)
	for _, it := range s.interactions {
		if it.MethodPath == method {
			candidates = append(candidates, it)
		}
	}
	s.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil, fmt.Sprintf("no interaction configured for method %s", method)
	}

	var bestMismatches []comparator.Mismatch
	var firstMatched *Interaction
	for _, it := range candidates {
		actual, _, err := wire.Decode(reqBytes, it.RequestMD)
		if err != nil {
			continue
		}
		cmp := comparator.New(it.Rules, it.Expectations)
		mismatches := cmp.Compare(it.Request, actual, valuetree.Root)
		if len(mismatches) == 0 {
			if it.TryClaim() {
				return it, nil, ""
			}
			// Already matched by an earlier call; keep looking, a
			// still-Pending duplicate interaction may also match.
			if firstMatched == nil {
				firstMatched = it
			}
			continue
		}
		if bestMismatches == nil {
			bestMismatches = mismatches
		}
	}

	// No still-Pending interaction matched: the first declared one that
	// matched wins.
	if firstMatched != nil {
		return firstMatched, nil, ""
	}

	// No interaction claimed. If at least one candidate decoded and
	// compared (even with mismatches), surface its diagnosis; otherwise
	// report a generic no-match.
	if bestMismatches != nil {
		return nil, bestMismatches, fmt.Sprintf("request to %s did not match any configured interaction: %s", method, formatMismatches(bestMismatches))
	}
	return nil, nil, fmt.Sprintf("request to %s did not match any configured interaction", method)
}

func (s *Server) recordResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// buildResponse clones the interaction's stored response ValueTree,
// applies its GeneratorCatalogue, and encodes the result (spec.md
// §4.6/§4.4).
func (s *Server) buildResponse(it *Interaction) ([]byte, error) {
	clone := it.Response.Clone()
	for _, entry := range it.Generators.Entries() {
		v, err := generator.Evaluate(entry.Generator, s.ctx)
		if err != nil {
			return nil, err
		}
		if err := applyGenerated(clone, entry.Path, v); err != nil {
			return nil, err
		}
	}
	return wire.Encode(clone)
}

// applyGenerated looks up, on the top-level node only, the field named by
// the last field segment of path and replaces its primary value. Fields
// of embedded messages are not reached, index and key segments are
// ignored, and a path whose last field name is not present on the
// top-level node is skipped without error.
func applyGenerated(node *valuetree.Node, path valuetree.Path, v valuetree.Value) error {
	name := lastFieldSegment(string(path))
	if name == "" {
		return nil
	}
	f := node.GetByName(name)
	if f == nil {
		return nil
	}
	f.Primary = v
	return nil
}

func lastFieldSegment(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return ""
	}
	seg := path[dot+1:]
	for i, c := range seg {
		if c == '[' {
			return seg[:i]
		}
	}
	return seg
}

func formatMismatches(mismatches []comparator.Mismatch) string {
	if len(mismatches) == 0 {
		return ""
	}
	out := mismatches[0].String()
	for _, m := range mismatches[1:] {
		out += "; " + m.String()
	}
	return out
}
