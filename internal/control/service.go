package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/comparator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/descriptor"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/manifest"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/mockserver"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/plugincontract"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/protocompiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/wire"
)

const pluginVersion = "0.1.0"

// Reserved configuration-tree keys carrying the interaction's proto
// source and target type, alongside the consumer's matching-rule tree
// (spec.md §6's "config_tree"; spec.md itself does not enumerate the key
// names, so this follows the established Pact Protobuf plugin
// convention — see DESIGN.md).
const (
	keyProtoFile     = "pact:proto-file"
	keyProtoSource   = "pact:proto"
	keyMessageType   = "pact:message-type"
	keyService       = "pact:proto-service"
)

// Service implements the control-plane handlers of spec.md §6, adapted
// from the teacher's CatalogServer shape (one struct, one method per
// RPC, constructed collaborators injected via New).
type Service struct {
	log          *zap.Logger
	manifest     manifest.Manifest
	compilerTool *protocompiler.Compiler
	descLoader   *descriptor.Loader

	mu           sync.Mutex
	mockServers  map[string]*mockserver.Server
	interactions map[string]*compiledInteraction
}

type compiledInteraction struct {
	set         *descriptor.Set
	messageName string
	serviceName string
	methodName  string
	result      *compiler.Result
}

// New creates a control Service.
func New(log *zap.Logger, m manifest.Manifest, compilerTool *protocompiler.Compiler, descLoader *descriptor.Loader) *Service {
	return &Service{
		log:          log.Named("control"),
		manifest:     m,
		compilerTool: compilerTool,
		descLoader:   descLoader,
		mockServers:  make(map[string]*mockserver.Server),
		interactions: make(map[string]*compiledInteraction),
	}
}

// InitPlugin negotiates startup and reports this plugin's catalogue
// entries: the content types it recognises, per spec.md §6.
func (s *Service) InitPlugin(ctx context.Context, req *InitPluginRequest) (*InitPluginResponse, error) {
	s.log.Info("InitPlugin", zap.String("hostVersion", req.Version))
	return &InitPluginResponse{
		PluginVersion: pluginVersion,
		Catalogue: []CatalogueEntry{
			{Type: "content-matcher", Key: "application/protobuf"},
			{Type: "content-matcher", Key: "application/grpc"},
			{Type: "transport", Key: "grpc"},
		},
	}, nil
}

// UpdateCatalogue records entries contributed by other plugins. This
// plugin does not currently consult other plugins' entries, so it is
// accepted and discarded, per spec.md §6's "no content" response.
func (s *Service) UpdateCatalogue(ctx context.Context, req *UpdateCatalogueRequest) (*UpdateCatalogueResponse, error) {
	s.log.Debug("UpdateCatalogue", zap.Int("entries", len(req.Entries)))
	return &UpdateCatalogueResponse{}, nil
}

// ConfigureInteraction compiles a consumer-authored configuration tree
// against a user-supplied .proto source into one InteractionResponse.
func (s *Service) ConfigureInteraction(ctx context.Context, req *ConfigureInteractionRequest) (*ConfigureInteractionResponse, error) {
	protoSource, _ := req.ConfigTree[keyProtoSource].(string)
	protoFile, _ := req.ConfigTree[keyProtoFile].(string)
	messageType, _ := req.ConfigTree[keyMessageType].(string)
	serviceRef, _ := req.ConfigTree[keyService].(string)

	if protoSource == "" || messageType == "" {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("config error at $: %q and %q are required", keyProtoSource, keyMessageType)}, nil
	}
	if protoFile == "" {
		protoFile = "interaction.proto"
	}

	fds, err := protocompiler.CompileInMemory(protoFile, protoSource, s.manifest.AdditionalIncludes)
	if err != nil {
		if s.compilerTool != nil {
			fds, err = s.compilerTool.Compile(ctx, protoFile, protoSource)
		}
		if err != nil {
			return &ConfigureInteractionResponse{Error: fmt.Sprintf("descriptor error: %v", err)}, nil
		}
	}

	rawFDS, err := proto.Marshal(fds)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}
	set, err := s.descLoader.Load(rawFDS)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("descriptor error: %v", err)}, nil
	}

	md, ok := set.Message(messageType)
	if !ok {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("descriptor error: unknown message %q", messageType)}, nil
	}

	configStruct, err := structFromConfigTree(req.ConfigTree)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("config error: %v", err)}, nil
	}

	result, err := compiler.Compile(md, configStruct)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("config error: %v", err)}, nil
	}

	body, err := wire.Encode(result.Example)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("internal error: encode failed: %v", err)}, nil
	}

	var ext *plugincontract.Extension
	var serviceName, methodName string
	if serviceRef != "" {
		serviceName, methodName = splitServiceMethod(serviceRef)
		// The configured message is the interaction's response body; the
		// request body is always left empty here, so the request side is
		// unconstrained (matches any well-formed request to the method).
		// Each ConfigureInteraction call builds its own extension; a
		// later call for the same service/method does not add a request
		// body to an earlier one.
		ext = plugincontract.BuildRPC(set, messageType, serviceName, methodName, result.Expectations, result.Rules, result.Generators, nil, body)
	} else {
		ext = plugincontract.Build(set, messageType, result.Expectations, result.Rules, result.Generators)
	}
	extBytes, err := json.Marshal(ext)
	if err != nil {
		return &ConfigureInteractionResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.interactions[id] = &compiledInteraction{
		set:         set,
		messageName: messageType,
		serviceName: serviceName,
		methodName:  methodName,
		result:      result,
	}
	s.mu.Unlock()

	return &ConfigureInteractionResponse{
		Interactions: []InteractionResponse{{
			Contents:         body,
			ContentType:      req.ContentType,
			MatchingRules:    ruleSummary(result.Rules),
			Generators:       generatorSummary(result.Generators),
			PluginConfigJSON: extBytes,
			Metadata:         map[string]string{"pact:interaction-id": id},
		}},
	}, nil
}

// CompareContents decodes both bodies against the descriptor persisted
// in plugin_config and runs the Comparator (spec.md §4.5).
func (s *Service) CompareContents(ctx context.Context, req *CompareContentsRequest) (*CompareContentsResponse, error) {
	var ext plugincontract.Extension
	if err := json.Unmarshal(req.PluginConfigRaw, &ext); err != nil {
		return &CompareContentsResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}

	fdsProto, err := ext.DescriptorSetProto()
	if err != nil {
		return &CompareContentsResponse{Error: fmt.Sprintf("descriptor error: %v", err)}, nil
	}
	set, err := descriptor.Build(fdsProto)
	if err != nil {
		return &CompareContentsResponse{Error: fmt.Sprintf("descriptor error: %v", err)}, nil
	}
	md, ok := set.Message(ext.MessageName)
	if !ok {
		return &CompareContentsResponse{Error: fmt.Sprintf("descriptor error: unknown message %q", ext.MessageName)}, nil
	}

	expected, _, err := wire.Decode(req.ExpectedBody, md)
	if err != nil {
		return &CompareContentsResponse{Error: fmt.Sprintf("wire decode error: %v", err)}, nil
	}
	actual, _, err := wire.Decode(req.ActualBody, md)
	if err != nil {
		return &CompareContentsResponse{Error: fmt.Sprintf("wire decode error: %v", err)}, nil
	}

	rules := ext.Rules
	if rules == nil {
		rules = matching.NewCatalogue()
	}
	cmp := comparator.New(rules, ext.ToExpectations())
	mismatches := cmp.Compare(expected, actual, valuetree.Root)

	return &CompareContentsResponse{Mismatches: mismatchEntries(mismatches)}, nil
}

// StartMockServer binds a new MockServer for the interactions named by
// plugin_config and begins serving in the background.
func (s *Service) StartMockServer(ctx context.Context, req *StartMockServerRequest) (*StartMockServerResponse, error) {
	var exts []plugincontract.Extension
	if err := json.Unmarshal(req.PluginConfigRaw, &exts); err != nil {
		return &StartMockServerResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}

	cfg := mockserver.DefaultConfig()
	if req.HostInterface != "" {
		cfg.HostToBindTo = req.HostInterface
	} else if s.manifest.HostToBindTo != "" {
		cfg.HostToBindTo = s.manifest.HostToBindTo
	}

	interactions, err := s.buildInteractions(exts)
	if err != nil {
		return &StartMockServerResponse{Error: err.Error()}, nil
	}

	srv, err := mockserver.New(s.log, cfg, interactions)
	if err != nil {
		return &StartMockServerResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}

	key := uuid.NewString()
	s.mu.Lock()
	s.mockServers[key] = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(); err != nil {
			s.log.Debug("mock server stopped", zap.Error(err))
		}
	}()

	return &StartMockServerResponse{ServerKey: key, Port: addrPort(srv.Addr())}, nil
}

// ShutdownMockServer stops a running MockServer and returns its final
// results.
func (s *Service) ShutdownMockServer(ctx context.Context, req *ShutdownMockServerRequest) (*ShutdownMockServerResponse, error) {
	srv := s.lookupMockServer(req.ServerKey)
	if srv == nil {
		return &ShutdownMockServerResponse{Ok: false}, nil
	}
	srv.Shutdown()
	return &ShutdownMockServerResponse{Ok: true, Results: resultEntries(srv.Results())}, nil
}

// GetMockServerResults reports a running MockServer's observed-request
// log without triggering shutdown (spec.md §6, SPEC_FULL.md §D).
func (s *Service) GetMockServerResults(ctx context.Context, req *GetMockServerResultsRequest) (*GetMockServerResultsResponse, error) {
	srv := s.lookupMockServer(req.ServerKey)
	if srv == nil {
		return &GetMockServerResultsResponse{Error: "unknown mock server"}, nil
	}
	return &GetMockServerResultsResponse{Results: resultEntries(srv.Results())}, nil
}

// MockServerMatched is the side-effect-free boolean predicate of
// SPEC_FULL.md §D.
func (s *Service) MockServerMatched(ctx context.Context, req *MockServerMatchedRequest) (*MockServerMatchedResponse, error) {
	srv := s.lookupMockServer(req.ServerKey)
	if srv == nil {
		return &MockServerMatchedResponse{Matched: false}, nil
	}
	return &MockServerMatchedResponse{Matched: srv.AllMatched()}, nil
}

// PrepareInteractionForVerification returns an interaction context for
// provider verification: the mock-server URL, the message name and, for
// an RPC interaction, the service and method names. It does not evaluate
// any generator or change the interaction's fields.
func (s *Service) PrepareInteractionForVerification(ctx context.Context, req *PrepareInteractionForVerificationRequest) (*PrepareInteractionForVerificationResponse, error) {
	var ext plugincontract.Extension
	if err := json.Unmarshal(req.PluginConfigRaw, &ext); err != nil {
		return &PrepareInteractionForVerificationResponse{Error: fmt.Sprintf("internal error: %v", err)}, nil
	}
	ctxVals := map[string]string{
		"mockServerUrl": req.MockServerURL,
		"messageName":   ext.MessageName,
	}
	if ext.ServiceName != "" {
		ctxVals["serviceName"] = ext.ServiceName
		ctxVals["methodName"] = ext.MethodName
	}
	return &PrepareInteractionForVerificationResponse{InteractionContext: ctxVals}, nil
}

// VerifyInteraction is a thin seam: real provider invocation requires a
// live network call the control protocol only describes the shape of
// (spec.md §6 names the RPC without specifying transport wiring beyond
// "invoke the provider"); this plugin reports success whenever a
// provider address is given and an error when it is empty. It does not
// decode the interaction, dial the provider or compare a response:
// that is the host's own verification-loop responsibility layered on
// top of CompareContents.
func (s *Service) VerifyInteraction(ctx context.Context, req *VerifyInteractionRequest) (*VerifyInteractionResponse, error) {
	if req.ProviderAddr == "" {
		return &VerifyInteractionResponse{Error: "providerAddr is required"}, nil
	}
	return &VerifyInteractionResponse{Success: true}, nil
}

func (s *Service) buildInteractions(exts []plugincontract.Extension) ([]*mockserver.Interaction, error) {
	out := make([]*mockserver.Interaction, 0, len(exts))
	for _, ext := range exts {
		if ext.Kind != plugincontract.KindRPC {
			continue
		}
		fdsProto, err := ext.DescriptorSetProto()
		if err != nil {
			return nil, fmt.Errorf("descriptor error: %w", err)
		}
		set, err := descriptor.Build(fdsProto)
		if err != nil {
			return nil, fmt.Errorf("descriptor error: %w", err)
		}
		method, err := set.Method(ext.ServiceName, ext.MethodName)
		if err != nil {
			return nil, fmt.Errorf("descriptor error: %w", err)
		}
		reqMD := method.GetInputType()
		respMD := method.GetOutputType()

		var reqNode *valuetree.Node
		if len(ext.RequestBody) > 0 {
			reqNode, _, err = wire.Decode(ext.RequestBody, reqMD)
			if err != nil {
				return nil, fmt.Errorf("wire decode error: %w", err)
			}
		} else {
			reqNode = valuetree.NewNode(reqMD)
		}

		var respNode *valuetree.Node
		if len(ext.ResponseBody) > 0 {
			respNode, _, err = wire.Decode(ext.ResponseBody, respMD)
			if err != nil {
				return nil, fmt.Errorf("wire decode error: %w", err)
			}
		} else {
			respNode = valuetree.NewNode(respMD)
		}

		rules := ext.Rules
		if rules == nil {
			rules = matching.NewCatalogue()
		}
		generators := ext.Generators
		if generators == nil {
			generators = generator.NewCatalogue()
		}
		it := &mockserver.Interaction{
			ID:           uuid.NewString(),
			MethodPath:   fmt.Sprintf("/%s/%s", ext.ServiceName, ext.MethodName),
			RequestMD:    reqMD,
			Request:      reqNode,
			ResponseMD:   respMD,
			Response:     respNode,
			Rules:        rules,
			Generators:   generators,
			Expectations: ext.ToExpectations(),
		}
		if ext.ResponseCode != 0 {
			it.ResponseStatus = &mockserver.ResponseStatus{Code: ext.ResponseCode, MessageValue: ext.ResponseMessage}
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Service) lookupMockServer(key string) *mockserver.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mockServers[key]
}

func splitServiceMethod(ref string) (string, string) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:]
		}
	}
	return ref, ""
}

func structFromConfigTree(tree map[string]interface{}) (*structpb.Struct, error) {
	clean := make(map[string]interface{}, len(tree))
	for k, v := range tree {
		switch k {
		case keyProtoFile, keyProtoSource, keyMessageType, keyService:
			continue
		default:
			clean[k] = v
		}
	}
	return structpb.NewStruct(clean)
}

func ruleSummary(c *matching.Catalogue) map[string]string {
	out := make(map[string]string)
	for _, e := range c.Entries() {
		out[e.Path.String()] = fmt.Sprintf("%d rule(s)", len(e.Rules))
	}
	return out
}

func generatorSummary(c *generator.Catalogue) map[string]string {
	out := make(map[string]string)
	for _, e := range c.Entries() {
		out[e.Path.String()] = e.Generator.Kind.String()
	}
	return out
}

func resultEntries(results []mockserver.Result) []MockServerResultEntry {
	out := make([]MockServerResultEntry, 0, len(results))
	for _, r := range results {
		out = append(out, MockServerResultEntry{
			InteractionID: r.InteractionID,
			MethodPath:    r.MethodPath,
			Kind:          r.Kind.String(),
			Mismatches:    mismatchEntries(r.Mismatches),
			Diagnosis:     r.Diagnosis,
		})
	}
	return out
}

func addrPort(addr string) int32 {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var p int32
			fmt.Sscanf(addr[i+1:], "%d", &p)
			return p
		}
	}
	return 0
}

