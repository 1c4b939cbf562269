package mockserver

import (
	"context"
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/structpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/wire"
)

const testProtoSource = `
syntax = "proto3";
package testpb;

message Echo {
  string text = 1;
}
`

func parseTestDescriptor(t *testing.T) *desc.MessageDescriptor {
	t.Helper()
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{"test.proto": testProtoSource}),
	}
	fds, err := parser.ParseFiles("test.proto")
	if err != nil {
		t.Fatalf("parse test proto: %v", err)
	}
	md := fds[0].FindMessage("testpb.Echo")
	if md == nil {
		t.Fatal("message Echo not found")
	}
	return md
}

func structCfg(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("structpb.NewStruct: %v", err)
	}
	return s
}

func newEchoInteraction(t *testing.T, id, reqText, respText string) *Interaction {
	t.Helper()
	md := parseTestDescriptor(t)

	reqCompiled, err := compiler.Compile(md, structCfg(t, map[string]interface{}{"text": reqText}))
	if err != nil {
		t.Fatalf("compile request: %v", err)
	}
	respCompiled, err := compiler.Compile(md, structCfg(t, map[string]interface{}{"text": respText}))
	if err != nil {
		t.Fatalf("compile response: %v", err)
	}

	return &Interaction{
		ID:           id,
		MethodPath:   "/testpb.Echoer/Echo",
		RequestMD:    md,
		Request:      reqCompiled.Example,
		ResponseMD:   md,
		Response:     respCompiled.Example,
		Rules:        matching.NewCatalogue(),
		Generators:   generator.NewCatalogue(),
		Expectations: reqCompiled.Expectations,
	}
}

func TestInteractionTryClaim(t *testing.T) {
	it := &Interaction{State: StatePending}
	if !it.TryClaim() {
		t.Fatal("expected first TryClaim to succeed")
	}
	if it.TryClaim() {
		t.Fatal("expected second TryClaim on an already-Matched interaction to fail")
	}
	if it.snapshotState() != StateMatched {
		t.Errorf("state = %v, want Matched", it.snapshotState())
	}
}

func TestInteractionMarkUnmatchedOnlyFromPending(t *testing.T) {
	it := &Interaction{State: StatePending}
	if !it.MarkUnmatched() {
		t.Fatal("expected MarkUnmatched to succeed from Pending")
	}
	if it.MarkUnmatched() {
		t.Fatal("expected second MarkUnmatched to fail")
	}

	claimed := &Interaction{State: StatePending}
	claimed.TryClaim()
	if claimed.MarkUnmatched() {
		t.Error("expected MarkUnmatched to fail once already Matched")
	}
}

func TestInteractionTryClaimConcurrent(t *testing.T) {
	it := &Interaction{State: StatePending}
	wins := make(chan bool, 20)
	done := make(chan bool)
	for i := 0; i < 20; i++ {
		go func() {
			wins <- it.TryClaim()
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	close(wins)

	successCount := 0
	for w := range wins {
		if w {
			successCount++
		}
	}
	if successCount != 1 {
		t.Errorf("expected exactly 1 successful claim among concurrent callers, got %d", successCount)
	}
}

func TestNewBindsLoopbackAndStartsBound(t *testing.T) {
	srv, err := New(zap.NewNop(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown()

	if srv.State() != StateBound {
		t.Errorf("state = %v, want StateBound", srv.State())
	}
	if srv.Addr() == "" {
		t.Error("expected non-empty bound address")
	}
}

func TestAllMatchedWithNoInteractions(t *testing.T) {
	srv, err := New(zap.NewNop(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown()

	if !srv.AllMatched() {
		t.Error("expected AllMatched to be true when there are no interactions")
	}
}

func TestResultsReturnsIndependentSnapshot(t *testing.T) {
	srv, err := New(zap.NewNop(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Shutdown()

	srv.recordResult(Result{InteractionID: "x", Kind: ResultMatched})
	first := srv.Results()
	first[0].InteractionID = "mutated"

	second := srv.Results()
	if second[0].InteractionID != "x" {
		t.Errorf("Results() snapshot was not independent, got %q", second[0].InteractionID)
	}
}

func TestShutdownMarksPendingInteractionsMissingRequest(t *testing.T) {
	it := newEchoInteraction(t, "never-called", "hi", "bye")
	srv, err := New(zap.NewNop(), DefaultConfig(), []*Interaction{it})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Shutdown()

	results := srv.Results()
	if len(results) != 1 || results[0].Kind != ResultMissingRequest {
		t.Fatalf("expected a MissingRequest result, got %+v", results)
	}
	if srv.State() != StateShutdown {
		t.Errorf("state = %v, want StateShutdown", srv.State())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, err := New(zap.NewNop(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Shutdown()
	srv.Shutdown()
	if srv.State() != StateShutdown {
		t.Error("expected state to remain Shutdown after repeated Shutdown calls")
	}
}

func TestServeEndToEndMatchedRequest(t *testing.T) {
	it := newEchoInteraction(t, "i1", "hello", "hello-reply")
	srv, err := New(zap.NewNop(), DefaultConfig(), []*Interaction{it})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	reqBytes, err := wire.Encode(it.Request)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var respBytes []byte
	if err := conn.Invoke(ctx, it.MethodPath, &reqBytes, &respBytes); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	decoded, _, err := wire.Decode(respBytes, it.ResponseMD)
	if err != nil {
		t.Fatalf("wire.Decode response: %v", err)
	}
	textField := decoded.GetByName("text")
	if textField == nil || textField.Primary.Scalar.Str != "hello-reply" {
		t.Errorf("unexpected response field: %+v", textField)
	}

	if !srv.AllMatched() {
		t.Error("expected AllMatched to be true after a successful call")
	}
	results := srv.Results()
	if len(results) != 1 || results[0].Kind != ResultMatched || results[0].InteractionID != "i1" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestServeEndToEndUnmatchedRequest(t *testing.T) {
	it := newEchoInteraction(t, "i1", "hello", "hello-reply")
	srv, err := New(zap.NewNop(), DefaultConfig(), []*Interaction{it})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	wrongMD := parseTestDescriptor(t)
	wrongNode, err := compiler.Compile(wrongMD, structCfg(t, map[string]interface{}{"text": "not-what-was-expected"}))
	if err != nil {
		t.Fatalf("compile wrong request: %v", err)
	}
	reqBytes, err := wire.Encode(wrongNode.Example)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var respBytes []byte
	err = conn.Invoke(ctx, it.MethodPath, &reqBytes, &respBytes)
	if err == nil {
		t.Fatal("expected an error for a request that does not match the configured interaction")
	}

	results := srv.Results()
	if len(results) != 1 || results[0].Kind != ResultUnmatched {
		t.Errorf("expected an Unmatched result, got %+v", results)
	}
}
