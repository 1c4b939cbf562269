// Package plugincontract defines the persisted contract extensions this
// plugin embeds in a host's contract file, per spec.md §6: a binary
// descriptor-set blob, its MD5 fingerprint, the top-level message name,
// the service/method name for RPC interactions, the recorded
// expectations blob, and any configured response metadata. All of it is
// opaque to the host; only this plugin ever interprets it, on a later
// verification run.
package plugincontract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/descriptor"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// Kind distinguishes a plain message interaction from an RPC interaction,
// the latter additionally naming a service and method.
type Kind int

const (
	KindMessage Kind = iota
	KindRPC
)

func (k Kind) String() string {
	if k == KindRPC {
		return "rpc"
	}
	return "message"
}

// Extension is the plugin-specific configuration persisted alongside one
// InteractionResponse, per spec.md §6's "Persisted contract extensions".
type Extension struct {
	Kind Kind `json:"kind"`

	// DescriptorSet is the binary FileDescriptorSet this interaction was
	// compiled against, carried verbatim so later verification never
	// re-invokes the .proto source compiler (spec.md §3 "Lifecycle").
	DescriptorSet []byte `json:"descriptorSet"`
	Fingerprint   string `json:"fingerprint"`

	MessageName string `json:"messageName"`
	ServiceName string `json:"serviceName,omitempty"`
	MethodName  string `json:"methodName,omitempty"`

	// Rules/Generators are the compiled MatchingCatalogue and
	// GeneratorCatalogue for this interaction, persisted so a later
	// CompareContents or StartMockServer call (which only ever sees the
	// Extension, never the original configuration tree) can apply the
	// same matching semantics the consumer configured instead of falling
	// back to structural equality.
	Rules      *matching.Catalogue  `json:"rules,omitempty"`
	Generators *generator.Catalogue `json:"generators,omitempty"`

	Expectations     map[string]bool   `json:"expectations,omitempty"`
	ResponseMetadata map[string]string `json:"responseMetadata,omitempty"`

	// RequestBody/ResponseBody are the canonical wire-encoded example
	// bodies for an RPC interaction, carried alongside the descriptor so
	// a later StartMockServer call can decode them into the stored
	// request/response ValueTree pair without re-contacting the host
	// (spec.md §6 names the descriptor blob and expectations as
	// persisted; the bodies must travel the same way since the
	// MockServer needs them to answer calls).
	RequestBody  []byte `json:"requestBody,omitempty"`
	ResponseBody []byte `json:"responseBody,omitempty"`

	// ResponseCode/ResponseMessage carry a declared gRPC error response
	// (spec.md §6 scenario 4) in place of ResponseBody.
	ResponseCode    uint32 `json:"responseCode,omitempty"`
	ResponseMessage string `json:"responseMessage,omitempty"`
}

// jsonExtension is Extension's base64-on-the-wire shape: contract files
// are JSON, so the binary descriptor-set blob must travel base64-encoded
// (spec.md §6: "base64-encoded in JSON contract files").
type jsonExtension struct {
	Kind             string               `json:"kind"`
	DescriptorSet    string               `json:"descriptorSet"`
	Fingerprint      string               `json:"fingerprint"`
	MessageName      string               `json:"messageName"`
	ServiceName      string               `json:"serviceName,omitempty"`
	MethodName       string               `json:"methodName,omitempty"`
	Rules            *matching.Catalogue  `json:"rules,omitempty"`
	Generators       *generator.Catalogue `json:"generators,omitempty"`
	Expectations     map[string]bool      `json:"expectations,omitempty"`
	ResponseMetadata map[string]string    `json:"responseMetadata,omitempty"`
	RequestBody      string               `json:"requestBody,omitempty"`
	ResponseBody     string               `json:"responseBody,omitempty"`
	ResponseCode     uint32               `json:"responseCode,omitempty"`
	ResponseMessage  string               `json:"responseMessage,omitempty"`
}

// Build assembles an Extension from a compiled interaction's inputs.
// rules/generators are the MatchingCatalogue/GeneratorCatalogue compiled
// alongside exp; either may be nil or empty.
func Build(set *descriptor.Set, messageName string, exp *compiler.Expectations, rules *matching.Catalogue, generators *generator.Catalogue) *Extension {
	e := &Extension{
		Kind:          KindMessage,
		DescriptorSet: mustMarshalSet(set),
		Fingerprint:   set.Fingerprint,
		MessageName:   messageName,
		Rules:         rules,
		Generators:    generators,
	}
	if exp != nil {
		e.Expectations = stringifyExpectations(exp)
	}
	return e
}

// BuildRPC assembles an Extension for a service-method interaction,
// carrying the encoded request and response bodies the MockServer
// replays when this interaction is later bound into a running server.
func BuildRPC(set *descriptor.Set, messageName, serviceName, methodName string, exp *compiler.Expectations, rules *matching.Catalogue, generators *generator.Catalogue, requestBody, responseBody []byte) *Extension {
	e := Build(set, messageName, exp, rules, generators)
	e.Kind = KindRPC
	e.ServiceName = serviceName
	e.MethodName = methodName
	e.RequestBody = requestBody
	e.ResponseBody = responseBody
	return e
}

func stringifyExpectations(exp *compiler.Expectations) map[string]bool {
	out := make(map[string]bool, len(exp.Present))
	for path, present := range exp.Present {
		out[string(path)] = present
	}
	return out
}

// ToExpectations reconstructs a compiler.Expectations from the persisted
// blob, for use on a later verification run.
func (e *Extension) ToExpectations() *compiler.Expectations {
	exp := compiler.NewExpectations()
	for path, present := range e.Expectations {
		exp.Present[valuetree.Path(path)] = present
	}
	return exp
}

// MarshalJSON implements the base64 wire shape.
func (e *Extension) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonExtension{
		Kind:             e.Kind.String(),
		DescriptorSet:    base64.StdEncoding.EncodeToString(e.DescriptorSet),
		Fingerprint:      e.Fingerprint,
		MessageName:      e.MessageName,
		ServiceName:      e.ServiceName,
		MethodName:       e.MethodName,
		Rules:            e.Rules,
		Generators:       e.Generators,
		Expectations:     e.Expectations,
		ResponseMetadata: e.ResponseMetadata,
		RequestBody:      base64.StdEncoding.EncodeToString(e.RequestBody),
		ResponseBody:     base64.StdEncoding.EncodeToString(e.ResponseBody),
		ResponseCode:     e.ResponseCode,
		ResponseMessage:  e.ResponseMessage,
	})
}

// UnmarshalJSON implements the base64 wire shape.
func (e *Extension) UnmarshalJSON(data []byte) error {
	var j jsonExtension
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("plugincontract: unmarshal extension: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(j.DescriptorSet)
	if err != nil {
		return fmt.Errorf("plugincontract: decode descriptor set: %w", err)
	}
	e.Kind = KindMessage
	if j.Kind == "rpc" {
		e.Kind = KindRPC
	}
	e.DescriptorSet = raw
	e.Fingerprint = j.Fingerprint
	e.MessageName = j.MessageName
	e.ServiceName = j.ServiceName
	e.MethodName = j.MethodName
	e.Rules = j.Rules
	e.Generators = j.Generators
	e.Expectations = j.Expectations
	e.ResponseMetadata = j.ResponseMetadata
	e.ResponseCode = j.ResponseCode
	e.ResponseMessage = j.ResponseMessage
	if j.RequestBody != "" {
		if e.RequestBody, err = base64.StdEncoding.DecodeString(j.RequestBody); err != nil {
			return fmt.Errorf("plugincontract: decode request body: %w", err)
		}
	}
	if j.ResponseBody != "" {
		if e.ResponseBody, err = base64.StdEncoding.DecodeString(j.ResponseBody); err != nil {
			return fmt.Errorf("plugincontract: decode response body: %w", err)
		}
	}
	return nil
}

func mustMarshalSet(set *descriptor.Set) []byte {
	fds := set.AsFileDescriptorSet()
	raw, err := proto.Marshal(fds)
	if err != nil {
		// A Set was already built successfully from a FileDescriptorSet,
		// so re-marshalling it cannot fail; a failure here means the
		// descriptor package itself is broken.
		panic(fmt.Sprintf("plugincontract: re-marshal descriptor set: %v", err))
	}
	return raw
}

// DescriptorSetProto unmarshals the persisted blob back into a
// FileDescriptorSet, for a verification-time descriptor.Loader.Build call.
func (e *Extension) DescriptorSetProto() (*descriptorpb.FileDescriptorSet, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(e.DescriptorSet, &fds); err != nil {
		return nil, fmt.Errorf("plugincontract: unmarshal descriptor set: %w", err)
	}
	return &fds, nil
}
