// Package mockserver implements the dynamic gRPC mock server described
// in SPEC_FULL.md §4.6: a loopback-bound server that intercepts every
// method path, dispatches through a DescriptorSet instead of a
// statically-generated stub, matches incoming requests against stored
// interactions, and records per-call results.
package mockserver

import (
	"sync"

	"github.com/jhump/protoreflect/desc"

	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/compiler"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/generator"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/matching"
	"github.com/pact-foundation/pact-protobuf-plugin-go/internal/valuetree"
)

// InteractionState is the per-interaction state machine of spec.md §4.6:
// Pending -> Matched | Unmatched.
type InteractionState int

const (
	StatePending InteractionState = iota
	StateMatched
	StateUnmatched
)

func (s InteractionState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateMatched:
		return "Matched"
	case StateUnmatched:
		return "Unmatched"
	default:
		return "Unknown"
	}
}

// ResponseStatus is a declared gRPC error response (spec.md §6 scenario
//4): when set instead of a Response body, the mock replies with this
// status and no message.
type ResponseStatus struct {
	Code          uint32
	MessageRule   *matching.Rule // the matching rule the "grpc-message" value must satisfy
	MessageValue  string         // the literal/generated "grpc-message" to send
}

// Interaction is one compiled request/response pair bound to a service
// method, ready to be served by a MockServer.
type Interaction struct {
	ID         string
	MethodPath string // "/package.Service/Method"

	RequestMD *desc.MessageDescriptor
	Request   *valuetree.Node

	ResponseMD       *desc.MessageDescriptor
	Response         *valuetree.Node
	ResponseStatus   *ResponseStatus
	ResponseMetadata map[string]string

	Rules        *matching.Catalogue
	Generators   *generator.Catalogue
	Expectations *compiler.Expectations

	mu    sync.Mutex
	State InteractionState
}

// TryClaim atomically transitions the interaction from Pending to
// Matched and reports whether the claim succeeded; an interaction
// already Matched or Unmatched cannot be claimed again by a tie-break
// loser (spec.md §4.6's tie-breaking rule: "prefer an interaction that
// is still Pending over one already Matched").
func (i *Interaction) TryClaim() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State != StatePending {
		return false
	}
	i.State = StateMatched
	return true
}

// MarkUnmatched transitions a still-Pending interaction to Unmatched,
// used at shutdown for interactions that never received a call.
func (i *Interaction) MarkUnmatched() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State != StatePending {
		return false
	}
	i.State = StateUnmatched
	return true
}

func (i *Interaction) snapshotState() InteractionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.State
}
