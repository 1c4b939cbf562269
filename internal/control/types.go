// Package control implements the host <-> plugin control protocol of
// spec.md §6: one gRPC service exposing InitPlugin, UpdateCatalogue,
// ConfigureInteraction, CompareContents, StartMockServer,
// ShutdownMockServer, GetMockServerResults, MockServerMatched,
// PrepareInteractionForVerification, and VerifyInteraction.
//
// The upstream control schema is itself a .proto file; generating a Go
// stub for it would require invoking protoc/buf as part of building this
// repo, which this exercise does not permit, so the control messages are
// hand-written Go structs carried over gRPC with a JSON wire codec
// instead of a generated proto.Message — see DESIGN.md for the
// connectrpc.com/connect -> grpc.ServiceDesc substitution this implies.
package control

import "github.com/pact-foundation/pact-protobuf-plugin-go/internal/comparator"

// InitPluginRequest/Response negotiate plugin startup (spec.md §6).
type InitPluginRequest struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

type CatalogueEntry struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	Values   map[string]string `json:"values,omitempty"`
}

type InitPluginResponse struct {
	PluginVersion string           `json:"pluginVersion"`
	Catalogue     []CatalogueEntry `json:"catalogue"`
}

// UpdateCatalogueRequest carries catalogue entries contributed by other
// loaded plugins.
type UpdateCatalogueRequest struct {
	Entries []CatalogueEntry `json:"entries"`
}

type UpdateCatalogueResponse struct{}

// ConfigureInteractionRequest supplies the consumer-authored
// configuration tree for one interaction.
type ConfigureInteractionRequest struct {
	ContentType string                 `json:"contentType"`
	ConfigTree  map[string]interface{} `json:"configTree"`
}

// InteractionResponse is one compiled interaction, per spec.md §6.
type InteractionResponse struct {
	Contents         []byte            `json:"contents"`
	ContentType      string            `json:"contentType"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	MatchingRules    map[string]string `json:"matchingRules,omitempty"`
	Generators       map[string]string `json:"generators,omitempty"`
	PluginConfigJSON []byte            `json:"pluginConfig"`
}

type ConfigureInteractionResponse struct {
	Interactions []InteractionResponse `json:"interactions"`
	Error        string                 `json:"error,omitempty"`
}

// CompareContentsRequest/Response implement the Comparator RPC seam.
type CompareContentsRequest struct {
	ExpectedBody    []byte `json:"expectedBody"`
	ActualBody      []byte `json:"actualBody"`
	PluginConfigRaw []byte `json:"pluginConfig"`
}

type MismatchEntry struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type CompareContentsResponse struct {
	Mismatches []MismatchEntry `json:"mismatches"`
	Error      string          `json:"error,omitempty"`
}

func mismatchEntries(ms []comparator.Mismatch) []MismatchEntry {
	out := make([]MismatchEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, MismatchEntry{
			Path:     m.Path.String(),
			Kind:     m.Kind.String(),
			Expected: m.Expected,
			Actual:   m.Actual,
		})
	}
	return out
}

// StartMockServerRequest/Response bind a MockServer instance.
type StartMockServerRequest struct {
	PluginConfigRaw []byte `json:"pluginConfig"`
	HostInterface   string `json:"hostInterface,omitempty"`
}

type StartMockServerResponse struct {
	ServerKey string `json:"serverKey"`
	Port      int32  `json:"port"`
	Error     string `json:"error,omitempty"`
}

type ShutdownMockServerRequest struct {
	ServerKey string `json:"serverKey"`
}

type MockServerResultEntry struct {
	InteractionID string          `json:"interactionId"`
	MethodPath    string          `json:"methodPath"`
	Kind          string          `json:"kind"`
	Mismatches    []MismatchEntry `json:"mismatches,omitempty"`
	Diagnosis     string          `json:"diagnosis,omitempty"`
}

type ShutdownMockServerResponse struct {
	Ok      bool                     `json:"ok"`
	Results []MockServerResultEntry  `json:"results"`
}

type GetMockServerResultsRequest struct {
	ServerKey string `json:"serverKey"`
}

type GetMockServerResultsResponse struct {
	Results []MockServerResultEntry `json:"results"`
	Error   string                  `json:"error,omitempty"`
}

type MockServerMatchedRequest struct {
	ServerKey string `json:"serverKey"`
}

type MockServerMatchedResponse struct {
	Matched bool `json:"matched"`
}

// PrepareInteractionForVerificationRequest asks for the interaction
// context (mock-server URL, message, service and method names) of a
// previously compiled interaction.
type PrepareInteractionForVerificationRequest struct {
	PluginConfigRaw []byte `json:"pluginConfig"`
	MockServerURL   string `json:"mockServerUrl"`
}

type PrepareInteractionForVerificationResponse struct {
	InteractionContext map[string]string `json:"interactionContext"`
	Error               string            `json:"error,omitempty"`
}

// VerifyInteractionRequest names the provider address for a previously
// compiled interaction. Only ProviderAddr is read by VerifyInteraction;
// no call is made to the provider.
type VerifyInteractionRequest struct {
	PluginConfigRaw []byte            `json:"pluginConfig"`
	ProviderAddr    string            `json:"providerAddr"`
	RequestBody     []byte            `json:"requestBody"`
	InteractionCtx  map[string]string `json:"interactionContext,omitempty"`
}

type VerifyInteractionResponse struct {
	Success    bool            `json:"success"`
	Mismatches []MismatchEntry `json:"mismatches,omitempty"`
	Error      string          `json:"error,omitempty"`
}
