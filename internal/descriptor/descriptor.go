// Package descriptor implements the DescriptorSet described in
// SPEC_FULL.md §4.2: it turns a host-supplied binary FileDescriptorSet
// into a navigable index of messages and services, validates it against
// the constraints the rest of the plugin depends on (no streaming
// methods, no enum/message map keys, no duplicate fully-qualified names),
// and fingerprints it so repeated configuration of the same .proto
// content can reuse the already-built index.
package descriptor

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Set is a fully resolved, validated view over a FileDescriptorSet: every
// message and service it (transitively) declares, indexed by fully
// qualified name, plus the MD5 fingerprint of the bytes it was built
// from.
type Set struct {
	Fingerprint string

	files    map[string]*desc.FileDescriptor
	messages map[string]*desc.MessageDescriptor
	services map[string]*desc.ServiceDescriptor
}

// ValidationError reports a descriptor that fails one of the plugin's
// structural constraints: a streaming method, a group field, or a map
// field keyed by an enum or message type.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return "invalid descriptor set: " + e.Detail }

// ParseError wraps a failure to turn raw bytes or a FileDescriptorProto
// into a usable *desc.FileDescriptor, following the teacher registry's
// ParseError shape.
type ParseError struct {
	File    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("descriptor parse error in %s: %s", e.File, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Fingerprint returns the MD5 hex digest of raw descriptor-set bytes, per
// SPEC_FULL.md §3's "Lifecycle" fingerprinting rule.
func Fingerprint(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Loader builds and caches Sets keyed by fingerprint so a host that
// configures many interactions against the same compiled .proto content
// only pays the descriptor-resolution cost once.
type Loader struct {
	log   *zap.Logger
	cache *cache.Cache
	mu    sync.Mutex
}

// NewLoader creates a Loader whose cached entries expire ttl after they
// were stored (a cache hit does not extend it); a ttl of zero disables
// expiry.
func NewLoader(log *zap.Logger, ttl time.Duration) *Loader {
	expiry := cache.NoExpiration
	if ttl > 0 {
		expiry = ttl
	}
	return &Loader{
		log:   log.Named("descriptor"),
		cache: cache.New(expiry, expiry/2+time.Minute),
	}
}

// Load parses raw FileDescriptorSet bytes, builds a validated Set, and
// returns it from cache if an identical byte sequence was already loaded.
func (l *Loader) Load(raw []byte) (*Set, error) {
	fp := Fingerprint(raw)

	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache.Get(fp); ok {
		l.log.Debug("descriptor set cache hit", zap.String("fingerprint", fp))
		return cached.(*Set), nil
	}

	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(raw, fds); err != nil {
		return nil, &ParseError{Message: "failed to unmarshal FileDescriptorSet", Cause: err}
	}

	set, err := Build(fds)
	if err != nil {
		return nil, err
	}
	set.Fingerprint = fp

	l.cache.SetDefault(fp, set)
	l.log.Debug("descriptor set built and cached",
		zap.String("fingerprint", fp),
		zap.Int("files", len(fds.File)))
	return set, nil
}

// Build resolves a FileDescriptorSet into a validated Set without
// touching the cache; exposed directly for callers (and tests) that
// already have a parsed FileDescriptorSet in hand.
func Build(fds *descriptorpb.FileDescriptorSet) (*Set, error) {
	if err := validateNoDuplicates(fds); err != nil {
		return nil, err
	}

	set := &Set{
		files:    make(map[string]*desc.FileDescriptor),
		messages: make(map[string]*desc.MessageDescriptor),
		services: make(map[string]*desc.ServiceDescriptor),
	}

	built := make(map[string]*desc.FileDescriptor, len(fds.File))
	for _, fdProto := range fds.File {
		fd, err := resolveFile(fdProto, fds, built)
		if err != nil {
			return nil, err
		}
		built[fdProto.GetName()] = fd
	}

	for _, fd := range built {
		set.files[fd.GetName()] = fd
		for _, msg := range fd.GetMessageTypes() {
			if err := indexMessage(set, msg); err != nil {
				return nil, err
			}
		}
		for _, svc := range fd.GetServices() {
			if err := indexService(set, svc); err != nil {
				return nil, err
			}
		}
	}

	return set, nil
}

// resolveFile builds a *desc.FileDescriptor for fdProto, first resolving
// (and memoising) every file it depends on, since
// desc.CreateFileDescriptor needs its dependencies already built.
func resolveFile(fdProto *descriptorpb.FileDescriptorProto, fds *descriptorpb.FileDescriptorSet, built map[string]*desc.FileDescriptor) (*desc.FileDescriptor, error) {
	if fd, ok := built[fdProto.GetName()]; ok {
		return fd, nil
	}

	deps := make([]*desc.FileDescriptor, 0, len(fdProto.GetDependency()))
	for _, depName := range fdProto.GetDependency() {
		depProto := findFile(fds, depName)
		if depProto == nil {
			return nil, &ParseError{File: fdProto.GetName(), Message: fmt.Sprintf("missing dependency %s", depName)}
		}
		depFd, err := resolveFile(depProto, fds, built)
		if err != nil {
			return nil, err
		}
		deps = append(deps, depFd)
		built[depName] = depFd
	}

	fd, err := desc.CreateFileDescriptor(fdProto, deps...)
	if err != nil {
		return nil, &ParseError{File: fdProto.GetName(), Message: "failed to create file descriptor", Cause: err}
	}
	return fd, nil
}

func findFile(fds *descriptorpb.FileDescriptorSet, name string) *descriptorpb.FileDescriptorProto {
	for _, f := range fds.File {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func validateNoDuplicates(fds *descriptorpb.FileDescriptorSet) error {
	if fds == nil || len(fds.File) == 0 {
		return &ValidationError{Detail: "empty file descriptor set"}
	}
	seen := make(map[string]bool, len(fds.File))
	for _, f := range fds.File {
		name := f.GetName()
		if name == "" {
			return &ValidationError{Detail: "file descriptor with empty name"}
		}
		if seen[name] {
			return &ValidationError{Detail: fmt.Sprintf("duplicate file descriptor: %s", name)}
		}
		seen[name] = true
	}
	return nil
}

// indexMessage recursively indexes a message, its nested types, and (for
// every field) enforces the map-entry key-kind restriction: a map key
// must be a scalar or string type, never an enum or message
// (SPEC_FULL.md §4.2, carried from spec.md §3's ValueTree MapPair
// definition which has no representation for a non-scalar key).
func indexMessage(set *Set, msg *desc.MessageDescriptor) error {
	if existing, ok := set.messages[msg.GetFullyQualifiedName()]; ok && existing != msg {
		return &ValidationError{Detail: fmt.Sprintf("duplicate message name: %s", msg.GetFullyQualifiedName())}
	}
	set.messages[msg.GetFullyQualifiedName()] = msg

	for _, field := range msg.GetFields() {
		if field.GetType() == descriptorpb.FieldDescriptorProto_TYPE_GROUP {
			return &ValidationError{Detail: fmt.Sprintf("%s.%s: groups are not supported", msg.GetFullyQualifiedName(), field.GetName())}
		}
		if field.IsMap() {
			keyType := field.GetMapKeyType().GetType()
			switch keyType {
			case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE,
				descriptorpb.FieldDescriptorProto_TYPE_GROUP,
				descriptorpb.FieldDescriptorProto_TYPE_ENUM:
				return &ValidationError{Detail: fmt.Sprintf("%s.%s: map key must be a scalar or string type", msg.GetFullyQualifiedName(), field.GetName())}
			}
		}
	}

	for _, nested := range msg.GetNestedMessageTypes() {
		if err := indexMessage(set, nested); err != nil {
			return err
		}
	}
	return nil
}

// indexService indexes a service and rejects any streaming method: the
// plugin's MockServer and control protocol only support unary RPCs
// (SPEC_FULL.md §4.6).
func indexService(set *Set, svc *desc.ServiceDescriptor) error {
	fqn := svc.GetFullyQualifiedName()
	if _, ok := set.services[fqn]; ok {
		return &ValidationError{Detail: fmt.Sprintf("duplicate service name: %s", fqn)}
	}
	for _, m := range svc.GetMethods() {
		if m.IsClientStreaming() || m.IsServerStreaming() {
			return &ValidationError{Detail: fmt.Sprintf("%s.%s: streaming methods are not supported", fqn, m.GetName())}
		}
	}
	set.services[fqn] = svc
	return nil
}

// Message returns the message descriptor for a fully qualified name.
func (s *Set) Message(name string) (*desc.MessageDescriptor, bool) {
	m, ok := s.messages[name]
	return m, ok
}

// Service returns the service descriptor for a fully qualified name.
func (s *Set) Service(name string) (*desc.ServiceDescriptor, bool) {
	svc, ok := s.services[name]
	return svc, ok
}

// Method returns the method descriptor for serviceName.methodName.
func (s *Set) Method(serviceName, methodName string) (*desc.MethodDescriptor, error) {
	svc, ok := s.services[serviceName]
	if !ok {
		return nil, fmt.Errorf("service not found: %s", serviceName)
	}
	m := svc.FindMethodByName(methodName)
	if m == nil {
		return nil, fmt.Errorf("method not found: %s.%s", serviceName, methodName)
	}
	return m, nil
}

// Services lists every service's fully qualified name, for diagnostics.
func (s *Set) Services() []string {
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	return out
}

// AsFileDescriptorSet reassembles the underlying FileDescriptorProtos,
// mirroring the teacher registry's MarshalBinary use of
// AsFileDescriptorProto, for callers (e.g. internal/plugincontract) that
// need to persist the set verbatim.
func (s *Set) AsFileDescriptorSet() *descriptorpb.FileDescriptorSet {
	fds := &descriptorpb.FileDescriptorSet{
		File: make([]*descriptorpb.FileDescriptorProto, 0, len(s.files)),
	}
	for _, fd := range s.files {
		fds.File = append(fds.File, fd.AsFileDescriptorProto())
	}
	return fds
}
