// Package protocompiler invokes an external Protobuf source compiler
// (protoc; no other compiler is tried) to turn a user-supplied .proto source
// into a binary FileDescriptorSet, scoped to the lifetime of a single
// ConfigureInteraction call (spec.md §9's Open Question on compiler
// process lifetime: one temp workspace per call, torn down when it
// returns).
package protocompiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// CompileError wraps a failed external-compiler invocation, preserving
// its stderr for diagnosis.
type CompileError struct {
	Tool   string
	Stderr string
	Cause  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("protocompiler: %s failed: %v (stderr: %s)", e.Tool, e.Cause, e.Stderr)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// Compiler invokes protoc against a scratch workspace created fresh for
// each Compile call, following the teacher loader's LoadFromPath shape
// of "temp file out, exec.Command, read back, unmarshal, clean up".
type Compiler struct {
	log                *zap.Logger
	protocPath         string
	additionalIncludes []string
}

// New creates a Compiler. protocPath is the resolved path to the protoc
// binary (obtained out of band per spec.md §6's protocVersion/downloadUrl
// manifest options, which this package does not itself implement —
// fetching and caching a compiler binary is explicitly out of scope per
// spec.md §2).
func New(log *zap.Logger, protocPath string, additionalIncludes []string) *Compiler {
	return &Compiler{
		log:                log.Named("protocompiler"),
		protocPath:         protocPath,
		additionalIncludes: additionalIncludes,
	}
}

// Compile writes protoSource to a scratch directory and invokes protoc
// to produce a binary FileDescriptorSet, scoped entirely to this call:
// the scratch directory is removed before Compile returns.
func (c *Compiler) Compile(ctx context.Context, filename, protoSource string) (*descriptorpb.FileDescriptorSet, error) {
	workDir, err := os.MkdirTemp("", "pact-protobuf-plugin-*")
	if err != nil {
		return nil, fmt.Errorf("protocompiler: create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	protoPath := filepath.Join(workDir, filename)
	if err := os.WriteFile(protoPath, []byte(protoSource), 0o600); err != nil {
		return nil, fmt.Errorf("protocompiler: write proto source: %w", err)
	}

	outPath := filepath.Join(workDir, "descriptor.bin")

	args := []string{
		"--include_imports",
		"-o", outPath,
		"-I", workDir,
	}
	for _, inc := range c.additionalIncludes {
		args = append(args, "-I", inc)
	}
	args = append(args, protoPath)

	cmd := exec.CommandContext(ctx, c.protocPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log.Debug("invoking protoc", zap.String("filename", filename), zap.Strings("includes", c.additionalIncludes))
	if err := cmd.Run(); err != nil {
		return nil, &CompileError{Tool: "protoc", Stderr: stderr.String(), Cause: err}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("protocompiler: read descriptor set: %w", err)
	}

	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(data, fds); err != nil {
		return nil, fmt.Errorf("protocompiler: unmarshal descriptor set: %w", err)
	}
	return fds, nil
}

// CompileInMemory parses protoSource directly via protoparse, bypassing
// the external protoc process. Used by tests and by environments where
// protoc is unavailable, mirroring the teacher registry's
// NewFromParser(protoparse.Parser{...}) construction path.
func CompileInMemory(filename, protoSource string, additionalIncludes []string) (*descriptorpb.FileDescriptorSet, error) {
	parser := protoparse.Parser{
		ImportPaths:           additionalIncludes,
		IncludeSourceCodeInfo: false,
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			filename: protoSource,
		}),
	}
	fileDescs, err := parser.ParseFiles(filename)
	if err != nil {
		return nil, fmt.Errorf("protocompiler: parse %s: %w", filename, err)
	}

	fds := &descriptorpb.FileDescriptorSet{}
	seen := make(map[string]bool)
	for _, fd := range fileDescs {
		appendFileDescriptor(fds, fd, seen)
	}
	return fds, nil
}

// appendFileDescriptor flattens a *desc.FileDescriptor and its
// transitive imports into fds, each file appearing once, dependencies
// before dependents, mirroring the ordering internal/descriptor.Build
// expects of a FileDescriptorSet loaded from the wire.
func appendFileDescriptor(fds *descriptorpb.FileDescriptorSet, fd *desc.FileDescriptor, seen map[string]bool) {
	if seen[fd.GetName()] {
		return
	}
	seen[fd.GetName()] = true
	for _, dep := range fd.GetDependencies() {
		appendFileDescriptor(fds, dep, seen)
	}
	fds.File = append(fds.File, fd.AsFileDescriptorProto())
}
