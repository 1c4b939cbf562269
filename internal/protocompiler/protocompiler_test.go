package protocompiler

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCompileInMemorySingleFile(t *testing.T) {
	const src = `
syntax = "proto3";
package testpb;

message Person {
  string name = 1;
}
`
	fds, err := CompileInMemory("test.proto", src, nil)
	if err != nil {
		t.Fatalf("CompileInMemory: %v", err)
	}
	if len(fds.File) != 1 {
		t.Fatalf("expected 1 file, got %d", len(fds.File))
	}
	if fds.File[0].GetName() != "test.proto" {
		t.Errorf("file name = %q", fds.File[0].GetName())
	}
	if len(fds.File[0].MessageType) != 1 || fds.File[0].MessageType[0].GetName() != "Person" {
		t.Errorf("unexpected message types: %+v", fds.File[0].MessageType)
	}
}

func TestCompileInMemoryDependencyOrdering(t *testing.T) {
	const src = `
syntax = "proto3";
package testpb;

import "google/protobuf/wrappers.proto";

message Person {
  google.protobuf.StringValue nickname = 1;
}
`
	fds, err := CompileInMemory("test.proto", src, nil)
	if err != nil {
		t.Fatalf("CompileInMemory: %v", err)
	}
	if len(fds.File) < 2 {
		t.Fatalf("expected the wrappers.proto dependency to be flattened in, got %d files", len(fds.File))
	}
	last := fds.File[len(fds.File)-1]
	if last.GetName() != "test.proto" {
		t.Errorf("expected test.proto to be last (dependent after dependency), got %q", last.GetName())
	}
	foundWrappers := false
	for _, f := range fds.File[:len(fds.File)-1] {
		if f.GetName() == "google/protobuf/wrappers.proto" {
			foundWrappers = true
		}
	}
	if !foundWrappers {
		var names []string
		for _, f := range fds.File {
			names = append(names, f.GetName())
		}
		t.Errorf("expected google/protobuf/wrappers.proto among dependency files, got %v", names)
	}
}

func TestCompileInMemoryDeduplicatesSharedDependency(t *testing.T) {
	const src = `
syntax = "proto3";
package testpb;

import "google/protobuf/wrappers.proto";

message Person {
  google.protobuf.StringValue nickname = 1;
  google.protobuf.Int32Value age = 2;
}
`
	fds, err := CompileInMemory("test.proto", src, nil)
	if err != nil {
		t.Fatalf("CompileInMemory: %v", err)
	}
	count := 0
	for _, f := range fds.File {
		if f.GetName() == "google/protobuf/wrappers.proto" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected wrappers.proto exactly once, got %d", count)
	}
}

func TestCompileInMemoryParseError(t *testing.T) {
	_, err := CompileInMemory("bad.proto", "this is not valid proto source", nil)
	if err == nil {
		t.Fatal("expected a parse error for malformed proto source")
	}
}

func TestCompileMissingBinaryReturnsCompileError(t *testing.T) {
	c := New(zap.NewNop(), "/no/such/protoc-binary", nil)
	_, err := c.Compile(context.Background(), "test.proto", "syntax = \"proto3\"; message Empty {}")
	if err == nil {
		t.Fatal("expected error when the protoc binary does not exist")
	}
	ce, ok := err.(*CompileError)
	if !ok {
		t.Fatalf("expected *CompileError, got %T", err)
	}
	if ce.Tool != "protoc" {
		t.Errorf("Tool = %q", ce.Tool)
	}
	if ce.Unwrap() == nil {
		t.Error("expected Unwrap to return the underlying exec error")
	}
}
