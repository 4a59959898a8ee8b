package dynamic

import (
	"context"
	"testing"

	"github.com/bufbuild/protocompile"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const testSchema = `
syntax = "proto3";

package test;

enum Kind {
  KIND_UNSPECIFIED = 0;
  KIND_A = 1;
  KIND_B = 2;
}

message TestMessage {
  int32 foo = 1;
  int64 big = 2;
  uint64 ubig = 3;
  string name = 4;
  bytes data = 5;
  bool flag = 6;
  double weight = 7;
  float ratio = 8;
  Kind kind = 9;
  TestMessage child = 10;
  repeated string tags = 11;
  map<string, int32> counts = 12;
  map<int32, string> labels = 13;
  optional int32 opt = 14;
  oneof choice {
    string text = 15;
    int32 number = 16;
  }
  string full_name = 17;
}

message Small {
  int32 a = 1;
  string b = 2;
  Kind kind = 3;
  repeated int32 xs = 4;
  map<string, int32> m = 5;
  optional bool ob = 6;
  oneof o {
    int32 x = 7;
    int32 y = 8;
  }
}
`

const testExtSchema = `
syntax = "proto2";

package test2;

message Extendable {
  optional string name = 1;
  optional int32 with_default = 2 [default = 42];
  extensions 100 to 200;
}

extend Extendable {
  optional int32 ext_num = 100;
  repeated string ext_tags = 101;
}

message Other {
  optional string name = 1;
}
`

func compileFile(t *testing.T, source string) protoreflect.FileDescriptor {
	t.Helper()
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				"test.proto": source,
			}),
		}),
	}
	fds, err := compiler.Compile(context.Background(), "test.proto")
	require.NoError(t, err)
	require.Len(t, fds, 1)
	return fds[0]
}

func messageDescriptor(t *testing.T, fd protoreflect.FileDescriptor, name protoreflect.Name) protoreflect.MessageDescriptor {
	t.Helper()
	md := fd.Messages().ByName(name)
	require.NotNil(t, md, "message %s not found in %s", name, fd.Path())
	return md
}

func field(t *testing.T, md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	t.Helper()
	fd := md.Fields().ByName(name)
	require.NotNil(t, fd, "field %s not found in %s", name, md.FullName())
	return fd
}

func extension(t *testing.T, fd protoreflect.FileDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	t.Helper()
	ext := fd.Extensions().ByName(name)
	require.NotNil(t, ext, "extension %s not found in %s", name, fd.Path())
	return ext
}
