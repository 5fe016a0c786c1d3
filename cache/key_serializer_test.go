package cache

import (
	"context"
	"strings"
	"testing"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestDefaultKeySerializer_BasicTypes(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	id := int64(7)

	tests := []struct {
		name  string
		class string
		args  []any
		want  string
	}{
		{name: "no args", class: "record", args: []any{}, want: "record"},
		{name: "int64 id", class: "record", args: []any{int64(42)}, want: joinWithSeparator("record", "42")},
		{name: "int id", class: "record", args: []any{42}, want: joinWithSeparator("record", "42")},
		{name: "pointer is dereferenced", class: "record", args: []any{&id}, want: joinWithSeparator("record", "7")},
		{name: "nil pointer", class: "record", args: []any{(*int64)(nil)}, want: joinWithSeparator("record", "nil")},
		{name: "unsigned", class: "record", args: []any{uint32(9)}, want: joinWithSeparator("record", "9")},
		{name: "mixed", class: "page", args: []any{"owner", 0, 20}, want: joinWithSeparator("page", "owner", "0", "20")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeKey(tt.class, tt.args...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

type prefixSerializer struct{}

func (prefixSerializer) SerializeKey(class string, args ...any) string {
	return "svc:" + NewDefaultKeySerializer().SerializeKey(class, args...)
}

func TestRecordCache_KeySerializer(t *testing.T) {
	ctx := context.Background()

	backend := newMockBackend()
	rc := NewRecordCache(backend)
	rc.Set(ctx, sampleView())
	if _, ok := backend.data["record:42"]; !ok {
		t.Fatalf("default key not written, have %v", backend.data)
	}

	backend = newMockBackend()
	rc = NewRecordCache(backend, WithKeySerializer(prefixSerializer{}))
	rc.Set(ctx, sampleView())
	if _, ok := backend.data["svc:record:42"]; !ok {
		t.Fatalf("custom key not written, have %v", backend.data)
	}
	if _, outcome := rc.Get(ctx, 42); outcome != Hit {
		t.Errorf("Get() outcome = %v, want Hit", outcome)
	}
}
