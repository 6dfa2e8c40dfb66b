package worker

import (
	"testing"

	"github.com/oriys/workerproc/internal/codec"
)

func TestRegistryLookupRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("Calculator", func(args []byte, c codec.Codec) (any, error) {
		return &struct{}{}, nil
	})

	ctor, err := r.lookup("Calculator")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ctor == nil {
		t.Fatal("expected non-nil constructor")
	}
}

func TestRegistryLookupUnregistered(t *testing.T) {
	r := NewRegistry()
	if _, err := r.lookup("Missing"); err == nil {
		t.Fatal("expected error for unregistered class")
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register("X", func(args []byte, c codec.Codec) (any, error) { return 1, nil })
	r.Register("X", func(args []byte, c codec.Codec) (any, error) { return 2, nil })

	ctor, err := r.lookup("X")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	v, err := ctor(nil, codec.For(codec.ModePortable))
	if err != nil {
		t.Fatalf("ctor: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected overwritten constructor to win, got %v", v)
	}
}
