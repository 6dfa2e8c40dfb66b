package codec

import (
	"errors"
	"testing"

	"github.com/oriys/workerproc/internal/rpcerr"
)

func TestPortableRoundTrip(t *testing.T) {
	c := For(ModePortable)
	type payload struct {
		Name   string
		Values []int
		Nested *payload
	}
	in := payload{Name: "calc", Values: []int{1, 2, 3}}
	data, err := c.Encode(in, "args[0]")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out payload
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Name != in.Name || len(out.Values) != len(in.Values) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestPortableRejectsFunc(t *testing.T) {
	c := For(ModePortable)
	_, err := c.Encode(struct{ F func() }{F: func() {}}, "args[0]")
	var serErr *rpcerr.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("got %v, want *rpcerr.SerializationError", err)
	}
}

func TestPortableRejectsChannel(t *testing.T) {
	c := For(ModePortable)
	_, err := c.Encode(struct{ C chan int }{C: make(chan int)}, "args[0]")
	var serErr *rpcerr.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("got %v, want *rpcerr.SerializationError", err)
	}
}

func TestPortableRejectsCycle(t *testing.T) {
	type node struct {
		Next *node
	}
	a := &node{}
	a.Next = a

	c := For(ModePortable)
	_, err := c.Encode(a, "args[0]")
	var serErr *rpcerr.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("got %v, want *rpcerr.SerializationError", err)
	}
}

func TestPortableSkipsHiddenFields(t *testing.T) {
	type target struct {
		Public string
		secret chan int `rpc:"-"`
	}
	c := For(ModePortable)
	_, err := c.Encode(target{Public: "ok"}, "args[0]")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModePortable, "portable": ModePortable, "rich": ModeRich}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
