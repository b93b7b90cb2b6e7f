package registry

import (
	"errors"
	"reflect"
	"testing"
)

type greeter interface {
	Greet() string
}

type staticGreeter string

func (g staticGreeter) Greet() string { return string(g) }

func TestRegistryResolve(t *testing.T) {
	r := New[greeter]("greeter")
	if err := r.Register(" Slack ", staticGreeter("hi")); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Resolve("SLACK")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Greet() != "hi" {
		t.Fatalf("unexpected plugin: %q", got.Greet())
	}
}

func TestRegistryResolveMissing(t *testing.T) {
	r := New[greeter]("greeter")
	_, err := r.Resolve("teams")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	_, err = r.Resolve("  ")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered for empty name, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := New[greeter]("greeter")
	if err := r.Register("rest", staticGreeter("a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("REST", staticGreeter("b")); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := r.Register("discord", staticGreeter("c")); err != nil {
		t.Fatalf("register discord: %v", err)
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"discord", "rest"}) {
		t.Fatalf("unexpected names: %v", names)
	}
}
