package handler_test

import (
	"context"
	"testing"

	"github.com/ludari/ludari/handler"
	"github.com/ludari/ludari/lens"
)

func noop(_ context.Context, _ map[string]any, _ *lens.Lens) (any, error) {
	return "ok", nil
}

func TestMethodSet_RegisterAndExecute(t *testing.T) {
	s := handler.NewMethodSet()

	if err := s.Register("send-report", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := s.ExecuteMethod(context.Background(), "send-report", nil, lens.New())
	if err != nil {
		t.Fatalf("ExecuteMethod: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %v, want ok", got)
	}
}

func TestMethodSet_RefusesReservedRegistration(t *testing.T) {
	s := handler.NewMethodSet()

	for _, name := range []string{"", "_private", "constructor", "executeMethod", "ExecuteMethod", "hasMethod", "select", "func"} {
		if err := s.Register(name, noop); err == nil {
			t.Errorf("Register(%q): expected refusal", name)
		}
	}
}

func TestMethodSet_RefusesReservedDispatch(t *testing.T) {
	s := handler.NewMethodSet()

	for _, name := range []string{"_hidden", "constructor", "getAvailableMethods"} {
		if _, err := s.ExecuteMethod(context.Background(), name, nil, lens.New()); err == nil {
			t.Errorf("ExecuteMethod(%q): expected refusal", name)
		}
		if s.HasMethod(name) {
			t.Errorf("HasMethod(%q) = true, want false", name)
		}
	}
}

func TestMethodSet_UnknownMethod(t *testing.T) {
	s := handler.NewMethodSet()

	if _, err := s.ExecuteMethod(context.Background(), "missing", nil, lens.New()); err == nil {
		t.Error("expected error for unregistered method")
	}
}

func TestMethodSet_AvailableMethods(t *testing.T) {
	s := handler.NewMethodSet()

	for _, name := range []string{"b-method", "a-method"} {
		if err := s.Register(name, noop); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	s.Unregister("b-method")
	if err := s.Register("c-method", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := s.AvailableMethods()
	want := []string{"a-method", "c-method"}
	if len(got) != len(want) {
		t.Fatalf("AvailableMethods = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AvailableMethods[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
