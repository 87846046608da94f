package env

import (
	"reflect"
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("REGISTRY_TEST_STRING_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}

	t.Setenv("REGISTRY_TEST_STRING", "  value ")
	if got := String("REGISTRY_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}

	t.Setenv("REGISTRY_TEST_STRING_BLANK", "   ")
	if got := String("REGISTRY_TEST_STRING_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback for blank value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("REGISTRY_TEST_DURATION_UNSET", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}

	t.Setenv("REGISTRY_TEST_DURATION", "250ms")
	got, err = Duration("REGISTRY_TEST_DURATION", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}

	t.Setenv("REGISTRY_TEST_DURATION_INVALID", "soon")
	if _, err := Duration("REGISTRY_TEST_DURATION_INVALID", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("REGISTRY_TEST_BOOL", "false")
	got, err := Bool("REGISTRY_TEST_BOOL", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got {
		t.Fatalf("Bool()=true, want false")
	}

	t.Setenv("REGISTRY_TEST_BOOL_INVALID", "nope")
	if _, err := Bool("REGISTRY_TEST_BOOL_INVALID", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestIntegers(t *testing.T) {
	got, err := Int("REGISTRY_TEST_INT_UNSET", 500)
	if err != nil || got != 500 {
		t.Fatalf("Int()=%d err=%v, want 500", got, err)
	}

	t.Setenv("REGISTRY_TEST_INT64", "33554432")
	big, err := Int64("REGISTRY_TEST_INT64", 0)
	if err != nil || big != 33554432 {
		t.Fatalf("Int64()=%d err=%v, want 33554432", big, err)
	}

	t.Setenv("REGISTRY_TEST_INT_INVALID", "many")
	if _, err := Int("REGISTRY_TEST_INT_INVALID", 1); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestList(t *testing.T) {
	def := []string{"a"}
	if got := List("REGISTRY_TEST_LIST_UNSET", def); !reflect.DeepEqual(got, def) {
		t.Fatalf("List()=%v, want %v", got, def)
	}

	t.Setenv("REGISTRY_TEST_LIST", "react, ,lodash,")
	want := []string{"react", "lodash"}
	if got := List("REGISTRY_TEST_LIST", nil); !reflect.DeepEqual(got, want) {
		t.Fatalf("List()=%v, want %v", got, want)
	}
}
