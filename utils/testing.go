package utils

import (
	"errors"
	"fmt"
	"runtime"
	"testing"
)

// caller reports the test line that invoked the assertion.
func caller() string {
	pc, _, _, _ := runtime.Caller(2)
	file, line := runtime.FuncForPC(pc).FileLine(pc)
	return fmt.Sprintf("%s:%d", file, line)
}

func Assert(t *testing.T, predicate bool, msg string) {
	if !predicate {
		t.Errorf("%s in %s", msg, caller())
	}
}

func AssertEqual[T comparable](t *testing.T, a T, b T) {
	if a != b {
		t.Errorf("Expected %v == %v (%T) in %s", a, b, a, caller())
	}
}

func AssertNotEqual[T comparable](t *testing.T, a T, b T) {
	if a == b {
		t.Errorf("Expected %v != %v (%T) in %s", a, b, a, caller())
	}
}

// Assert that error is nil
func AssertNoError(t *testing.T, err error) {
	if err != nil {
		t.Errorf("Expected no error, got '%v' in %s", err, caller())
	}
}

// Assert that an error is not nil
func AssertError(t *testing.T, err error) {
	if err == nil {
		t.Errorf("Expected error, got nil in %s", caller())
	}
}

// Assert that err wraps target
func AssertErrorIs(t *testing.T, err error, target error) {
	if !errors.Is(err, target) {
		t.Errorf("Expected error wrapping '%v', got '%v' in %s", target, err, caller())
	}
}

func CompareArrays[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func AssertEqualArrays[T comparable](t *testing.T, a []T, b []T) {
	if !CompareArrays(a, b) {
		t.Errorf("Expected %v == %v (%T) in %s", a, b, a, caller())
	}
}
