package utils

import (
	"errors"
	"runtime"
	"testing"
)

func getParentInfo() (string, int) {
	parent, _, _, _ := runtime.Caller(2)
	info := runtime.FuncForPC(parent)
	file, line := info.FileLine(parent)
	return file, line
}

// Test helper
func Assert(t *testing.T, predicate bool, msg string) {
	if !predicate {
		file, line := getParentInfo()
		t.Errorf(msg+" in %s:%d", file, line)
	}
}

func AssertEqual[T comparable](t *testing.T, a T, b T) {
	if a != b {
		file, line := getParentInfo()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

// Assert that error is nil
func AssertNoError(t *testing.T, err error) {
	if err != nil {
		file, line := getParentInfo()
		t.Errorf("Expected no error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that err matches target under errors.Is
func AssertErrorIs(t *testing.T, err error, target error) {
	if !errors.Is(err, target) {
		file, line := getParentInfo()
		t.Errorf("Expected error '%v', got '%v' in %s:%d", target, err, file, line)
	}
}

// Assert that f panics. Returns the recovered value, or nil if f returned
// normally.
func AssertPanics(t *testing.T, f func()) (recovered any) {
	file, line := getParentInfo()
	defer func() {
		recovered = recover()
		if recovered == nil {
			t.Errorf("Expected panic in %s:%d", file, line)
		}
	}()
	f()
	return nil
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

// Utility functions for comparing arrays. Reports the first differing index.
func AssertEqualArrays[T comparable](t *testing.T, a []T, b []T) {
	if CompareArrays(a, b) {
		return
	}
	file, line := getParentInfo()
	if len(a) != len(b) {
		t.Errorf("Expected %v == %v (length %d != %d) in %s:%d", a, b, len(a), len(b), file, line)
		return
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Expected %v == %v (first difference at %d: %v != %v) in %s:%d", a, b, i, a[i], b[i], file, line)
			return
		}
	}
}
