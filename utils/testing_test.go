package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestTesting_CompareArrays(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{1, 2, 3, 4, 5}
	Assert(t, CompareArrays(a, b), "Arrays are not equal")
}

func TestTesting_CompareArrays_Order(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{5, 4, 3, 2, 1}
	Assert(t, !CompareArrays(a, b), "Arrays are equal")
}

func TestTesting_CompareArrays_DifferentLengths(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := []int{1, 2, 3, 4}
	Assert(t, !CompareArrays(a, b), "Arrays are equal")
}

func TestTesting_AssertPanics(t *testing.T) {
	r := AssertPanics(t, func() { panic("boom") })
	AssertEqual(t, r, any("boom"))
}

func TestTesting_AssertErrorIs(t *testing.T) {
	base := errors.New("base")
	AssertErrorIs(t, fmt.Errorf("wrapped: %w", base), base)
}
