// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"reflect"
	"testing"
)

func TestStoreInsertionOrder(t *testing.T) {
	s := newStore[string, int]()
	s.set("b", 1)
	s.set("a", 2)
	s.set("c", 3)
	s.set("a", 4) // overwrite keeps position

	if got := s.values(); !reflect.DeepEqual(got, []int{1, 4, 3}) {
		t.Fatalf("values = %v, want insertion order with a overwritten in place", got)
	}
	if s.len() != 3 {
		t.Fatalf("len = %d", s.len())
	}
}

func TestStoreRemove(t *testing.T) {
	s := newStore[string, int]()
	s.set("a", 1)
	s.set("b", 2)

	value, ok := s.remove("a")
	if !ok || value != 1 {
		t.Fatalf("remove returned (%d, %v)", value, ok)
	}
	if _, ok := s.get("a"); ok {
		t.Fatal("removed key still present")
	}
	if got := s.values(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("values = %v", got)
	}
	if _, ok := s.remove("a"); ok {
		t.Fatal("second remove succeeded")
	}
}
