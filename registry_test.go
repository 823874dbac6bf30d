// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"testing"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	f := HandlerFunc(func(ctx context.Context, payload string) error { return nil })
	err := r.Register("reports.nightly", f)
	if err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if _, found := r.Resolve("reports.nightly"); !found {
		t.Fatal("expected to resolve registered handler")
	}
	if _, found := r.Resolve("reports.weekly"); found {
		t.Fatal("expected unknown handler id to not resolve")
	}
}

func TestRegistryRegisterDuplicateID(t *testing.T) {
	r := NewRegistry()
	f := HandlerFunc(func(ctx context.Context, payload string) error { return nil })
	err := r.Register("reports.nightly", f)
	if err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	err = r.Register("reports.nightly", f)
	if err == nil {
		t.Fatal("expected Register to fail on duplicate id")
	}
}

func TestRegistryRegisterInvalid(t *testing.T) {
	r := NewRegistry()
	f := HandlerFunc(func(ctx context.Context, payload string) error { return nil })
	if err := r.Register("", f); err == nil {
		t.Fatal("expected Register to fail on empty id")
	}
	if err := r.Register("reports.nightly", nil); err == nil {
		t.Fatal("expected Register to fail on nil handler")
	}
}

func TestRegistryHandlerIDs(t *testing.T) {
	r := NewRegistry()
	f := HandlerFunc(func(ctx context.Context, payload string) error { return nil })
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(id, f); err != nil {
			t.Fatalf("Register failed with %v", err)
		}
	}
	if want, have := 3, len(r.HandlerIDs()); want != have {
		t.Fatalf("len(HandlerIDs) = %d, want %d", have, want)
	}
}
