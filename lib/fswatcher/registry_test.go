// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/sync"
)

func TestRegistryBidirectional(t *testing.T) {
	fb := newFakeBackend(true)
	r := newWatchRegistry(fb)

	ida, err := r.add("/a", backend.MaskAll)
	if err != nil {
		t.Fatal(err)
	}
	idb, err := r.add("/b", backend.MaskCreate)
	if err != nil {
		t.Fatal(err)
	}
	if ida == idb {
		t.Fatal("Distinct paths share a watch ID")
	}

	if path, ok := r.resolve(ida); !ok || path != "/a" {
		t.Errorf("resolve(%d) = %q, %v", ida, path, ok)
	}
	if path, ok := r.resolve(idb); !ok || path != "/b" {
		t.Errorf("resolve(%d) = %q, %v", idb, path, ok)
	}
	if diff, equal := messagediff.PrettyDiff([]string{"/a", "/b"}, r.paths()); !equal {
		t.Errorf("Unexpected paths:\n%s", diff)
	}

	// Re-adding replaces the mask and keeps the ID.
	again, err := r.add("/b", backend.MaskAll)
	if err != nil {
		t.Fatal(err)
	}
	if again != idb {
		t.Errorf("Re-add changed the ID from %d to %d", idb, again)
	}
	if fb.mask("/b") != backend.MaskAll {
		t.Errorf("Mask not replaced, got %#x", fb.mask("/b"))
	}

	if err := r.remove("/a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.resolve(ida); ok {
		t.Error("Removed watch still resolves")
	}
	if path, ok := r.resolve(idb); !ok || path != "/b" {
		t.Error("Removing /a disturbed /b")
	}
}

func TestRegistryRemoveUnknown(t *testing.T) {
	r := newWatchRegistry(newFakeBackend(true))

	if err := r.remove("/never"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Expected ErrUnknownWatch, got %v", err)
	}

	if _, err := r.add("/a", backend.MaskAll); err != nil {
		t.Fatal(err)
	}
	if err := r.remove("/a"); err != nil {
		t.Fatal(err)
	}
	if err := r.remove("/a"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Second remove: expected ErrUnknownWatch, got %v", err)
	}
}

func TestRegistryRemoveFailureKeepsState(t *testing.T) {
	fb := newFakeBackend(true)
	r := newWatchRegistry(fb)
	id, err := r.add("/a", backend.MaskAll)
	if err != nil {
		t.Fatal(err)
	}

	fb.removeErr = syscall.EINVAL
	err = r.remove("/a")
	if !errors.Is(err, ErrWatchRemovalFailed) {
		t.Fatalf("Expected ErrWatchRemovalFailed, got %v", err)
	}
	if !errors.Is(err, syscall.EINVAL) {
		t.Error("Cause not preserved:", err)
	}
	if path, ok := r.resolve(id); !ok || path != "/a" {
		t.Error("Failed removal changed the registry")
	}
}

func TestRegistryAddErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing")

	cases := []struct {
		path  string
		errno syscall.Errno
		want  error
	}{
		{missing, syscall.ENOENT, ErrNoSuchDirectory},
		{missing, syscall.EACCES, ErrAccessDenied},
		{missing, syscall.EPERM, ErrAccessDenied},
		{file, syscall.ENOTDIR, ErrInvalidTarget},
		// A file as parent component: the path does not exist at all.
		{filepath.Join(file, "sub"), syscall.ENOTDIR, ErrNoSuchDirectory},
		{missing, syscall.EINVAL, ErrWatchRegistrationFailed},
		{missing, syscall.ENOSPC, ErrWatchRegistrationFailed},
	}
	for _, tc := range cases {
		fb := newFakeBackend(true)
		fb.addErr[tc.path] = &os.PathError{Op: "inotify_add_watch", Path: tc.path, Err: tc.errno}
		r := newWatchRegistry(fb)

		_, err := r.add(tc.path, backend.MaskAll)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s, %v: got %v, want %v", tc.path, tc.errno, err, tc.want)
		}
		if !errors.Is(err, tc.errno) {
			t.Errorf("%s, %v: errno not preserved in %v", tc.path, tc.errno, err)
		}
		if len(r.paths()) != 0 {
			t.Errorf("%s, %v: failed add left an entry", tc.path, tc.errno)
		}
	}
}

func TestRegistryRejectsAlias(t *testing.T) {
	fb := newFakeBackend(true)
	fb.aliases["/link"] = "/real"
	r := newWatchRegistry(fb)

	if _, err := r.add("/real", backend.MaskCreate); err != nil {
		t.Fatal(err)
	}
	if _, err := r.add("/link", backend.MaskAll); !errors.Is(err, ErrWatchRegistrationFailed) {
		t.Fatalf("Expected alias to be rejected, got %v", err)
	}
	if fb.mask("/real") != backend.MaskCreate {
		t.Errorf("Mask of the original watch is %#x, want it restored", fb.mask("/real"))
	}
	if diff, equal := messagediff.PrettyDiff([]string{"/real"}, r.paths()); !equal {
		t.Errorf("Unexpected paths:\n%s", diff)
	}
}

func TestRegistryForget(t *testing.T) {
	r := newWatchRegistry(newFakeBackend(true))
	id, err := r.add("/a", backend.MaskAll)
	if err != nil {
		t.Fatal(err)
	}
	if path, ok := r.forget(id); !ok || path != "/a" {
		t.Fatalf("forget = %q, %v", path, ok)
	}
	if _, ok := r.forget(id); ok {
		t.Error("Forgot the same watch twice")
	}
	if err := r.remove("/a"); !errors.Is(err, ErrUnknownWatch) {
		t.Errorf("Forgotten watch can still be removed: %v", err)
	}
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := newWatchRegistry(newFakeBackend(true))
	stable, err := r.add("/stable", backend.MaskAll)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const rounds = 200
	wg := sync.NewWaitGroup()
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			path := fmt.Sprintf("/w%d", w)
			for i := 0; i < rounds; i++ {
				id, err := r.add(path, backend.MaskAll)
				if err != nil {
					errs <- err
					return
				}
				if got, ok := r.resolve(id); !ok || got != path {
					errs <- fmt.Errorf("watch %d resolved to %q, want %q", id, got, path)
					return
				}
				if got, ok := r.resolve(stable); !ok || got != "/stable" {
					errs <- fmt.Errorf("stable watch resolved to %q", got)
					return
				}
				if err := r.remove(path); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if diff, equal := messagediff.PrettyDiff([]string{"/stable"}, r.paths()); !equal {
		t.Errorf("Unexpected paths:\n%s", diff)
	}
}
