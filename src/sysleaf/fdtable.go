// Package sysleaf implements the thin syscall-entry adapters of
// spec.md §6: translating VFS/VM/ext2/txpipe results into the
// negative-errno convention every syscall leaf returns, dispatched
// through intr's vector 0x80 callback. Fd_t/Copyfd are reused
// verbatim from biscuit/src/fd/fd.go; FdTable is new, generalizing
// the teacher's per-process fd array (never retrieved in this pack)
// into a map-based table sized on demand.
package sysleaf

import "sync"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/fd"

// FdTable maps small integer descriptors to open Fd_t backends, the
// per-process table a real kernel keeps in its proc struct.
type FdTable struct {
	sync.Mutex
	entries map[int]*fd.Fd_t
	next    int
}

// NewFdTable returns an empty table; descriptors start at 3, leaving
// 0/1/2 free for a future stdio convention the way classical Unix
// reserves them.
func NewFdTable() *FdTable {
	return &FdTable{entries: make(map[int]*fd.Fd_t), next: 3}
}

// Insert assigns the lowest free descriptor ≥ 3 to f and returns it.
func (t *FdTable) Insert(f *fd.Fd_t) int {
	t.Lock()
	defer t.Unlock()
	for {
		if _, used := t.entries[t.next]; !used {
			t.entries[t.next] = f
			n := t.next
			t.next++
			return n
		}
		t.next++
	}
}

// Get returns the descriptor's backend, or ok=false if it is not open.
func (t *FdTable) Get(n int) (*fd.Fd_t, bool) {
	t.Lock()
	defer t.Unlock()
	f, ok := t.entries[n]
	return f, ok
}

// Close removes n from the table and closes its backend.
func (t *FdTable) Close(n int) defs.Err_t {
	t.Lock()
	f, ok := t.entries[n]
	if !ok {
		t.Unlock()
		return -defs.EBADF
	}
	delete(t.entries, n)
	if n < t.next {
		t.next = n
	}
	t.Unlock()
	return f.Fops.Close()
}
