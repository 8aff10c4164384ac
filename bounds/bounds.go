// Package bounds names the loop sites in the kernel that iterate over a
// caller-controlled quantity (user buffer length, heap growth retries,
// directory entry scans) so res can cap them uniformly instead of each
// loop inventing its own retry limit.
package bounds

// Bound_t identifies one bounded loop site.
type Bound_t uint

const (
	B_USERBUF_T__TX Bound_t = iota
	B_KHEAP_GROW
	B_VFS_RESOLVE
	B_PAGEFAULT_RETRY
	B_PIPE_COPY
	_nbounds
)

// names gives each bound a label for panic/diagnostic messages.
var names = [_nbounds]string{
	B_USERBUF_T__TX:   "vm.userbuf_t._tx",
	B_KHEAP_GROW:      "kheap.grow",
	B_VFS_RESOLVE:     "vfs.resolve",
	B_PAGEFAULT_RETRY: "vm.pagefault",
	B_PIPE_COPY:       "pipe.copy",
}

// Bounds returns the descriptor for b, panicking on an unknown id so a
// typo at a call site is caught immediately rather than silently
// unbounded.
func Bounds(b Bound_t) Bound_t {
	if uint(b) >= uint(_nbounds) {
		panic("bounds: unknown bound id")
	}
	return b
}

// Name returns the diagnostic label for b.
func (b Bound_t) Name() string {
	return names[b]
}
