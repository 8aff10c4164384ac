// Package gpustub is the stand-in collaborator behind the gpu_init/
// gpu_flip syscalls: a VirtIO-GPU driver is out of scope, so every call
// here reports -ENOSYS, letting the dispatch table stay fully wired
// without claiming any GPU correctness.
package gpustub

import "spikeos/defs"

// Init always fails: there is no GPU device to bring up.
func Init() defs.Err_t { return -defs.ENOSYS }

// Flip always fails: there is no framebuffer to present.
func Flip() defs.Err_t { return -defs.ENOSYS }
