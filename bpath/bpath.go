// Package bpath canonicalizes paths built by joining a process's cwd
// with a user-supplied (possibly relative, possibly containing "." or
// "..") path, the way fd.Cwd_t.Canonicalpath does.
package bpath

import "spikeos/ustr"

// Canonicalize resolves "." and ".." components of an absolute path
// purely lexically (no inode lookups), the same guarantee Go's
// path.Clean gives for "/"-rooted paths. p must be absolute; the caller
// (fd.Cwd_t.Fullpath) is responsible for prefixing a relative path with
// the cwd before calling this.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	toks := p.Tokenize()
	stack := make([]ustr.Ustr, 0, len(toks))
	for _, t := range toks {
		switch {
		case t.Isdot():
			continue
		case t.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, t)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	out := make(ustr.Ustr, 0, len(p))
	for _, t := range stack {
		out = append(out, '/')
		out = append(out, t...)
	}
	return out
}
