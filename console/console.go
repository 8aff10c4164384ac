// Package console is the minimal stdio Fdops_i a newly created user
// process's fds 0/1/2 are wired to. The real PS/2 keyboard and VGA/
// framebuffer text console are out of scope; this stands in for
// "terminal" abstractly the way the console collaborator described in
// spec.md's external-interface glossary does, writing to an io.Writer
// (os.Stdout in production, a buffer in tests) and reporting EOF on
// every read since there is no keyboard driver behind it.
package console

import (
	"io"

	"spikeos/defs"
	"spikeos/fdops"
)

// Console_t is the stdio device shared by fds 0 (stdin), 1 (stdout),
// and 2 (stderr); all three read/write through the same underlying
// writer, matching "the core treats fd=1 as console abstractly".
type Console_t struct {
	Out io.Writer
}

// Out is the process-wide console output sink; CreateUserProcess wires
// every new process's stdio fds to the same instance. Tests may swap
// Out for their own io.Writer before spawning a process.
var Out io.Writer

// Mk returns a Console_t writing to Out, or a discarding sink if Out
// has not been configured.
func Mk() *Console_t {
	return &Console_t{Out: Out}
}

func (c *Console_t) Close() defs.Err_t { return 0 }

func (c *Console_t) Read(fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }

func (c *Console_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	if c.Out != nil {
		c.Out.Write(buf[:n])
	}
	return n, 0
}

func (c *Console_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

// Fstat reports the console as a character device, rdev major 1 minor 0,
// matching the node fd=1 is wired to regardless of which Out it writes.
func (c *Console_t) Fstat(st fdops.StatAccessor) defs.Err_t {
	st.Wmode(0020000) // S_IFCHR
	st.Wrdev(defs.Mkdev(defs.D_CONSOLE, 0))
	return 0
}

func (c *Console_t) Truncate(uint) defs.Err_t { return -defs.EINVAL }
func (c *Console_t) Reopen() defs.Err_t                      { return 0 }
func (c *Console_t) Pathi() fdops.Inoder                     { return nil }
func (c *Console_t) Pollone(events fdops.Ready_t) (fdops.Ready_t, defs.Err_t) {
	return events & (fdops.R_READ | fdops.R_WRITE), 0
}
