package trap

import "sync"

// Vec is an allocatable IRQ vector number: the registry collaborators
// like the ATA block device claim one from, since IRQ lines are a
// shared resource without every device's number pinned in advance.
type Vec uint

var vecsMu sync.Mutex
var vecsAvail = map[Vec]bool{
	VecIRQBase + 8: true, VecIRQBase + 9: true, VecIRQBase + 10: true,
	VecIRQBase + 11: true, VecIRQBase + 12: true, VecIRQBase + 13: true,
	VecIRQBase + 14: true, VecIRQBase + 15: true,
}

// AllocVec claims an available IRQ vector for a device collaborator.
func AllocVec() Vec {
	vecsMu.Lock()
	defer vecsMu.Unlock()
	for v := range vecsAvail {
		delete(vecsAvail, v)
		return v
	}
	panic("no free IRQ vectors")
}

// FreeVec releases a vector claimed by AllocVec.
func FreeVec(v Vec) {
	vecsMu.Lock()
	defer vecsMu.Unlock()
	if vecsAvail[v] {
		panic("double free of IRQ vector")
	}
	vecsAvail[v] = true
}
