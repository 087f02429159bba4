// Package tracing provides hooks that report what the simulator does while it
// runs.
package tracing

import (
	"log"

	"github.com/sarchlab/virtmem/hooking"
	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/vm"
)

// A LogHook is a hook that is responsible for writing simulation events to a
// log.
type LogHook interface {
	hooking.Hook
}

// LogHookBase provides the common logic for all LogHooks.
type LogHookBase struct {
	*log.Logger
}

// FaultLogHook prints one line per trap and per serviced fault.
type FaultLogHook struct {
	LogHookBase
}

// NewFaultLogHook creates a FaultLogHook that writes to logger.
func NewFaultLogHook(logger *log.Logger) *FaultLogHook {
	return &FaultLogHook{LogHookBase: LogHookBase{Logger: logger}}
}

// Func writes the event carried by ctx.
func (h *FaultLogHook) Func(ctx hooking.HookCtx) {
	switch item := ctx.Item.(type) {
	case vm.Trap:
		access := "read"
		if item.Write {
			access = "write"
		}

		h.Printf("trap #%d: %s of page %d at %#x", ctx.Seq, access, item.Page, item.Addr)
	case paging.FaultEvent:
		h.logFault(ctx.Pos, item)
	}
}

func (h *FaultLogHook) logFault(pos *hooking.HookPos, e paging.FaultEvent) {
	switch {
	case pos == paging.HookPosWriteUpgrade:
		h.Printf("fault #%d: page %d in frame %d is now writable", e.Seq, e.Page, e.Frame)
	case pos == paging.HookPosEviction:
		h.Printf("fault #%d: evicting page %d from frame %d for page %d",
			e.Seq, e.Victim, e.Frame, e.Page)
	case pos == paging.HookPosWriteBack:
		h.Printf("fault #%d: writing page %d back from frame %d", e.Seq, e.Victim, e.Frame)
	case e.Victim == paging.FreeFrame:
		h.Printf("fault #%d: page %d loaded into free frame %d", e.Seq, e.Page, e.Frame)
	case e.WroteBack:
		h.Printf("fault #%d: page %d loaded into frame %d, dirty page %d written back",
			e.Seq, e.Page, e.Frame, e.Victim)
	default:
		h.Printf("fault #%d: page %d loaded into frame %d, clean page %d dropped",
			e.Seq, e.Page, e.Frame, e.Victim)
	}
}
