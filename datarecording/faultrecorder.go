package datarecording

import (
	"github.com/sarchlab/virtmem/hooking"
	"github.com/sarchlab/virtmem/paging"
)

// FaultTableName is the table that holds one row per serviced fault.
const FaultTableName = "page_fault"

// FaultEntry is a row of the fault table.
type FaultEntry struct {
	Seq       uint64
	Kind      string
	Page      int
	Frame     int
	Victim    int
	WroteBack bool
}

// A FaultRecorder is a hook that records the fault events of a paging.Engine.
type FaultRecorder struct {
	recorder DataRecorder
}

// NewFaultRecorder creates the fault table and returns the hook that fills it.
func NewFaultRecorder(recorder DataRecorder) *FaultRecorder {
	recorder.CreateTable(FaultTableName, FaultEntry{})

	return &FaultRecorder{recorder: recorder}
}

// Func records the event carried by ctx.
func (r *FaultRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != paging.HookPosPageFault && ctx.Pos != paging.HookPosWriteUpgrade {
		return
	}

	event, ok := ctx.Item.(paging.FaultEvent)
	if !ok {
		return
	}

	r.recorder.InsertData(FaultTableName, FaultEntry{
		Seq:       event.Seq,
		Kind:      string(event.Kind),
		Page:      event.Page,
		Frame:     event.Frame,
		Victim:    event.Victim,
		WroteBack: event.WroteBack,
	})
}
