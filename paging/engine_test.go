package paging

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/virtmem/hooking"
	"github.com/sarchlab/virtmem/vm"
)

// memDevice keeps blocks in memory and counts transfers.
type memDevice struct {
	blocks [][]byte
	reads  []int
	writes []int
}

func newMemDevice(numBlocks int) *memDevice {
	d := &memDevice{blocks: make([][]byte, numBlocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, vm.PageSize)
	}

	return d
}

func (d *memDevice) ReadBlock(block int, data []byte) {
	d.reads = append(d.reads, block)
	copy(data, d.blocks[block])
}

func (d *memDevice) WriteBlock(block int, data []byte) {
	d.writes = append(d.writes, block)
	copy(d.blocks[block], data)
}

func (d *memDevice) NumBlocks() int {
	return len(d.blocks)
}

func buildTable(numPages, numFrames int, e *Engine) *vm.PageTable {
	pt, err := vm.MakeBuilder().
		WithNumPages(numPages).
		WithNumFrames(numFrames).
		WithFaultHandler(e).
		Build()
	Expect(err).NotTo(HaveOccurred())

	return pt
}

func touchRead(pt *vm.PageTable, page int) {
	pt.Virtual().Load(page * vm.PageSize)
}

func touchWrite(pt *vm.PageTable, page int) {
	pt.Virtual().Store(page*vm.PageSize, byte(page))
}

func residentPages(pt *vm.PageTable) map[int]int {
	pages := map[int]int{}
	for page, entry := range pt.Snapshot() {
		if entry.Resident() {
			pages[page] = entry.Frame
		}
	}

	return pages
}

var _ = Describe("Engine", func() {
	var (
		device *memDevice
		engine *Engine
		pt     *vm.PageTable
	)

	build := func(numPages, numFrames int, policy Policy) {
		device = newMemDevice(numPages)

		var err error
		engine, err = MakeBuilder().
			WithNumFrames(numFrames).
			WithPolicy(policy).
			WithBlockDevice(device).
			Build()
		Expect(err).NotTo(HaveOccurred())

		pt = buildTable(numPages, numFrames, engine)
	}

	AfterEach(func() {
		if pt != nil {
			pt.Destroy()
			pt = nil
		}
	})

	It("should evict page 0 first under FIFO when pages are only read", func() {
		build(4, 2, PolicyFIFO)

		touchRead(pt, 0)
		touchRead(pt, 1)
		touchRead(pt, 2)

		Expect(engine.Stats()).To(Equal(Stats{PageFaults: 3, DiskReads: 3, DiskWrites: 0}))
		Expect(residentPages(pt)).To(Equal(map[int]int{1: 1, 2: 0}))
		Expect(device.reads).To(Equal([]int{0, 1, 2}))
		Expect(device.writes).To(BeEmpty())
		Expect(engine.CheckConsistency(pt)).To(Succeed())
	})

	It("should write back page 0 under FIFO when pages are written", func() {
		build(4, 2, PolicyFIFO)

		touchWrite(pt, 0)
		touchWrite(pt, 1)
		touchWrite(pt, 2)

		Expect(engine.Stats()).To(Equal(Stats{PageFaults: 3, DiskReads: 3, DiskWrites: 1}))
		Expect(residentPages(pt)).To(Equal(map[int]int{1: 1, 2: 0}))
		Expect(device.writes).To(Equal([]int{0}))

		_, bits := pt.GetEntry(2)
		Expect(bits).To(Equal(vm.BitRead | vm.BitWrite))
	})

	It("should not count a write to a resident read-only page", func() {
		build(4, 2, PolicyFIFO)

		touchRead(pt, 0)
		Expect(engine.Stats().PageFaults).To(Equal(uint64(1)))

		touchWrite(pt, 0)
		Expect(engine.Stats().PageFaults).To(Equal(uint64(1)))
		Expect(pt.NumTraps()).To(Equal(uint64(2)))

		frame, bits := pt.GetEntry(0)
		Expect(frame).To(Equal(0))
		Expect(bits).To(Equal(vm.BitRead | vm.BitWrite))
	})

	It("should count a write to an unmapped page", func() {
		build(4, 2, PolicyFIFO)

		touchWrite(pt, 3)

		Expect(engine.Stats().PageFaults).To(Equal(uint64(1)))
		Expect(engine.Stats().DiskReads).To(Equal(uint64(1)))
	})

	It("should take free frames lowest first", func() {
		build(8, 4, PolicyFIFO)

		for _, page := range []int{5, 2, 7, 0} {
			touchRead(pt, page)
		}

		Expect(residentPages(pt)).To(Equal(map[int]int{5: 0, 2: 1, 7: 2, 0: 3}))
	})

	It("should evict frames in load order under FIFO", func() {
		build(8, 4, PolicyFIFO)

		for page := 0; page < 4; page++ {
			touchRead(pt, page)
		}

		frames := []int{}
		for page := 4; page < 8; page++ {
			touchRead(pt, page)
			frame, _ := pt.GetEntry(page)
			frames = append(frames, frame)
		}

		touchWrite(pt, 0)
		frame, _ := pt.GetEntry(0)
		frames = append(frames, frame)

		Expect(frames).To(Equal([]int{0, 1, 2, 3, 0}))
		Expect(engine.CheckConsistency(pt)).To(Succeed())
	})

	It("should restore written data after eviction", func() {
		build(4, 2, PolicyFIFO)
		vmem := pt.Virtual()
		pattern := []byte("the quick brown fox")

		for i, b := range pattern {
			vmem.Store(i, b)
		}

		touchRead(pt, 1)
		touchRead(pt, 2)
		_, bits := pt.GetEntry(0)
		Expect(bits).To(Equal(vm.Bits(0)))
		Expect(device.blocks[0][:len(pattern)]).To(Equal(pattern))

		got := make([]byte, len(pattern))
		for i := range got {
			got[i] = vmem.Load(i)
		}

		Expect(got).To(Equal(pattern))
	})

	It("should reload what the disk holds for a clean page", func() {
		build(4, 2, PolicyFIFO)
		stored := bytes.Repeat([]byte{0xab}, vm.PageSize)
		copy(device.blocks[3], stored)

		touchRead(pt, 3)
		touchRead(pt, 0)
		touchRead(pt, 1)
		Expect(residentPages(pt)).NotTo(HaveKey(3))

		Expect(pt.Virtual().Load(3*vm.PageSize + 17)).To(Equal(byte(0xab)))
		Expect(device.writes).To(BeEmpty())
	})

	It("should age frames every fifth fault", func() {
		build(10, 3, PolicyFIFO)

		for page := 0; page < 5; page++ {
			touchRead(pt, page)
		}

		ages := []int{}
		for _, f := range engine.Frames(pt) {
			ages = append(ages, f.Age)
		}
		Expect(ages).To(Equal([]int{-1, 0, -1}))

		touchWrite(pt, 3)
		frames := engine.Frames(pt)
		Expect(frames[0]).To(Equal(FrameState{Page: 3, Dirty: true, Age: 0}))
	})

	It("should never write back a clean victim under the custom policy", func() {
		build(16, 4, PolicyCustom)

		for i := 0; i < 200; i++ {
			touchRead(pt, (i*7)%16)
		}

		Expect(device.writes).To(BeEmpty())
		Expect(engine.Stats().DiskWrites).To(BeZero())
		Expect(engine.CheckConsistency(pt)).To(Succeed())
	})

	It("should evict the oldest clean frame under the custom policy", func() {
		build(16, 4, PolicyCustom)

		// Five faults age frames 0 to 3 once, then page 4 lands in frame 0.
		for page := 0; page < 5; page++ {
			touchRead(pt, page)
		}
		Expect(residentPages(pt)).To(Equal(map[int]int{4: 0, 1: 1, 2: 2, 3: 3}))

		touchRead(pt, 5)
		Expect(residentPages(pt)).To(HaveKeyWithValue(5, 1))
	})

	DescribeTable("should keep the page table and reverse map consistent",
		func(policy Policy) {
			build(32, 5, policy)
			vmem := pt.Virtual()

			for i := 0; i < 2000; i++ {
				off := (i * 7919) % vmem.Len()
				if i%3 == 0 {
					vmem.Store(off, byte(i))
				} else {
					vmem.Load(off)
				}
			}

			Expect(engine.CheckConsistency(pt)).To(Succeed())
			Expect(residentPages(pt)).To(HaveLen(5))

			stats := engine.Stats()
			Expect(stats.DiskReads).To(Equal(stats.PageFaults))
			Expect(stats.DiskWrites).To(BeNumerically("<=", stats.PageFaults))
		},
		Entry("random", PolicyRandom),
		Entry("fifo", PolicyFIFO),
		Entry("custom", PolicyCustom),
	)

	It("should detect an inconsistent table", func() {
		build(4, 2, PolicyFIFO)
		touchRead(pt, 0)

		pt.SetEntry(1, 0, vm.BitRead)

		Expect(engine.CheckConsistency(pt)).To(HaveOccurred())
	})

	It("should report fault events to hooks", func() {
		build(4, 2, PolicyFIFO)
		events := []FaultEvent{}
		positions := []*hooking.HookPos{}
		engine.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos)
			events = append(events, ctx.Item.(FaultEvent))
		}))

		touchWrite(pt, 0)
		touchRead(pt, 1)
		touchRead(pt, 2)

		touchRead(pt, 3)

		Expect(positions).To(Equal([]*hooking.HookPos{
			HookPosPageFault, HookPosWriteUpgrade, HookPosPageFault,
			HookPosEviction, HookPosWriteBack, HookPosPageFault,
			HookPosEviction, HookPosPageFault,
		}))
		Expect(events).To(Equal([]FaultEvent{
			{Seq: 1, Kind: FaultKindLoad, Page: 0, Frame: 0, Victim: FreeFrame},
			{Seq: 1, Kind: FaultKindWriteUpgrade, Page: 0, Frame: 0, Victim: FreeFrame},
			{Seq: 2, Kind: FaultKindLoad, Page: 1, Frame: 1, Victim: FreeFrame},
			{Seq: 3, Kind: FaultKindEviction, Page: 2, Frame: 0, Victim: 0},
			{Seq: 3, Kind: FaultKindWriteBack, Page: 2, Frame: 0, Victim: 0, WroteBack: true},
			{Seq: 3, Kind: FaultKindLoad, Page: 2, Frame: 0, Victim: 0, WroteBack: true},
			{Seq: 4, Kind: FaultKindEviction, Page: 3, Frame: 1, Victim: 1},
			{Seq: 4, Kind: FaultKindLoad, Page: 3, Frame: 1, Victim: 1},
		}))
	})

	It("should panic when served a table of another size", func() {
		build(4, 2, PolicyFIFO)
		pt.Destroy()

		pt = buildTable(4, 3, engine)

		Expect(func() { touchRead(pt, 0) }).To(Panic())
	})
})

var _ = Describe("Engine with mocks", func() {
	var (
		mockCtrl     *gomock.Controller
		device       *MockBlockDevice
		victimFinder *MockVictimFinder
		engine       *Engine
		pt           *vm.PageTable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		device = NewMockBlockDevice(mockCtrl)
		device.EXPECT().NumBlocks().Return(4).AnyTimes()
		victimFinder = NewMockVictimFinder(mockCtrl)

		var err error
		engine, err = MakeBuilder().
			WithNumFrames(2).
			WithBlockDevice(device).
			WithVictimFinder(victimFinder).
			Build()
		Expect(err).NotTo(HaveOccurred())

		pt = buildTable(4, 2, engine)
	})

	AfterEach(func() {
		pt.Destroy()
		mockCtrl.Finish()
	})

	It("should write back the dirty victim before loading", func() {
		gomock.InOrder(
			device.EXPECT().ReadBlock(0, gomock.Any()),
			device.EXPECT().ReadBlock(1, gomock.Any()),
			victimFinder.EXPECT().
				FindVictim(gomock.Any()).
				DoAndReturn(func(frames []FrameState) int {
					Expect(frames).To(Equal([]FrameState{
						{Page: 0, Dirty: false, Age: 0},
						{Page: 1, Dirty: true, Age: 0},
					}))
					return 1
				}),
			device.EXPECT().WriteBlock(1, gomock.Any()),
			device.EXPECT().ReadBlock(2, gomock.Any()),
		)

		touchRead(pt, 0)
		touchWrite(pt, 1)
		touchRead(pt, 2)

		Expect(residentPages(pt)).To(Equal(map[int]int{0: 0, 2: 1}))
	})

	It("should skip the write back for a clean victim", func() {
		gomock.InOrder(
			device.EXPECT().ReadBlock(0, gomock.Any()),
			device.EXPECT().ReadBlock(1, gomock.Any()),
			victimFinder.EXPECT().FindVictim(gomock.Any()).Return(0),
			device.EXPECT().ReadBlock(3, gomock.Any()),
		)

		touchRead(pt, 0)
		touchRead(pt, 1)
		touchRead(pt, 3)

		Expect(engine.Stats()).To(Equal(Stats{PageFaults: 3, DiskReads: 3}))
	})

	It("should panic on an illegal victim", func() {
		device.EXPECT().ReadBlock(gomock.Any(), gomock.Any()).Times(2)
		victimFinder.EXPECT().FindVictim(gomock.Any()).Return(2)

		touchRead(pt, 0)
		touchRead(pt, 1)

		Expect(func() { touchRead(pt, 2) }).To(Panic())
	})
})

var _ = Describe("Builder", func() {
	It("should require frames and a device", func() {
		_, err := MakeBuilder().WithBlockDevice(newMemDevice(1)).Build()
		Expect(err).To(HaveOccurred())

		_, err = MakeBuilder().WithNumFrames(1).Build()
		Expect(err).To(HaveOccurred())
	})

	It("should reject an unknown policy", func() {
		_, err := MakeBuilder().
			WithNumFrames(1).
			WithBlockDevice(newMemDevice(1)).
			WithPolicy(Policy(7)).
			Build()

		Expect(err).To(MatchError(ErrUnknownPolicy))
	})

	It("should start with every frame free", func() {
		e, err := MakeBuilder().
			WithNumFrames(3).
			WithBlockDevice(newMemDevice(1)).
			Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(e.reverseMap).To(Equal([]int{FreeFrame, FreeFrame, FreeFrame}))
		Expect(e.Stats()).To(Equal(Stats{}))
	})
})
