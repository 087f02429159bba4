package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/virtmem/disk"
	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/tracing"
	"github.com/sarchlab/virtmem/vm"
)

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		d       *disk.Disk
		engine  *paging.Engine
		pt      *vm.PageTable
		counter *tracing.FaultCounter
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		m.Handler().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		var err error

		d, err = disk.Open(filepath.Join(GinkgoT().TempDir(), "monitor.disk"), 4)
		Expect(err).NotTo(HaveOccurred())

		engine, err = paging.MakeBuilder().
			WithNumFrames(2).
			WithPolicy(paging.PolicyFIFO).
			WithBlockDevice(d).
			Build()
		Expect(err).NotTo(HaveOccurred())

		pt, err = vm.MakeBuilder().
			WithNumPages(4).
			WithNumFrames(2).
			WithFaultHandler(engine).
			Build()
		Expect(err).NotTo(HaveOccurred())

		counter = tracing.NewFaultCounter()
		engine.AcceptHook(counter)

		m = NewMonitor()
		m.RegisterEngine(engine)
		m.RegisterPageTable(pt)
		m.RegisterFaultCounter(counter)
	})

	AfterEach(func() {
		pt.Destroy()
		Expect(d.Close()).To(Succeed())
	})

	It("should refuse low port numbers", func() {
		m.WithPortNumber(80)

		Expect(m.portNumber).To(Equal(0))
	})

	It("should report statistics", func() {
		pt.Virtual().Load(0)
		pt.Virtual().Store(vm.PageSize, 1)

		rec := get("/api/stats")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp["page_faults"]).To(BeNumerically("==", 2))
		Expect(rsp["disk_reads"]).To(BeNumerically("==", 2))
		Expect(rsp["disk_writes"]).To(BeNumerically("==", 0))
		Expect(rsp["traps"]).To(BeNumerically("==", 3))
		Expect(rsp["num_pages"]).To(BeNumerically("==", 4))
		Expect(rsp["num_frames"]).To(BeNumerically("==", 2))
	})

	It("should report a single entry", func() {
		pt.Virtual().Store(2*vm.PageSize, 1)

		rec := get("/api/pagetable/2")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var entry vm.Entry
		Expect(json.Unmarshal(rec.Body.Bytes(), &entry)).To(Succeed())
		Expect(entry.Frame).To(Equal(0))
		Expect(entry.Bits).To(Equal(vm.BitRead | vm.BitWrite))
	})

	It("should return 404 for pages outside the table", func() {
		rec := get("/api/pagetable/9")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should serialize the page table", func() {
		rec := get("/api/pagetable")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Entries"))
	})

	It("should report frames", func() {
		pt.Virtual().Store(3*vm.PageSize, 1)

		rec := get("/api/frames")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var frames []paging.FrameState
		Expect(json.Unmarshal(rec.Body.Bytes(), &frames)).To(Succeed())
		Expect(frames).To(Equal([]paging.FrameState{
			{Page: 3, Dirty: true, Age: 0},
			{Page: paging.FreeFrame, Age: 0},
		}))
	})

	It("should rank hot pages", func() {
		for _, page := range []int{0, 1, 2, 0} {
			pt.Virtual().Load(page * vm.PageSize)
		}

		rec := get("/api/hotpages?limit=1")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var pages []tracing.PageCount
		Expect(json.Unmarshal(rec.Body.Bytes(), &pages)).To(Succeed())
		Expect(pages).To(Equal([]tracing.PageCount{{Page: 0, Faults: 2}}))
	})

	It("should reject a bad hot page limit", func() {
		rec := get("/api/hotpages?limit=x")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should answer 503 without a page table", func() {
		m.RegisterPageTable(nil)

		rec := get("/api/frames")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("scan", 10)
		bar.IncrementFinished(4)
		done := m.CreateProgressBar("sort", 1)
		done.IncrementFinished(1)
		m.CompleteProgressBar(done)

		rec := get("/api/progress")

		var bars []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["name"]).To(Equal("scan"))
		Expect(bars[0]["total"]).To(BeNumerically("==", 10))
		Expect(bars[0]["finished"]).To(BeNumerically("==", 4))
		Expect(bar.Done()).To(BeFalse())
		Expect(done.Done()).To(BeTrue())
	})

	It("should report process resources", func() {
		rec := get("/api/resource")

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve on a random port", func() {
		url, err := m.StartServer()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(m.StopServer)

		rsp, err := http.Get(url + "/api/stats")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
	})
})
