package workload_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/virtmem/workload"
)

const focusTouches = 100 * 100

type sliceMemory []byte

func (m sliceMemory) Len() int              { return len(m) }
func (m sliceMemory) Load(off int) byte     { return m[off] }
func (m sliceMemory) Store(off int, v byte) { m[off] = v }

type countingProgress struct {
	finished uint64
}

func (p *countingProgress) IncrementFinished(amount uint64) {
	p.finished += amount
}

var _ = Describe("Programs", func() {
	It("should sum the ramp written by scan", func() {
		mem := make(sliceMemory, 4096)

		total := workload.Run(workload.Scan, mem, nil)

		Expect(total).To(Equal(5222400))
		Expect(mem[300]).To(Equal(byte(300 % 256)))
	})

	It("should leave the range sorted as signed bytes", func() {
		mem := make(sliceMemory, 8192)

		total := workload.Run(workload.Sort, mem, nil)

		sum := 0
		for i := range mem {
			sum += int(int8(mem[i]))
			if i > 0 {
				Expect(int8(mem[i-1])).To(BeNumerically("<=", int8(mem[i])))
			}
		}
		Expect(total).To(Equal(sum))
		Expect(int8(mem[0])).To(BeNumerically("<", 0))
	})

	It("should be deterministic", func() {
		for _, p := range []workload.Program{workload.Sort, workload.Scan, workload.Focus} {
			a := workload.Run(p, make(sliceMemory, 5000), nil)
			b := workload.Run(p, make(sliceMemory, 5000), nil)
			Expect(a).To(Equal(b), p.String())
		}
	})

	It("should touch only a few bytes in focus", func() {
		mem := make(sliceMemory, 1<<16)
		for i := range mem {
			mem[i] = 0xff
		}

		workload.Run(workload.Focus, mem, nil)

		nonZero := 0
		for _, b := range mem {
			if b != 0 {
				nonZero++
			}
		}
		Expect(nonZero).To(BeNumerically("<=", focusTouches))
		Expect(nonZero).To(BeNumerically(">", 0))
	})

	DescribeTable("should report the announced amount of progress",
		func(p workload.Program) {
			progress := &countingProgress{}

			workload.Run(p, make(sliceMemory, 3000), progress)

			Expect(progress.finished).To(Equal(workload.Steps(p, 3000)))
		},
		Entry("sort", workload.Sort),
		Entry("scan", workload.Scan),
		Entry("focus", workload.Focus),
	)
})

var _ = Describe("ParseProgram", func() {
	It("should parse known names", func() {
		for _, p := range []workload.Program{workload.Sort, workload.Scan, workload.Focus} {
			parsed, err := workload.ParseProgram(p.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(p))
		}
	})

	It("should reject unknown names", func() {
		_, err := workload.ParseProgram("shuffle")
		Expect(err).To(MatchError(workload.ErrUnknownProgram))
	})
})
