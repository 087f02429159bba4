// Package monitoring turns a running simulation into a small HTTP server that
// reports the fault statistics, the page table, and the frames.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/tracing"
	"github.com/sarchlab/virtmem/vm"
)

// Monitor exposes the state of a simulation over HTTP.
type Monitor struct {
	engine     *paging.Engine
	table      *vm.PageTable
	counter    *tracing.FaultCounter
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the fault engine whose statistics are reported.
func (m *Monitor) RegisterEngine(e *paging.Engine) {
	m.engine = e
}

// RegisterPageTable registers the page table that is reported.
func (m *Monitor) RegisterPageTable(pt *vm.PageTable) {
	m.table = pt
}

// RegisterFaultCounter registers the counter behind /api/hotpages.
func (m *Monitor) RegisterFaultCounter(c *tracing.FaultCounter) {
	m.counter = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the router that serves the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.reportStats)
	r.HandleFunc("/api/pagetable", m.reportPageTable)
	r.HandleFunc("/api/pagetable/field/{path}", m.reportPageTableField)
	r.HandleFunc("/api/pagetable/{page:[0-9]+}", m.reportEntry)
	r.HandleFunc("/api/frames", m.reportFrames)
	r.HandleFunc("/api/hotpages", m.reportHotPages)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitoring: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panic(err)
		}
	}()

	return url, nil
}

// StopServer shuts the server down. It does nothing if the server was never
// started.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	err := m.server.Close()
	m.server = nil

	return err
}

type statsRsp struct {
	paging.Stats
	Traps     uint64 `json:"traps"`
	NumPages  int    `json:"num_pages"`
	NumFrames int    `json:"num_frames"`
}

func (m *Monitor) reportStats(w http.ResponseWriter, _ *http.Request) {
	if !m.engineRegisteredOr503(w) {
		return
	}

	rsp := statsRsp{Stats: m.engine.Stats()}
	if m.table != nil {
		rsp.Traps = m.table.NumTraps()
		rsp.NumPages = m.table.NumPages()
		rsp.NumFrames = m.table.NumFrames()
	}

	writeJSON(w, rsp)
}

type pageTableView struct {
	NumPages  int
	NumFrames int
	Resident  int
	Entries   []vm.Entry
}

func (m *Monitor) pageTableView() pageTableView {
	entries := m.table.Snapshot()

	view := pageTableView{
		NumPages:  m.table.NumPages(),
		NumFrames: m.table.NumFrames(),
		Entries:   entries,
	}

	for _, e := range entries {
		if e.Resident() {
			view.Resident++
		}
	}

	return view
}

func (m *Monitor) reportPageTable(w http.ResponseWriter, _ *http.Request) {
	if !m.tableRegisteredOr503(w) {
		return
	}

	view := m.pageTableView()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&view)
	serializer.SetMaxDepth(2)

	err := serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) reportPageTableField(w http.ResponseWriter, r *http.Request) {
	if !m.tableRegisteredOr503(w) {
		return
	}

	fields := strings.Split(mux.Vars(r)["path"], ".")

	view := m.pageTableView()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&view)
	serializer.SetMaxDepth(2)

	err := serializer.SetEntryPoint(fields)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) reportEntry(w http.ResponseWriter, r *http.Request) {
	if !m.tableRegisteredOr503(w) {
		return
	}

	entries := m.table.Snapshot()

	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil || page >= len(entries) {
		w.WriteHeader(http.StatusNotFound)
		_, err = w.Write([]byte("Page not found"))
		dieOnErr(err)

		return
	}

	writeJSON(w, entries[page])
}

func (m *Monitor) reportFrames(w http.ResponseWriter, _ *http.Request) {
	if !m.engineRegisteredOr503(w) || !m.tableRegisteredOr503(w) {
		return
	}

	writeJSON(w, m.engine.Frames(m.table))
}

func (m *Monitor) reportHotPages(w http.ResponseWriter, r *http.Request) {
	if m.counter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, err := w.Write([]byte("No fault counter registered"))
		dieOnErr(err)

		return
	}

	limit := 0
	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: %s", err)

			return
		}

		limit = n
	}

	writeJSON(w, m.counter.HotPages(limit))
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) engineRegisteredOr503(w http.ResponseWriter) bool {
	if m.engine != nil {
		return true
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_, err := w.Write([]byte("No engine registered"))
	dieOnErr(err)

	return false
}

func (m *Monitor) tableRegisteredOr503(w http.ResponseWriter) bool {
	if m.table != nil {
		return true
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_, err := w.Write([]byte("No page table registered"))
	dieOnErr(err)

	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
