package simulation

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/virtmem/datarecording"
	"github.com/sarchlab/virtmem/disk"
	"github.com/sarchlab/virtmem/monitoring"
	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/tracing"
	"github.com/sarchlab/virtmem/vm"
)

// Builder can be used to build a simulation.
type Builder struct {
	numPages    int
	numFrames   int
	policy      paging.Policy
	seed        int64
	diskDir     string
	traceDB     string
	monitorOn   bool
	monitorPort int
	openBrowser bool
	logger      *log.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		policy:  paging.PolicyFIFO,
		diskDir: ".",
	}
}

// WithNumPages sets the number of virtual pages.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPolicy sets the replacement policy.
func (b Builder) WithPolicy(p paging.Policy) Builder {
	b.policy = p
	return b
}

// WithSeed sets the seed of the random replacement policy.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithDiskDir sets the directory that holds the backing file.
func (b Builder) WithDiskDir(dir string) Builder {
	b.diskDir = dir
	return b
}

// WithTraceDB records every fault into the given SQLite database. The
// ".sqlite3" extension is added if missing.
func (b Builder) WithTraceDB(path string) Builder {
	b.traceDB = path
	return b
}

// WithMonitor turns on the HTTP monitor.
func (b Builder) WithMonitor() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithOpenBrowser opens the monitor in a browser once it is serving.
func (b Builder) WithOpenBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithLogger prints every trap and fault to logger.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

func (b Builder) parametersMustBeValid() error {
	if b.numPages <= 0 {
		return fmt.Errorf("simulation: number of pages must be positive, got %d", b.numPages)
	}

	if b.numFrames <= 0 {
		return fmt.Errorf("simulation: number of frames must be positive, got %d", b.numFrames)
	}

	if b.policy < paging.PolicyRandom || b.policy > paging.PolicyCustom {
		return fmt.Errorf("simulation: %w: %s", paging.ErrUnknownPolicy, b.policy)
	}

	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		return errors.New("simulation: monitor options require the monitor")
	}

	if b.traceDB != "" {
		_, err := os.Stat(b.traceFilename())
		if err == nil {
			return fmt.Errorf("simulation: trace database %s already exists", b.traceFilename())
		}
	}

	return nil
}

func (b Builder) traceFilename() string {
	return strings.TrimSuffix(b.traceDB, ".sqlite3") + ".sqlite3"
}

// Build creates the backing file, the fault engine, and the page table. No
// file is created when the configuration is invalid.
func (b Builder) Build() (*Simulation, error) {
	err := b.parametersMustBeValid()
	if err != nil {
		return nil, err
	}

	s := &Simulation{id: xid.New().String()}

	s.disk, err = disk.Open(
		filepath.Join(b.diskDir, "virtmem_"+s.id+".disk"), b.numPages)
	if err != nil {
		return nil, err
	}

	s.engine, err = paging.MakeBuilder().
		WithNumFrames(b.numFrames).
		WithPolicy(b.policy).
		WithSeed(b.seed).
		WithBlockDevice(s.disk).
		Build()
	if err != nil {
		return nil, errors.Join(err, s.disk.Close())
	}

	s.table, err = vm.MakeBuilder().
		WithNumPages(b.numPages).
		WithNumFrames(b.numFrames).
		WithFaultHandler(s.engine).
		Build()
	if err != nil {
		return nil, errors.Join(err, s.disk.Close())
	}

	s.counter = tracing.NewFaultCounter()
	s.engine.AcceptHook(s.counter)

	b.attachLogger(s)
	b.attachRecorder(s)

	err = b.attachMonitor(s)
	if err != nil {
		s.Terminate()
		return nil, err
	}

	atexit.Register(s.Terminate)

	return s, nil
}

func (b Builder) attachLogger(s *Simulation) {
	if b.logger == nil {
		return
	}

	hook := tracing.NewFaultLogHook(b.logger)
	s.table.AcceptHook(hook)
	s.engine.AcceptHook(hook)
}

func (b Builder) attachRecorder(s *Simulation) {
	if b.traceDB == "" {
		return
	}

	s.dataRecorder = datarecording.New(strings.TrimSuffix(b.traceFilename(), ".sqlite3"))
	s.engine.AcceptHook(datarecording.NewFaultRecorder(s.dataRecorder))

	s.runRecorder = datarecording.NewRunRecorder(s.dataRecorder)
	s.runRecorder.Start()
	s.runRecorder.Set("Run ID", s.id)
	s.runRecorder.Set("Pages", fmt.Sprint(b.numPages))
	s.runRecorder.Set("Frames", fmt.Sprint(b.numFrames))
	s.runRecorder.Set("Policy", b.policy.String())
	s.runRecorder.Set("Seed", fmt.Sprint(b.seed))
}

func (b Builder) attachMonitor(s *Simulation) error {
	if !b.monitorOn {
		return nil
	}

	s.monitor = monitoring.NewMonitor().WithPortNumber(b.monitorPort)
	s.monitor.RegisterEngine(s.engine)
	s.monitor.RegisterPageTable(s.table)
	s.monitor.RegisterFaultCounter(s.counter)

	url, err := s.monitor.StartServer()
	if err != nil {
		return err
	}

	if b.openBrowser {
		err = browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return nil
}
