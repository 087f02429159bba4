package datarecording

import (
	"os"
	"strings"
	"time"
)

// RunTableName is the table that describes the run that produced a trace.
const RunTableName = "run_info"

// RunInfo is a row of the run table.
type RunInfo struct {
	Property string
	Value    string
}

// A RunRecorder records the properties of one simulator run.
type RunRecorder struct {
	recorder DataRecorder
	entries  []RunInfo
}

// NewRunRecorder creates the run table.
func NewRunRecorder(recorder DataRecorder) *RunRecorder {
	recorder.CreateTable(RunTableName, RunInfo{})

	return &RunRecorder{recorder: recorder}
}

// Start notes the start time, the command line, and the working directory.
func (r *RunRecorder) Start() {
	r.Set("Start Time", now())
	r.Set("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err == nil {
		r.Set("Working Directory", cwd)
	}
}

// Set adds a property of the run.
func (r *RunRecorder) Set(property, value string) {
	r.entries = append(r.entries, RunInfo{Property: property, Value: value})
}

// End writes the properties along with the end time.
func (r *RunRecorder) End() {
	for _, entry := range r.entries {
		r.recorder.InsertData(RunTableName, entry)
	}

	r.recorder.InsertData(RunTableName, RunInfo{"End Time", now()})
	r.entries = nil

	r.recorder.Flush()
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05.000000000")
}
