// Package monitoring serves the state of a memory manager over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/monitoring/web"
	"github.com/sarchlab/vmsim/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a memory manager into a server that reports processes, page
// tables, frame usage and operation counts.
type Monitor struct {
	mmu             *mmu.Comp
	opCounter       *tracing.OpCountTracer
	portNumber      int
	profileDuration time.Duration
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		opCounter:       tracing.NewOpCountTracer(),
		profileDuration: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterMMU registers the memory manager to be monitored. The monitor
// starts counting its operations from this point on.
func (m *Monitor) RegisterMMU(c *mmu.Comp) {
	m.mmu = c
	tracing.CollectTrace(c, m.opCounter)
}

// Router returns the handler that serves the monitoring API and the
// dashboard.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	fServer := http.FileServer(web.Assets())
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/page_table/{pid}", m.listPageTable)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/fault", m.showFault).Methods(http.MethodGet)
	r.HandleFunc("/api/fault", m.clearFault).Methods(http.MethodDelete)
	r.HandleFunc("/api/ops", m.listOps)
	r.HandleFunc("/api/state", m.showState)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(fServer)

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring %s with %s\n", m.mmu.Name(), url)

	go func() {
		err := http.Serve(listener, m.Router())
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.mmu.Processes())
}

func (m *Monitor) listPageTable(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	pages, err := m.mmu.DumpPageTable(vm.PID(pid))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	if r.URL.Query().Get("all") != "true" {
		present := make([]mmu.PageInfo, 0)
		for _, p := range pages {
			if p.Present {
				present = append(present, p)
			}
		}

		pages = present
	}

	writeJSON(w, pages)
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.mmu.FrameUsage())
}

type faultRsp struct {
	Fault string `json:"fault"`
}

func (m *Monitor) showFault(w http.ResponseWriter, _ *http.Request) {
	rsp := faultRsp{}
	if err := m.mmu.Fault(); err != nil {
		rsp.Fault = err.Error()
	}

	writeJSON(w, rsp)
}

func (m *Monitor) clearFault(w http.ResponseWriter, _ *http.Request) {
	m.mmu.ClearFault()
	w.WriteHeader(http.StatusNoContent)
}

type opsRsp struct {
	Ops    []tracing.OpCount `json:"ops"`
	Faults uint64            `json:"faults"`
}

func (m *Monitor) listOps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, opsRsp{
		Ops:    m.opCounter.Counts(),
		Faults: m.opCounter.FaultCount(),
	})
}

type stateSnapshot struct {
	Name            string
	PageSize        uint64
	VirtualMemSize  uint64
	MaxNumProcesses int
	Frames          mmu.FrameUsage
	Processes       []mmu.ProcessInfo
	Fault           string
}

func (m *Monitor) showState(w http.ResponseWriter, _ *http.Request) {
	state := stateSnapshot{
		Name:            m.mmu.Name(),
		PageSize:        m.mmu.PageSize(),
		VirtualMemSize:  m.mmu.VirtualMemSize(),
		MaxNumProcesses: m.mmu.MaxNumProcesses(),
		Frames:          m.mmu.FrameUsage(),
		Processes:       m.mmu.Processes(),
	}

	if err := m.mmu.Fault(); err != nil {
		state.Fault = err.Error()
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&state)
	serializer.SetMaxDepth(3)
	err := serializer.Serialize(w)

	dieOnErr(err)
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

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
