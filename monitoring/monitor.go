// Package monitoring serves the state of a running relay over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/sarchlab/mpirelay/relay"
	"github.com/sarchlab/mpirelay/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor turns a relay into an HTTP server that reports its state.
type Monitor struct {
	portNumber int
	log        logging.Logger
	profileFor time.Duration

	lock    sync.Mutex
	router  *relay.Router
	counter *tracing.CountTracer
	server  *http.Server
	addr    string
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		log:        logging.New(nil),
		profileFor: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(l logging.Logger) *Monitor {
	m.log = l
	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileFor = d
	return m
}

// RegisterRouter sets the router to report on.
func (m *Monitor) RegisterRouter(r *relay.Router) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.router = r
}

// RegisterCounter sets the counter served by /api/counts.
func (m *Monitor) RegisterCounter(c *tracing.CountTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.counter = c
}

// Handler returns the HTTP routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/jobs", m.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/endpoint/{name}", m.endpointDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/counts", m.listCounts).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts serving in the background and returns the bound
// address.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", "localhost:"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("monitoring: %w", err)
	}

	server := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.lock.Lock()
	m.server = server
	m.addr = listener.Addr().String()
	m.lock.Unlock()

	fmt.Fprintf(os.Stderr, "Monitoring relay with http://%s/api/jobs\n", m.addr)

	go func() {
		err := server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			m.log.Error(context.Background(), "monitor stopped", "err", err)
		}
	}()

	return m.addr, nil
}

// OpenBrowser shows the job listing in the user's browser.
func (m *Monitor) OpenBrowser() error {
	m.lock.Lock()
	addr := m.addr
	m.lock.Unlock()

	if addr == "" {
		return fmt.Errorf("monitoring: server not started")
	}

	return browser.OpenURL("http://" + addr + "/api/jobs")
}

// Shutdown stops the server.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.lock.Lock()
	server := m.server
	m.lock.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (m *Monitor) currentRouter(w http.ResponseWriter) *relay.Router {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.router == nil {
		http.Error(w, "no router registered", http.StatusServiceUnavailable)
	}

	return m.router
}

func (m *Monitor) listJobs(w http.ResponseWriter, _ *http.Request) {
	router := m.currentRouter(w)
	if router == nil {
		return
	}

	writeJSON(w, router.Snapshot())
}

type endpointDetail struct {
	Status relay.EndpointStatus
	In     ipc.QueueStat
	Out    ipc.QueueStat
	Error  string
}

func (m *Monitor) endpointDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	router := m.currentRouter(w)
	if router == nil {
		return
	}

	ep, found := router.Endpoint(name)
	if !found {
		http.Error(w, "endpoint "+name+" not found", http.StatusNotFound)
		return
	}

	detail := endpointDetail{}

	for _, s := range router.Snapshot().Endpoints {
		if s.Name == name {
			detail.Status = s
		}
	}

	in, out, err := ep.Stat()
	detail.In, detail.Out = in, out

	if err != nil {
		detail.Error = err.Error()
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail)
	serializer.SetMaxDepth(2)

	if err := serializer.Serialize(w); err != nil {
		m.log.Warn(r.Context(), "endpoint dump failed", "endpoint", name, "err", err)
	}
}

func (m *Monitor) listCounts(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	counter := m.counter
	m.lock.Unlock()

	counts := []tracing.PosCount{}
	if counter != nil {
		counts = counter.Counts()
	}

	writeJSON(w, counts)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileFor)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
