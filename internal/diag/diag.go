// Package diag exposes an HTTP health/status endpoint for the running
// engine, grounded on hasher-host/main.go's gin-based orchestrator API
// (its /api/v1/health and /api/v1/metrics handlers) and ui.go's
// gopsutil host-stats sampling.
package diag

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"ploytecd/internal/shmring"
)

// StatusSource is the minimal view of engine state diag needs; Engine
// itself implements it.
type StatusSource interface {
	StateName() string
}

// Server is the diagnostics HTTP server: a single gin engine behind
// /healthz and /status.
type Server struct {
	router    *gin.Engine
	region    *shmring.Region
	source    StatusSource
	startTime time.Time
}

// New builds a diag Server. It does not start listening; call Run.
func New(region *shmring.Region, source StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{router: router, region: region, source: source, startTime: time.Now()}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/status", s.handleStatus)
	return s
}

// Run starts the HTTP listener; it blocks until the listener fails or
// the process exits.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealthz(c *gin.Context) {
	status := "healthy"
	if !s.region.Audio.HardwarePresent.Load() || !s.region.Audio.DriverReady.Load() {
		status = "no-device"
	}
	c.JSON(http.StatusOK, healthResponse{Status: status, Uptime: time.Since(s.startTime).String()})
}

type statusResponse struct {
	State            string  `json:"state"`
	HardwarePresent  bool    `json:"hardwarePresent"`
	DriverReady      bool    `json:"driverReady"`
	SampleRate       uint32  `json:"sampleRate"`
	DeviceFlags      uint32  `json:"deviceFlags"`
	SessionID        uint32  `json:"sessionId"`
	HostCPUPercent   float64 `json:"hostCpuPercent"`
	HostMemPercent   float64 `json:"hostMemPercent"`
}

func (s *Server) handleStatus(c *gin.Context) {
	cpuPercent, _ := psutil.Percent(0, false)
	memInfo, _ := psmem.VirtualMemory()

	var cpuPct float64
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memPct float64
	if memInfo != nil {
		memPct = memInfo.UsedPercent
	}

	state := ""
	if s.source != nil {
		state = s.source.StateName()
	}

	c.JSON(http.StatusOK, statusResponse{
		State:           state,
		HardwarePresent: s.region.Audio.HardwarePresent.Load(),
		DriverReady:     s.region.Audio.DriverReady.Load(),
		SampleRate:      s.region.Audio.SampleRate.Load(),
		DeviceFlags:     s.region.Audio.DeviceFlags.Load(),
		SessionID:       s.region.Header.SessionID.Load(),
		HostCPUPercent:  cpuPct,
		HostMemPercent:  memPct,
	})
}
