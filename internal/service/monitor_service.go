package service

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/wolftax/oferta_tools/internal/model"
)

// MetricCallback receives each collected sample.
type MetricCallback func(*model.SystemMetric)

type MonitorService interface {
	// Start begins sampling for a test run. A second Start without Stop is
	// a no-op.
	Start(runID uint64, interval time.Duration, cb MetricCallback)
	// Stop ends sampling and waits for the sampler to exit.
	Stop()
}

type monitorService struct {
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewMonitorService() MonitorService {
	return &monitorService{}
}

func (m *monitorService) Start(runID uint64, interval time.Duration, cb MetricCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop(runID, interval, cb, m.stopCh, m.doneCh)
}

func (m *monitorService) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

type ioBaseline struct {
	diskRead  uint64
	diskWrite uint64
	netSent   uint64
	netRecv   uint64
}

func (m *monitorService) loop(runID uint64, interval time.Duration, cb MetricCallback, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	base := readIOBaseline()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if metric := sample(runID, base); metric != nil && cb != nil {
				cb(metric)
			}
		}
	}
}

func readIOBaseline() ioBaseline {
	var base ioBaseline
	if counters, err := disk.IOCounters(); err == nil {
		for _, c := range counters {
			base.diskRead += c.ReadBytes
			base.diskWrite += c.WriteBytes
		}
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		base.netSent = counters[0].BytesSent
		base.netRecv = counters[0].BytesRecv
	}
	return base
}

func sample(runID uint64, base ioBaseline) *model.SystemMetric {
	metric := &model.SystemMetric{
		TestRunID:   runID,
		CollectedAt: time.Now(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metric.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metric.MemoryPercent = vm.UsedPercent
		metric.MemoryUsedMB = toMB(vm.Used)
	}
	if usage, err := disk.Usage("/"); err == nil {
		metric.DiskPercent = usage.UsedPercent
	}
	if counters, err := disk.IOCounters(); err == nil {
		var read, write uint64
		for _, c := range counters {
			read += c.ReadBytes
			write += c.WriteBytes
		}
		metric.DiskReadMB = deltaMB(read, base.diskRead)
		metric.DiskWriteMB = deltaMB(write, base.diskWrite)
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		metric.NetSentMB = deltaMB(counters[0].BytesSent, base.netSent)
		metric.NetRecvMB = deltaMB(counters[0].BytesRecv, base.netRecv)
	}
	return metric
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}

func deltaMB(current, base uint64) float64 {
	if current < base {
		return 0
	}
	return toMB(current - base)
}
