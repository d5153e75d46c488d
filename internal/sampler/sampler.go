package sampler

import (
	"context"
	"time"

	"github.com/c9s/goprocinfo/linux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultNetDevPath is where Linux exposes per-interface counters
const DefaultNetDevPath = "/proc/net/dev"

// Network metric names, in /proc/net/dev column order.
const (
	NetBytesRx      = "network_bytes_rx"
	NetPacketsRx    = "network_packets_rx"
	NetErrsRx       = "network_errs_rx"
	NetDropRx       = "network_drop_rx"
	NetFifoErrorsRx = "network_fifo_errors_rx"
	NetFrameRx      = "network_frame_rx"
	NetCompressedRx = "network_compressed_rx"
	NetMulticastRx  = "network_multicast_rx"
	NetBytesTx      = "network_bytes_tx"
	NetPacketsTx    = "network_packets_tx"
	NetErrsTx       = "network_errs_tx"
	NetDropTx       = "network_drop_tx"
	NetFifoErrorsTx = "network_fifo_errors_tx"
	NetCollsTx      = "network_colls_tx"
	NetCarrierTx    = "network_carrier_tx"
	NetCompressedTx = "network_compressed_tx"
)

// HostCPUPercent is the host metric for overall CPU utilisation
const HostCPUPercent = "cpu_percent"

// NetworkMetricNames lists every network metric a snapshot can carry
var NetworkMetricNames = []string{
	NetBytesRx, NetPacketsRx, NetErrsRx, NetDropRx,
	NetFifoErrorsRx, NetFrameRx, NetCompressedRx, NetMulticastRx,
	NetBytesTx, NetPacketsTx, NetErrsTx, NetDropTx,
	NetFifoErrorsTx, NetCollsTx, NetCarrierTx, NetCompressedTx,
}

// Sampler produces one snapshot per call. It must not fail: sources that
// cannot be read are left out of the snapshot.
type Sampler interface {
	Sample(ctx context.Context) Snapshot
}

// HostSampler reads interface counters and host CPU/memory indicators
type HostSampler struct {
	taskID     uint64
	netDevPath string
	hostStats  bool
	now        func() time.Time
}

// Option configures a HostSampler
type Option func(*HostSampler)

// WithNetDevPath reads interface counters from path instead of /proc/net/dev
func WithNetDevPath(path string) Option {
	return func(s *HostSampler) {
		if path != "" {
			s.netDevPath = path
		}
	}
}

// WithoutHostStats skips the CPU/load/memory readings
func WithoutHostStats() Option {
	return func(s *HostSampler) {
		s.hostStats = false
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *HostSampler) {
		s.now = now
	}
}

// NewHostSampler creates a sampler tagging snapshots with taskID
func NewHostSampler(taskID uint64, opts ...Option) *HostSampler {
	s := &HostSampler{
		taskID:     taskID,
		netDevPath: DefaultNetDevPath,
		hostStats:  true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample takes one snapshot of the host
func (s *HostSampler) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{
		Timestamp: s.now().UTC(),
		TaskID:    s.taskID,
	}

	if network, ok := s.readNetwork(); ok {
		snap.Network = network
	}

	if s.hostStats {
		if host := readHost(ctx); len(host) > 0 {
			snap.Host = host
		}
	}

	return snap
}

// readNetwork parses interface counters. A read failure drops the whole
// network section for this tick; interfaces are whatever the kernel lists now.
func (s *HostSampler) readNetwork() (network map[string]map[string]uint64, ok bool) {
	// The parser indexes lines positionally and panics on truncated files
	defer func() {
		if r := recover(); r != nil {
			network, ok = nil, false
		}
	}()

	stats, err := linux.ReadNetworkStat(s.netDevPath)
	if err != nil || len(stats) == 0 {
		return nil, false
	}

	network = make(map[string]map[string]uint64, len(NetworkMetricNames))
	for _, name := range NetworkMetricNames {
		network[name] = make(map[string]uint64, len(stats))
	}

	for _, st := range stats {
		if st.Iface == "" {
			continue
		}
		iface := st.Iface
		network[NetBytesRx][iface] = st.RxBytes
		network[NetPacketsRx][iface] = st.RxPackets
		network[NetErrsRx][iface] = st.RxErrs
		network[NetDropRx][iface] = st.RxDrop
		network[NetFifoErrorsRx][iface] = st.RxFifo
		network[NetFrameRx][iface] = st.RxFrame
		network[NetCompressedRx][iface] = st.RxCompressed
		network[NetMulticastRx][iface] = st.RxMulticast
		network[NetBytesTx][iface] = st.TxBytes
		network[NetPacketsTx][iface] = st.TxPackets
		network[NetErrsTx][iface] = st.TxErrs
		network[NetDropTx][iface] = st.TxDrop
		network[NetFifoErrorsTx][iface] = st.TxFifo
		network[NetCollsTx][iface] = st.TxColls
		network[NetCarrierTx][iface] = st.TxCarrier
		network[NetCompressedTx][iface] = st.TxCompressed
	}

	return network, true
}

// readHost collects CPU, load and memory indicators, best effort
func readHost(ctx context.Context) map[string]float64 {
	host := make(map[string]float64)

	if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
		t := times[0]
		host["cpu_user_seconds"] = t.User
		host["cpu_system_seconds"] = t.System
		host["cpu_idle_seconds"] = t.Idle
		host["cpu_nice_seconds"] = t.Nice
		host["cpu_iowait_seconds"] = t.Iowait
		host["cpu_irq_seconds"] = t.Irq
		host["cpu_softirq_seconds"] = t.Softirq
		host["cpu_steal_seconds"] = t.Steal
	}

	// Interval 0 compares against the previous call in this process
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		host[HostCPUPercent] = pct[0]
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		host["cpu_count"] = float64(n)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		host["load1"] = avg.Load1
		host["load5"] = avg.Load5
		host["load15"] = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		host["mem_total_bytes"] = float64(vm.Total)
		host["mem_available_bytes"] = float64(vm.Available)
		host["mem_used_bytes"] = float64(vm.Used)
		host["mem_used_percent"] = vm.UsedPercent
	}

	return host
}
