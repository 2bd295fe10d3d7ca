package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// QualityReport is one aggregated sample of peer-reported link quality.
type QualityReport struct {
	Timestamp  time.Time
	PacketLoss float64
	Jitter     time.Duration
	RTT        time.Duration
	NackCount  int
}

// QualityReportFunc receives aggregated quality samples.
type QualityReportFunc func(report QualityReport)

// QualityMonitor reads RTCP feedback from the connection's senders and folds
// receiver reports into periodic quality samples.
type QualityMonitor struct {
	onReport QualityReportFunc

	mu      sync.Mutex
	stopped bool

	logger *zap.SugaredLogger
}

// NewQualityMonitor creates a monitor delivering samples to onReport.
func NewQualityMonitor(onReport QualityReportFunc, logger *zap.SugaredLogger) *QualityMonitor {
	return &QualityMonitor{
		onReport: onReport,
		logger:   logger,
	}
}

// Watch starts an RTCP reader per sender currently attached to pc. Readers
// exit when the sender closes or Stop is called.
func (m *QualityMonitor) Watch(pc *webrtc.PeerConnection) {
	for _, sender := range pc.GetSenders() {
		go m.readSender(sender)
	}
}

// Stop halts delivery. Readers exit on their next RTCP read.
func (m *QualityMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *QualityMonitor) readSender(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			m.logger.Debugw("rtcp unmarshal failed", "error", err)
			continue
		}
		m.processPackets(packets)
	}
}

// processPackets folds a batch of RTCP packets into one quality sample.
func (m *QualityMonitor) processPackets(packets []rtcp.Packet) {
	var totalLoss uint64
	var totalJitter uint64
	var totalRTT time.Duration
	var nacks int
	reports := 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				totalLoss += uint64(report.FractionLost)
				totalJitter += uint64(report.Jitter)
				reports++
				if report.LastSenderReport != 0 && report.Delay != 0 {
					totalRTT += time.Duration(report.Delay) * time.Second / 65536
				}
			}

		case *rtcp.TransportLayerNack:
			nacks += len(p.Nacks)

		case *rtcp.PictureLossIndication:
			m.logger.Debugw("keyframe requested by peer")
		}
	}

	if reports == 0 && nacks == 0 {
		return
	}

	sample := QualityReport{
		Timestamp: time.Now(),
		NackCount: nacks,
	}
	if reports > 0 {
		sample.PacketLoss = float64(totalLoss) / float64(reports) / 255.0
		sample.Jitter = time.Duration(totalJitter/uint64(reports)) * time.Millisecond
		sample.RTT = totalRTT / time.Duration(reports)
	}

	if m.onReport != nil {
		m.onReport(sample)
	}
}
