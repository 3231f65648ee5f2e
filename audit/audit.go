// Package audit persists every raw instrument message to disk before any
// parsing happens, and fans the same messages out to live subscribers.
// The files are the ground truth when an integration dispute comes up.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/logger"
)

const defaultBaseDir = "message_logs"

// unsafePathChars matches characters not allowed in a device directory
// name; they are replaced with underscores.
var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// Event is one audited message, as delivered to live subscribers.
type Event struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Protocol   string    `json:"protocol"`
	Path       string    `json:"path"`
	Raw        string    `json:"raw"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Service writes audit files and broadcasts events. The file layout is
// <base>/<device name>/<yyyy-mm-dd>/<hhmmss-microseconds>_message.<ext>
// with the extension chosen by protocol (.hl7 for HL7, .astm otherwise).
type Service struct {
	baseDir string
	logger  logger.Logger
	now     func() time.Time

	nextSubID   atomic.Uint64
	subscribers *xsync.MapOf[uint64, chan Event]
	// closeMu serializes channel close against in-flight broadcasts.
	closeMu sync.Mutex
}

// NewService creates a Service writing under baseDir; "" selects the
// default message_logs directory. l may be nil, in which case the package
// default logger is used.
func NewService(baseDir string, l logger.Logger) *Service {
	if baseDir == "" {
		baseDir = defaultBaseDir
	}
	if l == nil {
		l = logger.GetLogger()
	}
	return &Service{
		baseDir:     baseDir,
		logger:      l,
		now:         time.Now,
		subscribers: xsync.NewMapOf[uint64, chan Event](),
	}
}

// Record writes rawMessage to the device's audit directory and notifies
// subscribers. Write failures are logged, never propagated: an audit
// problem must not stall message handling.
func (s *Service) Record(rawMessage string, dev *device.Config) {
	now := s.now()

	dir := filepath.Join(s.baseDir, sanitizeName(dev.Name), now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("audit: create directory failed", "dir", dir, "error", err)
		return
	}

	path := filepath.Join(dir, fileName(now, dev.Protocol))
	if err := os.WriteFile(path, []byte(rawMessage), 0o644); err != nil {
		s.logger.Error("audit: write failed", "path", path, "error", err)
		return
	}

	s.logger.Info("audit: raw message saved", "device", dev.Name, "path", path)

	s.broadcast(Event{
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Protocol:   dev.Protocol.String(),
		Path:       path,
		Raw:        rawMessage,
		ReceivedAt: now,
	})
}

// Subscribe registers a live feed consumer. The returned cancel func
// must be called to release the subscription; events are dropped for
// subscribers that fall behind.
func (s *Service) Subscribe() (<-chan Event, func()) {
	id := s.nextSubID.Add(1)
	ch := make(chan Event, 16)
	s.subscribers.Store(id, ch)

	cancel := func() {
		s.closeMu.Lock()
		defer s.closeMu.Unlock()
		if ch, ok := s.subscribers.LoadAndDelete(id); ok {
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Service) broadcast(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	s.subscribers.Range(func(_ uint64, ch chan Event) bool {
		select {
		case ch <- event:
		default:
		}
		return true
	})
}

func sanitizeName(name string) string {
	return unsafePathChars.ReplaceAllString(name, "_")
}

func fileName(now time.Time, protocol device.Protocol) string {
	ext := ".astm"
	if protocol == device.ProtocolHL7 {
		ext = ".hl7"
	}
	micros := now.Nanosecond() / 1000
	return fmt.Sprintf("%s-%06d_message%s", now.Format("150405"), micros, ext)
}
