//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// SysfsRoot is the GPIO class directory of the legacy sysfs interface.
const SysfsRoot = "/sys/class/gpio"

var errNoSysfs = errors.New("sysfs gpio is only available on linux")

// SysfsPin is unavailable on this platform.
type SysfsPin struct{}

func OpenEdgePin(root string, pin int) (*SysfsPin, error) {
	return nil, errNoSysfs
}

func (p *SysfsPin) Number() int          { return 0 }
func (p *SysfsPin) Read() (Level, error) { return Low, errNoSysfs }
func (p *SysfsPin) Close() error         { return nil }

func WaitEdge(pins []*SysfsPin, timeout time.Duration) (bool, error) {
	return false, errNoSysfs
}
