//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cjeanneret/abkant/internal/debug"
)

// SysfsRoot is the GPIO class directory of the legacy sysfs interface.
const SysfsRoot = "/sys/class/gpio"

const exportTimeout = 2 * time.Second

// SysfsPin is an input exported through the sysfs GPIO interface with
// edge detection on both edges. The kernel flags the value file with
// POLLPRI on every edge, which WaitEdge sleeps on.
type SysfsPin struct {
	number int
	root   string
	value  *os.File
	buf    []byte
}

// OpenEdgePin exports pin under root, configures it as an input with
// both-edge detection and opens its value file.
func OpenEdgePin(root string, pin int) (*SysfsPin, error) {
	if root == "" {
		root = SysfsRoot
	}
	p := &SysfsPin{number: pin, root: root, buf: make([]byte, 1)}
	if err := p.export(); err != nil {
		return nil, fmt.Errorf("gpio%d: export: %w", pin, err)
	}
	if err := writeFile(p.path("direction"), "in"); err != nil {
		p.unexport()
		return nil, fmt.Errorf("gpio%d: direction: %w", pin, err)
	}
	if err := writeFile(p.path("edge"), "both"); err != nil {
		p.unexport()
		return nil, fmt.Errorf("gpio%d: edge: %w", pin, err)
	}
	f, err := os.OpenFile(p.path("value"), os.O_RDWR, 0o600)
	if err != nil {
		p.unexport()
		return nil, fmt.Errorf("gpio%d: open value: %w", pin, err)
	}
	p.value = f
	debug.GPIO("OpenEdgePin", pin, "both")
	return p, nil
}

func (p *SysfsPin) path(name string) string {
	return filepath.Join(p.root, "gpio"+strconv.Itoa(p.number), name)
}

// Number returns the pin number.
func (p *SysfsPin) Number() int {
	return p.number
}

// Read returns the current level. Reading also acknowledges a pending edge.
func (p *SysfsPin) Read() (Level, error) {
	if _, err := p.value.ReadAt(p.buf, 0); err != nil {
		return Low, fmt.Errorf("gpio%d: read: %w", p.number, err)
	}
	switch p.buf[0] {
	case '0':
		return Low, nil
	case '1':
		return High, nil
	default:
		return Low, fmt.Errorf("gpio%d: unknown value %q", p.number, p.buf)
	}
}

// Close closes the value file and unexports the pin.
func (p *SysfsPin) Close() error {
	err := p.value.Close()
	p.unexport()
	return err
}

// WaitEdge blocks until an edge is flagged on any of pins or timeout
// elapses. It reports whether an edge was seen.
func WaitEdge(pins []*SysfsPin, timeout time.Duration) (bool, error) {
	fds := make([]unix.PollFd, len(pins))
	for i, p := range pins {
		fds[i] = unix.PollFd{Fd: int32(p.value.Fd()), Events: unix.POLLPRI | unix.POLLERR}
	}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		return n > 0, nil
	}
}

func (p *SysfsPin) export() error {
	val := p.path("value")
	if unix.Access(val, unix.W_OK|unix.R_OK) == nil {
		return nil
	}
	if err := writeFile(filepath.Join(p.root, "export"), strconv.Itoa(p.number)); err != nil {
		return err
	}
	// udev may need a moment to fix the group permissions on new files.
	for waited := time.Duration(0); waited < exportTimeout; waited += time.Millisecond {
		if unix.Access(val, unix.W_OK) == nil {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("%s: not writable", val)
}

func (p *SysfsPin) unexport() {
	_ = writeFile(filepath.Join(p.root, "unexport"), strconv.Itoa(p.number))
}

func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}
