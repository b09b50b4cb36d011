//go:build linux

package loop

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// epollPoller implements poller on Linux using epoll plus an eventfd as
// the self-pipe wakeup, matching the teacher's epoll_reactor.go pattern
// but generalized to the loop's single fd→mask selector model (spec
// §4.3 step 4, §3 "self-pipe/wakeup fd").
type epollPoller struct {
	epfd   int
	wakeFD int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakeFD: wakeFD}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// wait blocks until the wakeup eventfd fires or timeoutMs elapses. No
// other fd is ever registered, so a non-empty result always means the
// wakeup counter needs draining.
func (p *epollPoller) wait(timeoutMs int) ([]readyFD, error) {
	var events [8]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	for i := 0; i < n; i++ {
		if int(events[i].Fd) == p.wakeFD {
			var buf [8]byte
			_, _ = unix.Read(p.wakeFD, buf[:])
		}
	}
	return nil, nil
}

func (p *epollPoller) wakeupWrite() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFD, buf[:])
	return err
}

func (p *epollPoller) close() error {
	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
