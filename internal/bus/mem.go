package bus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/uavbus/internal/protocol"
	"github.com/danmuck/uavbus/internal/protocol/frame"
)

// MemDriver is an in-memory multi-interface driver. Frames sent on
// interface i are logged and delivered to interface i of every connected peer.
type MemDriver struct {
	clock  Clock
	ifaces []*MemIface
}

var _ Driver = (*MemDriver)(nil)

func NewMemDriver(numIfaces, depth int, clock Clock) (*MemDriver, error) {
	if numIfaces <= 0 || numIfaces > 255 {
		return nil, fmt.Errorf("%w: %d interfaces", ErrInvalidConfig, numIfaces)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: nil clock", ErrInvalidConfig)
	}
	d := &MemDriver{clock: clock, ifaces: make([]*MemIface, numIfaces)}
	for i := range d.ifaces {
		q, err := NewRxQueue(depth)
		if err != nil {
			return nil, err
		}
		d.ifaces[i] = &MemIface{driver: d, index: uint8(i), rx: q}
	}
	return d, nil
}

func (d *MemDriver) NumIfaces() int { return len(d.ifaces) }

func (d *MemDriver) Iface(i int) Iface {
	if i < 0 || i >= len(d.ifaces) {
		return nil
	}
	return d.ifaces[i]
}

// MemIface returns the concrete interface for test access.
func (d *MemDriver) MemIface(i int) (*MemIface, error) {
	if i < 0 || i >= len(d.ifaces) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchIface, i)
	}
	return d.ifaces[i], nil
}

// Connect wires d and peer together in both directions.
func (d *MemDriver) Connect(peer *MemDriver) error {
	if len(peer.ifaces) != len(d.ifaces) {
		return fmt.Errorf("%w: interface count %d vs %d", ErrInvalidConfig, len(d.ifaces), len(peer.ifaces))
	}
	for i := range d.ifaces {
		d.ifaces[i].addPeer(peer.ifaces[i])
		peer.ifaces[i].addPeer(d.ifaces[i])
	}
	return nil
}

// PushRx queues f on interface i stamped with the driver clock.
func (d *MemDriver) PushRx(i int, f frame.CANFrame) error {
	iface, err := d.MemIface(i)
	if err != nil {
		return err
	}
	iface.deliver(f)
	return nil
}

// PushRxFrame queues a pre-stamped frame as is.
func (d *MemDriver) PushRxFrame(f RxCANFrame) error {
	iface, err := d.MemIface(int(f.IfaceIndex))
	if err != nil {
		return err
	}
	iface.rx.Push(f)
	return nil
}

// SetError makes every later Receive and Send on interface i fail with err.
// A nil err clears the fault.
func (d *MemDriver) SetError(i int, err error) error {
	iface, ierr := d.MemIface(i)
	if ierr != nil {
		return ierr
	}
	iface.mu.Lock()
	iface.err = err
	iface.mu.Unlock()
	return nil
}

// TxFrames returns a copy of everything sent on interface i.
func (d *MemDriver) TxFrames(i int) []frame.CANFrame {
	iface, err := d.MemIface(i)
	if err != nil {
		return nil
	}
	iface.mu.Lock()
	defer iface.mu.Unlock()
	out := make([]frame.CANFrame, len(iface.tx))
	copy(out, iface.tx)
	return out
}

// RxOverflows sums dropped frames over all interfaces.
func (d *MemDriver) RxOverflows() uint64 {
	var total uint64
	for _, iface := range d.ifaces {
		total += iface.rx.Overflows()
	}
	return total
}

type MemIface struct {
	driver *MemDriver
	index  uint8
	rx     *RxQueue

	mu    sync.Mutex
	tx    []frame.CANFrame
	peers []*MemIface
	err   error
}

var _ Iface = (*MemIface)(nil)

func (m *MemIface) Receive() (RxCANFrame, bool, error) {
	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return RxCANFrame{}, false, err
	}
	f, ok := m.rx.Pop()
	return f, ok, nil
}

func (m *MemIface) Send(f frame.CANFrame, deadline protocol.MonotonicTime) error {
	if !deadline.IsZero() && m.driver.clock.Monotonic() > deadline {
		return ErrTxTimeout
	}
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	m.tx = append(m.tx, f)
	peers := append([]*MemIface(nil), m.peers...)
	m.mu.Unlock()

	for _, p := range peers {
		p.deliver(f)
	}
	return nil
}

func (m *MemIface) RxQueue() *RxQueue { return m.rx }

func (m *MemIface) deliver(f frame.CANFrame) {
	clock := m.driver.clock
	ok := m.rx.Push(RxCANFrame{
		Frame:       f,
		TsMonotonic: clock.Monotonic(),
		TsUTC:       clock.UTC(),
		IfaceIndex:  m.index,
	})
	if !ok {
		log.Debug().Uint8("iface", m.index).Msg("bus.MemIface.deliver rx overflow")
	}
}

func (m *MemIface) addPeer(p *MemIface) {
	m.mu.Lock()
	m.peers = append(m.peers, p)
	m.mu.Unlock()
}
