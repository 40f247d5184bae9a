/*Package usbtmc speaks the bulk transfer mode of the USB Test and
Measurement Class, enough to send SCPI to the signal generator when its
LAN port is not configured.

Messages must fit the device buffer in a single transfer; multi-packet
messages are not supported.

An outgoing transfer is a 12 byte DEV_DEP_MSG_OUT header followed by the
payload, zero padded to a multiple of 4 bytes.  A response is requested
with a REQUEST_DEV_DEP_MSG_IN header on the Out endpoint, then read from
the In endpoint with its header stripped.

Device implements both as Write and Read, so it can be held in a comm.Pool.
*/
package usbtmc

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/comm"
)

const (
	reserved = 0x00

	headerSize = 12

	alignment = 4

	msgDevDepOut    = 0x01
	msgRequestDevIn = 0x02

	// BufSize is the largest response accepted in a single bulk-in transfer
	BufSize = 1500
)

// ErrShortHeader is generated when a bulk-in transfer is too short to hold a header
var ErrShortHeader = errors.New("response shorter than a USBTMC header")

// bTagger is a concurrent-safe bTag generator.  bTags are 1..255.
type bTagger struct {
	sync.Mutex

	value byte
}

func (b *bTagger) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int) [headerSize]byte {
	/* data map by offset:
	0 MsgID
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out := [headerSize]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // every message is a single transfer
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the device is told to ignore the termination character
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgRequestDevIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	return out
}

// pad extends b with zeros to a multiple of 4 bytes
func pad(b []byte) []byte {
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// decBulkIn strips the header of a DEV_DEP_MSG_IN transfer and returns the payload
func decBulkIn(buf []byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, ErrShortHeader
	}
	if buf[0] != msgRequestDevIn {
		return nil, errors.Errorf("unexpected MsgID %#x in bulk-in header", buf[0])
	}
	if buf[2] != invbTag(buf[1]) {
		return nil, errors.New("bulk-in header bTag does not match its inverse")
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:]
	if size < len(data) {
		data = data[:size]
	}
	return data, nil
}

// Device hides the details of USB and exposes an io.ReadWriteCloser
type Device struct {
	tags bTagger

	// Terminator, if not nil, asks the device to end each response on this byte
	Terminator *byte

	ctx    *gousb.Context
	device *gousb.Device
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// Open opens a device from its vendor and product ID
func Open(vid, pid uint16) (*Device, error) {
	term := byte('\n')
	d := &Device{Terminator: &term, ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, errors.Wrapf(err, "open USB device %04x:%04x", vid, pid)
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, errors.Errorf("USB device %04x:%04x not found", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	iface, closer, err := d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = closer
	if d.in, err = iface.InEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(2); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Maker returns a comm.CreationFunc that opens the device
func Maker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid)
	}
}

// Write sends b as a single DEV_DEP_MSG_OUT transfer
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tags.next(), len(b))
	msg := pad(append(hdr[:], b...))
	if _, err := d.out.Write(msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests a response and copies its payload into b
func (d *Device) Read(b []byte) (int, error) {
	hdr := encBulkInHeader(d.tags.next(), BufSize, d.Terminator)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	if n != headerSize {
		return 0, errors.Errorf("wrote %d bytes, not the %d required for a read request", n, headerSize)
	}
	buf := make([]byte, BufSize+headerSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	data, err := decBulkIn(buf[:n])
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

// Close releases the interface, the device and the USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		if cerr := d.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
