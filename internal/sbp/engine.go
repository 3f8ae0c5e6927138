// Package sbp implements the Serial Boot Protocol spoken by the mask ROM:
// a stateless request/response layer over a transport.ByteChannel.
package sbp

import (
	"encoding/binary"
	"io"

	"imxatk/internal/atklog"
	"imxatk/internal/progress"
	"imxatk/internal/transport"
)

const defaultWriteFileChunk = 1024

// Engine is a stateless value wrapping a channel reference; it owns no
// transport lifecycle of its own. ElementByteOrder controls how
// multi-byte ReadMemory elements are reassembled: it defaults to
// little-endian, the device byte order of every supported processor.
type Engine struct {
	Channel          transport.ByteChannel
	ElementByteOrder binary.ByteOrder
	WriteFileChunk   int
	log              *atklog.Logger
}

// New returns an Engine driving ch.
func New(ch transport.ByteChannel) *Engine {
	return &Engine{
		Channel:          ch,
		ElementByteOrder: binary.LittleEndian,
		WriteFileChunk:   defaultWriteFileChunk,
		log:              atklog.New("sbp"),
	}
}

func (e *Engine) writeCommand(f frame) error {
	return e.Channel.Write(f.bytes())
}

// readStatusBE reads one 32-bit big-endian status/ACK word, the ordinary
// case for every SBP response except GetStatus itself.
func (e *Engine) readStatusBE() (StatusWord, error) {
	b, err := e.Channel.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return StatusWord(binary.BigEndian.Uint32(b)), nil
}

// GetStatus writes the 0x0505 probe command and returns the status word the
// ROM replies with. Uniquely among SBP responses, the ROM emits this one
// word in little-endian order.
func (e *Engine) GetStatus() (StatusWord, error) {
	f := newFrame(OpGetStatus)
	if err := e.writeCommand(f); err != nil {
		return 0, err
	}
	b, err := e.Channel.ReadExact(4)
	if err != nil {
		return 0, err
	}
	status := StatusWord(binary.LittleEndian.Uint32(b))
	e.log.Infof("get_status -> %#08x", uint32(status))
	return status, nil
}

// ReadMemory reads length elements of the given width starting at address.
// When length == 1 the caller almost always wants ReadMemorySingle instead.
func (e *Engine) ReadMemory(address uint32, width Width, length uint32) ([]uint32, error) {
	if !width.Valid() {
		return nil, &ArgumentError{Detail: "invalid access width"}
	}
	if length == 0 {
		return nil, &ArgumentError{Detail: "length must be >= 1"}
	}

	f := newFrame(OpReadMemory)
	f.putAddress(address)
	f.putWidth(width)
	f.putLength(length)
	if err := e.writeCommand(f); err != nil {
		return nil, err
	}

	ack, err := e.readStatusBE()
	if err != nil {
		return nil, err
	}
	if !ack.IsAck() {
		return nil, ackError(OpReadMemory, ack)
	}

	stride := width.Bytes()
	raw, err := e.Channel.ReadExact(int(length) * stride)
	if err != nil {
		return nil, err
	}

	out := make([]uint32, length)
	for i := range out {
		chunk := raw[i*stride : (i+1)*stride]
		out[i] = decodeElement(chunk, e.ElementByteOrder)
	}
	return out, nil
}

func decodeElement(b []byte, order binary.ByteOrder) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(order.Uint16(b))
	case 4:
		return order.Uint32(b)
	default:
		return 0
	}
}

// ReadMemorySingle is a convenience wrapper around ReadMemory(address,
// width, 1) returning the lone scalar.
func (e *Engine) ReadMemorySingle(address uint32, width Width) (uint32, error) {
	vals, err := e.ReadMemory(address, width, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// WriteMemory writes a single width-sized value to address, requiring both
// the initial production/engineering ACK and a following WRITE_SUCCESS
// status.
func (e *Engine) WriteMemory(address uint32, width Width, value uint32) error {
	if !width.Valid() {
		return &ArgumentError{Detail: "invalid access width"}
	}

	f := newFrame(OpWriteMemory)
	f.putAddress(address)
	f.putWidth(width)
	f.putValue(width, value)
	if err := e.writeCommand(f); err != nil {
		return err
	}

	ack, err := e.readStatusBE()
	if err != nil {
		return err
	}
	if !ack.IsAck() {
		return ackError(OpWriteMemory, ack)
	}

	result, err := e.readStatusBE()
	if err != nil {
		return err
	}
	if result != StatusWriteSuccess {
		return ackError(OpWriteMemory, result)
	}
	return nil
}

func statusBytes(s StatusWord) []byte {
	return []byte{byte(s >> 24), byte(s >> 16), byte(s >> 8), byte(s)}
}

// WriteFile streams length bytes read from r to address as the given file
// type, invoking observer after every chunk with cumulative bytes sent.
// filetype is APPLICATION for an image handed off via CompleteBoot, CSF or
// DCD for the security/device-config blobs the ROM also accepts.
func (e *Engine) WriteFile(filetype FileType, address uint32, length uint32, r io.Reader, observer progress.DownloadObserver) error {
	if observer == nil {
		observer = progress.Default
	}
	f := newFrame(OpWriteFile)
	f.putAddress(address)
	f.putLength(length)
	f.putFileType(filetype)
	if err := e.writeCommand(f); err != nil {
		return err
	}

	ack, err := e.readStatusBE()
	if err != nil {
		return err
	}
	if !ack.IsAck() {
		return ackError(OpWriteFile, ack)
	}

	chunkSize := e.WriteFileChunk
	if chunkSize <= 0 {
		chunkSize = defaultWriteFileChunk
	}
	buf := make([]byte, chunkSize)
	sent := 0
	total := int(length)
	for sent < total {
		want := chunkSize
		if total-sent < want {
			want = total - sent
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			return &ProtocolMismatchError{Opcode: OpWriteFile, Detail: "short input stream: " + err.Error()}
		}
		if err := e.Channel.Write(buf[:n]); err != nil {
			return err
		}
		sent += n
		observer.OnBytesSent(sent, total)
	}
	return nil
}

// ReenumerateUSB tells the ROM to reset the USB endpoint (the host must
// then reopen its channel after a settling delay). serial is an arbitrary
// 4-byte tag early ROM versions answer with a fixed magic; any 4-byte
// reply is accepted when the magic is absent.
func (e *Engine) ReenumerateUSB(serial [4]byte) error {
	f := newFrame(OpReenumerateUSB)
	f[9], f[10], f[11], f[12] = serial[0], serial[1], serial[2], serial[3]
	if err := e.writeCommand(f); err != nil {
		return err
	}
	reply, err := e.Channel.ReadExact(4)
	if err != nil {
		return err
	}
	if reply[0] == reenumerateMagic[0] && reply[1] == reenumerateMagic[1] &&
		reply[2] == reenumerateMagic[2] && reply[3] == reenumerateMagic[3] {
		return nil
	}
	// Magic absent: later ROM revisions omit it, accept any reply.
	e.log.Infof("reenumerate_usb: no magic in reply % x, accepting anyway", reply)
	return nil
}

// CompleteBoot must be called immediately after WriteFile(APPLICATION,
// ...); it hands control to the image just downloaded and confirms the ROM
// reports BOOT_COMPLETE.
func (e *Engine) CompleteBoot() error {
	status, err := e.GetStatus()
	if err != nil {
		return err
	}
	if status != StatusBootComplete {
		return &ProtocolMismatchError{Opcode: OpGetStatus, Detail: "boot not completed", Raw: statusBytes(status)}
	}
	return nil
}
