package trace

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	bin "github.com/gagliardetto/binary"
)

// Trace frames are bincode encoded, little endian:
//
//	frame    = secs:u64 nanos:u32 tag:u32 body
//	tag 0    = channel:u32 batches:vec<vec<packet>>
//	tag 1    = slot:u64 block_hash:[32]u8 bank_hash:[32]u8
//	vec<T>   = len:u64 T*
//	packet   = buffer:[1232]u8 size:u64 addr port:u16 flags:u8
//	addr     = 0:u32 [4]u8 | 1:u32 [16]u8

const (
	tagPacketBatch  uint32 = 0
	tagSlotBoundary uint32 = 1

	ipTagV4 uint32 = 0
	ipTagV6 uint32 = 1

	maxBatchesPerEvent = 1 << 16
	maxPacketsPerBatch = 1 << 16
)

var (
	// ErrUnknownEvent is returned for an event tag this package cannot decode.
	ErrUnknownEvent = errors.New("unknown trace event")
	// ErrCorruptFrame is returned when a frame carries impossible values.
	ErrCorruptFrame = errors.New("corrupt trace frame")
)

type decoder struct {
	r   *bufio.Reader
	buf [8]byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReaderSize(r, 1<<20)}
}

func (d *decoder) read(n int) ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		return nil, err
	}

	return d.buf[:n], nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.read(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.read(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.read(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) bytes(dst []byte) error {
	_, err := io.ReadFull(d.r, dst)
	return err
}

// next decodes one frame. It returns io.EOF only when the stream ends
// cleanly on a frame boundary.
func (d *decoder) next() (TimedEvent, error) {
	secs, err := d.u64()
	if err != nil {
		return TimedEvent{}, err
	}

	ev, err := d.body(secs)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return ev, err
}

func (d *decoder) body(secs uint64) (TimedEvent, error) {
	nanos, err := d.u32()
	if err != nil {
		return TimedEvent{}, err
	}

	if nanos >= uint32(time.Second) {
		return TimedEvent{}, fmt.Errorf("%w: nanos %d", ErrCorruptFrame, nanos)
	}

	ts := time.Unix(int64(secs), int64(nanos)).UTC()

	tag, err := d.u32()
	if err != nil {
		return TimedEvent{}, err
	}

	switch tag {
	case tagPacketBatch:
		batch, err := d.packetBatch()
		if err != nil {
			return TimedEvent{}, err
		}

		return TimedEvent{Timestamp: ts, Event: batch}, nil
	case tagSlotBoundary:
		boundary, err := d.slotBoundary()
		if err != nil {
			return TimedEvent{}, err
		}

		return TimedEvent{Timestamp: ts, Event: boundary}, nil
	default:
		return TimedEvent{}, fmt.Errorf("%w: tag %d", ErrUnknownEvent, tag)
	}
}

func (d *decoder) packetBatch() (*PacketBatch, error) {
	channel, err := d.u32()
	if err != nil {
		return nil, err
	}

	numBatches, err := d.u64()
	if err != nil {
		return nil, err
	}

	if numBatches > maxBatchesPerEvent {
		return nil, fmt.Errorf("%w: %d batches", ErrCorruptFrame, numBatches)
	}

	batch := &PacketBatch{
		Channel: ChannelLabel(channel),
		Batches: make([][]Packet, numBatches),
	}

	var buffer [PacketDataSize]byte

	for i := range batch.Batches {
		numPackets, err := d.u64()
		if err != nil {
			return nil, err
		}

		if numPackets > maxPacketsPerBatch {
			return nil, fmt.Errorf("%w: %d packets", ErrCorruptFrame, numPackets)
		}

		packets := make([]Packet, numPackets)
		for j := range packets {
			if err := d.packet(&packets[j], buffer[:]); err != nil {
				return nil, err
			}
		}

		batch.Batches[i] = packets
	}

	return batch, nil
}

func (d *decoder) packet(p *Packet, buffer []byte) error {
	if err := d.bytes(buffer); err != nil {
		return err
	}

	size, err := d.u64()
	if err != nil {
		return err
	}

	if size > PacketDataSize {
		return fmt.Errorf("%w: packet size %d", ErrCorruptFrame, size)
	}

	ipTag, err := d.u32()
	if err != nil {
		return err
	}

	switch ipTag {
	case ipTagV4:
		var ip [4]byte
		if err := d.bytes(ip[:]); err != nil {
			return err
		}

		p.Meta.Addr = netip.AddrFrom4(ip)
	case ipTagV6:
		var ip [16]byte
		if err := d.bytes(ip[:]); err != nil {
			return err
		}

		p.Meta.Addr = netip.AddrFrom16(ip)
	default:
		return fmt.Errorf("%w: ip tag %d", ErrCorruptFrame, ipTag)
	}

	if p.Meta.Port, err = d.u16(); err != nil {
		return err
	}

	flags, err := d.u8()
	if err != nil {
		return err
	}

	p.Meta.Size = size
	p.Meta.Flags = PacketFlags(flags)
	p.Payload = append([]byte(nil), buffer[:size]...)

	return nil
}

func (d *decoder) slotBoundary() (*SlotBoundary, error) {
	slot, err := d.u64()
	if err != nil {
		return nil, err
	}

	boundary := &SlotBoundary{Slot: slot}

	if err := d.bytes(boundary.BlockHash[:]); err != nil {
		return nil, err
	}

	if err := d.bytes(boundary.BankHash[:]); err != nil {
		return nil, err
	}

	return boundary, nil
}

// encodeEvent writes one frame.
func encodeEvent(enc *bin.Encoder, ev TimedEvent) error {
	secs := ev.Timestamp.Unix()
	if secs < 0 {
		return fmt.Errorf("timestamp %s before unix epoch", ev.Timestamp)
	}

	if err := enc.WriteUint64(uint64(secs), binary.LittleEndian); err != nil {
		return err
	}

	if err := enc.WriteUint32(uint32(ev.Timestamp.Nanosecond()), binary.LittleEndian); err != nil {
		return err
	}

	switch e := ev.Event.(type) {
	case *PacketBatch:
		return encodePacketBatch(enc, e)
	case *SlotBoundary:
		return encodeSlotBoundary(enc, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev.Event)
	}
}

func encodePacketBatch(enc *bin.Encoder, batch *PacketBatch) error {
	if err := enc.WriteUint32(tagPacketBatch, binary.LittleEndian); err != nil {
		return err
	}

	if err := enc.WriteUint32(uint32(batch.Channel), binary.LittleEndian); err != nil {
		return err
	}

	if err := enc.WriteUint64(uint64(len(batch.Batches)), binary.LittleEndian); err != nil {
		return err
	}

	for _, packets := range batch.Batches {
		if err := enc.WriteUint64(uint64(len(packets)), binary.LittleEndian); err != nil {
			return err
		}

		for i := range packets {
			if err := encodePacket(enc, &packets[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

func encodePacket(enc *bin.Encoder, p *Packet) error {
	if len(p.Payload) > PacketDataSize {
		return fmt.Errorf("packet payload of %d bytes exceeds %d", len(p.Payload), PacketDataSize)
	}

	var buffer [PacketDataSize]byte
	copy(buffer[:], p.Payload)

	if err := enc.WriteBytes(buffer[:], false); err != nil {
		return err
	}

	if err := enc.WriteUint64(uint64(len(p.Payload)), binary.LittleEndian); err != nil {
		return err
	}

	addr := p.Meta.Addr
	if !addr.IsValid() {
		addr = netip.IPv4Unspecified()
	}

	if addr.Is4() {
		ip := addr.As4()
		if err := enc.WriteUint32(ipTagV4, binary.LittleEndian); err != nil {
			return err
		}

		if err := enc.WriteBytes(ip[:], false); err != nil {
			return err
		}
	} else {
		ip := addr.As16()
		if err := enc.WriteUint32(ipTagV6, binary.LittleEndian); err != nil {
			return err
		}

		if err := enc.WriteBytes(ip[:], false); err != nil {
			return err
		}
	}

	if err := enc.WriteUint16(p.Meta.Port, binary.LittleEndian); err != nil {
		return err
	}

	return enc.WriteUint8(uint8(p.Meta.Flags))
}

func encodeSlotBoundary(enc *bin.Encoder, boundary *SlotBoundary) error {
	if err := enc.WriteUint32(tagSlotBoundary, binary.LittleEndian); err != nil {
		return err
	}

	if err := enc.WriteUint64(boundary.Slot, binary.LittleEndian); err != nil {
		return err
	}

	if err := enc.WriteBytes(boundary.BlockHash[:], false); err != nil {
		return err
	}

	return enc.WriteBytes(boundary.BankHash[:], false)
}
