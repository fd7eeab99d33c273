package pointcloud

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Point is one decoded point record.
type Point struct {
	X, Y, Z        float64
	Intensity      uint16
	Classification uint8
	R, G, B        uint16
}

// layout gives the byte offsets of the fields used for tiling.
type layout struct {
	class int
	rgb   int // -1 without color
}

func layoutFor(format uint8) (layout, error) {
	switch format {
	case 0, 1:
		return layout{class: 15, rgb: -1}, nil
	case 2:
		return layout{class: 15, rgb: 20}, nil
	case 3, 5:
		return layout{class: 15, rgb: 28}, nil
	case 4:
		return layout{class: 15, rgb: -1}, nil
	case 6, 9:
		return layout{class: 16, rgb: -1}, nil
	case 7, 8, 10:
		return layout{class: 16, rgb: 30}, nil
	}
	return layout{}, fmt.Errorf("unsupported point format %d", format)
}

// ForEach decodes every point record of an uncompressed file in order and
// calls fn. It stops at the first error returned by fn or on ctx.Done().
func (h *Header) ForEach(ctx context.Context, r io.ReaderAt, fn func(Point) error) error {
	if h.Compressed {
		return ErrCompressed
	}
	lay, err := layoutFor(h.PointFormat)
	if err != nil {
		return err
	}
	recLen := int(h.PointRecordLength)
	if recLen < 20 {
		return fmt.Errorf("point record length %d too small", recLen)
	}

	const batch = 4096
	buf := make([]byte, recLen*batch)
	le := binary.LittleEndian
	off := int64(h.OffsetToPoints)

	for remaining := h.PointCount; remaining > 0; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := uint64(batch)
		if remaining < n {
			n = remaining
		}
		chunk := buf[:int(n)*recLen]
		if _, err := r.ReadAt(chunk, off); err != nil {
			return fmt.Errorf("read points at %d: %w", off, err)
		}
		for i := 0; i < int(n); i++ {
			rec := chunk[i*recLen : (i+1)*recLen]
			p := Point{
				X:         float64(int32(le.Uint32(rec[0:])))*h.Scale[0] + h.Offset[0],
				Y:         float64(int32(le.Uint32(rec[4:])))*h.Scale[1] + h.Offset[1],
				Z:         float64(int32(le.Uint32(rec[8:])))*h.Scale[2] + h.Offset[2],
				Intensity: le.Uint16(rec[12:]),
			}
			if lay.class < recLen {
				p.Classification = rec[lay.class]
			}
			if lay.rgb >= 0 && lay.rgb+6 <= recLen {
				p.R = le.Uint16(rec[lay.rgb:])
				p.G = le.Uint16(rec[lay.rgb+2:])
				p.B = le.Uint16(rec[lay.rgb+4:])
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		off += int64(n) * int64(recLen)
		remaining -= n
	}
	return nil
}
