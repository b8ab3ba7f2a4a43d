package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/setl/internal/grid"
	"github.com/danmuck/setl/internal/match"
	"github.com/danmuck/setl/internal/protocol/schema"
	"github.com/danmuck/setl/internal/protocol/tlv"
)

var ErrMalformedPayload = errors.New("session: malformed payload")

// Scalars is the run description broadcast before any grid data. A
// non-empty Abort tells workers the coordinator failed and no data follows.
type Scalars struct {
	GridSize    int
	PatternSize int
	Generations int
	Margin      int
	Abort       string
}

// Pattern carries one rotation of the target pattern.
type Pattern struct {
	Rotation grid.Rotation
	Size     int
	Cells    []byte
}

// Slice carries a contiguous run of padded world rows.
type Slice struct {
	StartRow int
	RowCount int
	Stride   int
	Cells    []byte
}

// Halo carries one boundary row for a generation.
type Halo struct {
	Generation int
	Cells      []byte
}

// MatchRun carries one worker's records for a (generation, rotation) key.
type MatchRun struct {
	Generation int
	Rotation   grid.Rotation
	Records    []match.Record
}

func EncodeScalars(s Scalars) ([]byte, error) {
	if s.Margin < 0 {
		return nil, fmt.Errorf("%w: unresolved margin %d", ErrMalformedPayload, s.Margin)
	}
	fields := []tlv.Field{
		tlv.NewU32(schema.FieldGridSize, uint32(s.GridSize)),
		tlv.NewU32(schema.FieldPatternSize, uint32(s.PatternSize)),
		tlv.NewU32(schema.FieldGenerations, uint32(s.Generations)),
		tlv.NewU32(schema.FieldMargin, uint32(s.Margin)),
	}
	if s.Abort != "" {
		fields = append(fields, tlv.NewString(schema.FieldAbort, s.Abort))
	}
	return encode(schema.MsgScalars, fields)
}

func DecodeScalars(payload []byte) (Scalars, error) {
	fields, err := decode(schema.MsgScalars, payload)
	if err != nil {
		return Scalars{}, err
	}
	r := fieldReader{fields: fields}
	s := Scalars{
		GridSize:    r.u32(schema.FieldGridSize),
		PatternSize: r.u32(schema.FieldPatternSize),
		Generations: r.u32(schema.FieldGenerations),
		Margin:      r.u32(schema.FieldMargin),
	}
	if err := r.result(); err != nil {
		return Scalars{}, err
	}
	if f, ok := tlv.GetField(fields, schema.FieldAbort); ok {
		if err := tlv.MustType(f, tlv.TypeString); err != nil {
			return Scalars{}, err
		}
		s.Abort = string(f.Value)
	}
	return s, nil
}

func EncodePattern(p Pattern) ([]byte, error) {
	if len(p.Cells) != p.Size*p.Size {
		return nil, fmt.Errorf("%w: pattern %d cells for size %d", ErrMalformedPayload, len(p.Cells), p.Size)
	}
	return encode(schema.MsgPattern, []tlv.Field{
		tlv.NewU8(schema.FieldRotation, uint8(p.Rotation)),
		tlv.NewU32(schema.FieldPatternSize, uint32(p.Size)),
		tlv.NewBytes(schema.FieldCells, p.Cells),
	})
}

func DecodePattern(payload []byte) (Pattern, error) {
	fields, err := decode(schema.MsgPattern, payload)
	if err != nil {
		return Pattern{}, err
	}
	r := fieldReader{fields: fields}
	rot := r.u8(schema.FieldRotation)
	p := Pattern{
		Rotation: grid.Rotation(rot),
		Size:     r.u32(schema.FieldPatternSize),
		Cells:    r.bytes(schema.FieldCells),
	}
	if err := r.result(); err != nil {
		return Pattern{}, err
	}
	if p.Rotation >= grid.NumRotations {
		return Pattern{}, fmt.Errorf("%w: rotation %d", ErrMalformedPayload, rot)
	}
	if len(p.Cells) != p.Size*p.Size {
		return Pattern{}, fmt.Errorf("%w: pattern %d cells for size %d", ErrMalformedPayload, len(p.Cells), p.Size)
	}
	return p, nil
}

func EncodeSlice(s Slice) ([]byte, error) {
	if len(s.Cells) != s.RowCount*s.Stride {
		return nil, fmt.Errorf("%w: slice %d cells for %dx%d", ErrMalformedPayload, len(s.Cells), s.RowCount, s.Stride)
	}
	return encode(schema.MsgSlice, []tlv.Field{
		tlv.NewU32(schema.FieldStartRow, uint32(s.StartRow)),
		tlv.NewU32(schema.FieldRowCount, uint32(s.RowCount)),
		tlv.NewU32(schema.FieldStride, uint32(s.Stride)),
		tlv.NewBytes(schema.FieldCells, s.Cells),
	})
}

func DecodeSlice(payload []byte) (Slice, error) {
	fields, err := decode(schema.MsgSlice, payload)
	if err != nil {
		return Slice{}, err
	}
	r := fieldReader{fields: fields}
	s := Slice{
		StartRow: r.u32(schema.FieldStartRow),
		RowCount: r.u32(schema.FieldRowCount),
		Stride:   r.u32(schema.FieldStride),
		Cells:    r.bytes(schema.FieldCells),
	}
	if err := r.result(); err != nil {
		return Slice{}, err
	}
	if len(s.Cells) != s.RowCount*s.Stride {
		return Slice{}, fmt.Errorf("%w: slice %d cells for %dx%d", ErrMalformedPayload, len(s.Cells), s.RowCount, s.Stride)
	}
	return s, nil
}

// EncodeHalo serves both halo directions; the tag kind tells them apart.
func EncodeHalo(kind uint32, h Halo) ([]byte, error) {
	if kind != schema.MsgHaloDown && kind != schema.MsgHaloUp {
		return nil, fmt.Errorf("%w: kind %s is not a halo", ErrMalformedPayload, schema.KindName(kind))
	}
	return encode(kind, []tlv.Field{
		tlv.NewU32(schema.FieldGeneration, uint32(h.Generation)),
		tlv.NewBytes(schema.FieldCells, h.Cells),
	})
}

func DecodeHalo(kind uint32, payload []byte) (Halo, error) {
	fields, err := decode(kind, payload)
	if err != nil {
		return Halo{}, err
	}
	r := fieldReader{fields: fields}
	h := Halo{
		Generation: r.u32(schema.FieldGeneration),
		Cells:      r.bytes(schema.FieldCells),
	}
	if err := r.result(); err != nil {
		return Halo{}, err
	}
	return h, nil
}

func EncodeMatchCount(n uint64) ([]byte, error) {
	return encode(schema.MsgMatchCount, []tlv.Field{
		tlv.NewU64(schema.FieldMatchCount, n),
	})
}

func DecodeMatchCount(payload []byte) (uint64, error) {
	fields, err := decode(schema.MsgMatchCount, payload)
	if err != nil {
		return 0, err
	}
	r := fieldReader{fields: fields}
	n := r.u64(schema.FieldMatchCount)
	return n, r.result()
}

// EncodeMatchRun packs each record as a big-endian (row, col) u32 pair. All
// records must share the run's key.
func EncodeMatchRun(run MatchRun) ([]byte, error) {
	packed := make([]byte, 0, 8*len(run.Records))
	for _, r := range run.Records {
		if r.Generation != run.Generation || r.Rotation != run.Rotation {
			return nil, fmt.Errorf("%w: record %s outside run %d:%d", ErrMalformedPayload, r, run.Generation, run.Rotation)
		}
		if r.Row < 0 || r.Col < 0 || uint64(r.Row) > math.MaxUint32 || uint64(r.Col) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: record %s out of range", ErrMalformedPayload, r)
		}
		packed = binary.BigEndian.AppendUint32(packed, uint32(r.Row))
		packed = binary.BigEndian.AppendUint32(packed, uint32(r.Col))
	}
	return encode(schema.MsgMatchRun, []tlv.Field{
		tlv.NewU32(schema.FieldGeneration, uint32(run.Generation)),
		tlv.NewU8(schema.FieldRotation, uint8(run.Rotation)),
		tlv.NewU64(schema.FieldMatchCount, uint64(len(run.Records))),
		tlv.NewBytes(schema.FieldRecords, packed),
	})
}

func DecodeMatchRun(payload []byte) (MatchRun, error) {
	fields, err := decode(schema.MsgMatchRun, payload)
	if err != nil {
		return MatchRun{}, err
	}
	r := fieldReader{fields: fields}
	generation := r.u32(schema.FieldGeneration)
	rot := r.u8(schema.FieldRotation)
	count := r.u64(schema.FieldMatchCount)
	packed := r.bytes(schema.FieldRecords)
	if err := r.result(); err != nil {
		return MatchRun{}, err
	}
	if grid.Rotation(rot) >= grid.NumRotations {
		return MatchRun{}, fmt.Errorf("%w: rotation %d", ErrMalformedPayload, rot)
	}
	if len(packed)%8 != 0 || uint64(len(packed))/8 != count {
		return MatchRun{}, fmt.Errorf("%w: %d record bytes for count %d", ErrMalformedPayload, len(packed), count)
	}
	run := MatchRun{
		Generation: generation,
		Rotation:   grid.Rotation(rot),
		Records:    make([]match.Record, 0, len(packed)/8),
	}
	for off := 0; off < len(packed); off += 8 {
		run.Records = append(run.Records, match.Record{
			Generation: run.Generation,
			Row:        int(binary.BigEndian.Uint32(packed[off:])),
			Col:        int(binary.BigEndian.Uint32(packed[off+4:])),
			Rotation:   run.Rotation,
		})
	}
	return run, nil
}

func encode(kind uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return tlv.EncodeFields(fields), nil
}

func decode(kind uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// fieldReader reads ids schema.Validate already required and keeps the
// first accessor error. Validate checks type tags but not value lengths.
type fieldReader struct {
	fields []tlv.Field
	err    error
}

func (r *fieldReader) field(id uint16) tlv.Field {
	f, ok := tlv.GetField(r.fields, id)
	if !ok && r.err == nil {
		r.err = fmt.Errorf("field %d missing", id)
	}
	return f
}

func (r *fieldReader) fail(id uint16, err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("field %d: %w", id, err)
	}
}

func (r *fieldReader) u8(id uint16) uint8 {
	v, err := r.field(id).U8()
	r.fail(id, err)
	return v
}

func (r *fieldReader) u32(id uint16) int {
	v, err := r.field(id).U32()
	r.fail(id, err)
	return int(v)
}

func (r *fieldReader) u64(id uint16) uint64 {
	v, err := r.field(id).U64()
	r.fail(id, err)
	return v
}

func (r *fieldReader) bytes(id uint16) []byte {
	return r.field(id).Value
}

// result wraps the first failure in ErrMalformedPayload.
func (r *fieldReader) result() error {
	if r.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformedPayload, r.err)
}
