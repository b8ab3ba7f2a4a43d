package schema

import (
	"fmt"

	"github.com/danmuck/setl/internal/logging"
	"github.com/danmuck/setl/internal/protocol/tlv"
)

// Message kinds. The frame header's Kind carries one of these and Seq
// carries the per-kind sequence (generation, rotation, or key index).
const (
	MsgScalars    uint32 = 1
	MsgPattern    uint32 = 2
	MsgSlice      uint32 = 3
	MsgHaloDown   uint32 = 4
	MsgHaloUp     uint32 = 5
	MsgMatchCount uint32 = 6
	MsgMatchRun   uint32 = 7
)

// Field IDs.
const (
	FieldGridSize    uint16 = 1
	FieldPatternSize uint16 = 2
	FieldGenerations uint16 = 3
	FieldMargin      uint16 = 4
	FieldAbort       uint16 = 5

	FieldRotation uint16 = 100
	FieldCells    uint16 = 101

	FieldStartRow uint16 = 200
	FieldRowCount uint16 = 201
	FieldStride   uint16 = 202

	FieldGeneration uint16 = 300

	FieldMatchCount uint16 = 400
	FieldRecords    uint16 = 401
)

// KindName renders a message kind for logs and metric labels.
func KindName(kind uint32) string {
	switch kind {
	case MsgScalars:
		return "scalars"
	case MsgPattern:
		return "pattern"
	case MsgSlice:
		return "slice"
	case MsgHaloDown:
		return "halo_down"
	case MsgHaloUp:
		return "halo_up"
	case MsgMatchCount:
		return "match_count"
	case MsgMatchRun:
		return "match_run"
	default:
		return fmt.Sprintf("kind_%d", kind)
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgScalars: {
		{FieldGridSize, tlv.TypeU32},
		{FieldPatternSize, tlv.TypeU32},
		{FieldGenerations, tlv.TypeU32},
		{FieldMargin, tlv.TypeU32},
	},
	MsgPattern: {
		{FieldRotation, tlv.TypeU8},
		{FieldPatternSize, tlv.TypeU32},
		{FieldCells, tlv.TypeBytes},
	},
	MsgSlice: {
		{FieldStartRow, tlv.TypeU32},
		{FieldRowCount, tlv.TypeU32},
		{FieldStride, tlv.TypeU32},
		{FieldCells, tlv.TypeBytes},
	},
	MsgHaloDown: {
		{FieldGeneration, tlv.TypeU32},
		{FieldCells, tlv.TypeBytes},
	},
	MsgHaloUp: {
		{FieldGeneration, tlv.TypeU32},
		{FieldCells, tlv.TypeBytes},
	},
	MsgMatchCount: {
		{FieldMatchCount, tlv.TypeU64},
	},
	MsgMatchRun: {
		{FieldGeneration, tlv.TypeU32},
		{FieldRotation, tlv.TypeU8},
		{FieldMatchCount, tlv.TypeU64},
		{FieldRecords, tlv.TypeBytes},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logging.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Errf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Errf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	logging.Tracef("schema.Validate ok message_type=%s", KindName(messageType))
	return nil
}
