package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

var byteOrder = binary.BigEndian

const (
	messageTypeSize = 2
	lengthSize      = 4
	frameHeaderSize = messageTypeSize + lengthSize

	// MaxFrameSize caps a single frame payload (4MB) to avoid abuse.
	MaxFrameSize = 4 * 1024 * 1024
)

// Codec frames messages as [2-byte type][4-byte length][JSON payload],
// big-endian. Watch streams are a sequence of MsgWatchEvent frames on one
// connection.
type Codec struct{}

func (c *Codec) Encode(w io.Writer, msg any) error {
	var mType MessageType
	var payload []byte
	var err error
	switch v := msg.(type) {
	case JoinRequest, *JoinRequest:
		mType = MsgJoin
		payload, err = json.Marshal(v)
	case JoinResponse, *JoinResponse:
		mType = MsgJoinResp
		payload, err = json.Marshal(v)
	case WatchRequest, *WatchRequest:
		mType = MsgWatch
		payload, err = json.Marshal(v)
	case WatchResponse, *WatchResponse:
		mType = MsgWatchEvent
		payload, err = json.Marshal(v)
	case ReportRequest, *ReportRequest:
		mType = MsgReport
		payload, err = json.Marshal(v)
	case ReportResponse, *ReportResponse:
		mType = MsgReportResp
		payload, err = json.Marshal(v)
	case AllocReplicaRequest, *AllocReplicaRequest:
		mType = MsgAllocReplica
		payload, err = json.Marshal(v)
	case AllocReplicaResponse, *AllocReplicaResponse:
		mType = MsgAllocReplicaResp
		payload, err = json.Marshal(v)
	case AllocTxnIDRequest, *AllocTxnIDRequest:
		mType = MsgAllocTxnID
		payload, err = json.Marshal(v)
	case AllocTxnIDResponse, *AllocTxnIDResponse:
		mType = MsgAllocTxnIDResp
		payload, err = json.Marshal(v)
	case AdminRequest, *AdminRequest:
		mType = MsgAdmin
		payload, err = json.Marshal(v)
	case AdminResponse, *AdminResponse:
		mType = MsgAdminResp
		payload, err = json.Marshal(v)
	case RPCErrorResponse, *RPCErrorResponse:
		mType = MsgRPCError
		payload, err = json.Marshal(v)
	default:
		return ErrUnknownMessage(msg)
	}
	if err != nil {
		return err
	}
	return c.encodeFrame(w, mType, payload)
}

func (c *Codec) Decode(r io.Reader) (MessageType, any, error) {
	mType, payload, err := c.decodeFrame(r)
	if err != nil {
		return 0, nil, err
	}
	switch mType {
	case MsgJoin:
		var msg JoinRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgJoinResp:
		var msg JoinResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgWatch:
		var msg WatchRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgWatchEvent:
		var msg WatchResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgReport:
		var msg ReportRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgReportResp:
		var msg ReportResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAllocReplica:
		var msg AllocReplicaRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAllocReplicaResp:
		var msg AllocReplicaResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAllocTxnID:
		var msg AllocTxnIDRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAllocTxnIDResp:
		var msg AllocTxnIDResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAdmin:
		var msg AdminRequest
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgAdminResp:
		var msg AdminResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	case MsgRPCError:
		var msg RPCErrorResponse
		err = json.Unmarshal(payload, &msg)
		return mType, &msg, err
	default:
		return 0, nil, ErrUnknownMessageType(mType)
	}
}

func (c *Codec) encodeFrame(w io.Writer, mType MessageType, payload []byte) error {
	length := uint32(len(payload))
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	header := make([]byte, frameHeaderSize)
	byteOrder.PutUint16(header, uint16(mType))
	byteOrder.PutUint32(header[messageTypeSize:], length)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func (c *Codec) decodeFrame(r io.Reader) (mType MessageType, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	mType = MessageType(byteOrder.Uint16(header))
	length := byteOrder.Uint32(header[messageTypeSize:])
	if length > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return mType, payload, nil
}
