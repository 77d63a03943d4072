package uapi

import "encoding/binary"

// Marshal converts a struct to bytes using the kernel's native (little
// endian) byte order.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *BinderVersion:
		return marshalVersion(val)
	case *BinderFreezeInfo:
		return marshalFreezeInfo(val)
	case *BinderFrozenStatusInfo:
		return marshalFrozenStatusInfo(val)
	case *BinderNodeDebugInfo:
		return marshalNodeDebugInfo(val)
	case *BinderNodeInfoForRef:
		return marshalNodeInfoForRef(val)
	case *FlatBinderObject:
		return marshalFlatBinderObject(val)
	default:
		return nil
	}
}

// Unmarshal converts bytes back to a struct.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *BinderVersion:
		return unmarshalVersion(data, val)
	case *BinderFreezeInfo:
		return unmarshalFreezeInfo(data, val)
	case *BinderFrozenStatusInfo:
		return unmarshalFrozenStatusInfo(data, val)
	case *BinderNodeDebugInfo:
		return unmarshalNodeDebugInfo(data, val)
	case *BinderNodeInfoForRef:
		return unmarshalNodeInfoForRef(data, val)
	case *FlatBinderObject:
		return unmarshalFlatBinderObject(data, val)
	default:
		return ErrUnknownType
	}
}

func marshalVersion(v *BinderVersion) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.ProtocolVersion))
	return buf
}

func unmarshalVersion(data []byte, v *BinderVersion) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	v.ProtocolVersion = int32(binary.LittleEndian.Uint32(data[0:4]))
	return nil
}

func marshalFreezeInfo(v *BinderFreezeInfo) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], v.PID)
	binary.LittleEndian.PutUint32(buf[4:8], v.Enable)
	binary.LittleEndian.PutUint32(buf[8:12], v.TimeoutMs)
	return buf
}

func unmarshalFreezeInfo(data []byte, v *BinderFreezeInfo) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	v.PID = binary.LittleEndian.Uint32(data[0:4])
	v.Enable = binary.LittleEndian.Uint32(data[4:8])
	v.TimeoutMs = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

func marshalFrozenStatusInfo(v *BinderFrozenStatusInfo) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], v.PID)
	binary.LittleEndian.PutUint32(buf[4:8], v.SyncRecv)
	binary.LittleEndian.PutUint32(buf[8:12], v.AsyncRecv)
	return buf
}

func unmarshalFrozenStatusInfo(data []byte, v *BinderFrozenStatusInfo) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	v.PID = binary.LittleEndian.Uint32(data[0:4])
	v.SyncRecv = binary.LittleEndian.Uint32(data[4:8])
	v.AsyncRecv = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

func marshalNodeDebugInfo(v *BinderNodeDebugInfo) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], v.Ptr)
	binary.LittleEndian.PutUint64(buf[8:16], v.Cookie)
	binary.LittleEndian.PutUint32(buf[16:20], v.HasStrongRef)
	binary.LittleEndian.PutUint32(buf[20:24], v.HasWeakRef)
	return buf
}

func unmarshalNodeDebugInfo(data []byte, v *BinderNodeDebugInfo) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	v.Ptr = binary.LittleEndian.Uint64(data[0:8])
	v.Cookie = binary.LittleEndian.Uint64(data[8:16])
	v.HasStrongRef = binary.LittleEndian.Uint32(data[16:20])
	v.HasWeakRef = binary.LittleEndian.Uint32(data[20:24])
	return nil
}

func marshalNodeInfoForRef(v *BinderNodeInfoForRef) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], v.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], v.StrongCount)
	binary.LittleEndian.PutUint32(buf[8:12], v.WeakCount)
	binary.LittleEndian.PutUint32(buf[12:16], v.Reserved1)
	binary.LittleEndian.PutUint32(buf[16:20], v.Reserved2)
	binary.LittleEndian.PutUint32(buf[20:24], v.Reserved3)
	return buf
}

func unmarshalNodeInfoForRef(data []byte, v *BinderNodeInfoForRef) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	v.Handle = binary.LittleEndian.Uint32(data[0:4])
	v.StrongCount = binary.LittleEndian.Uint32(data[4:8])
	v.WeakCount = binary.LittleEndian.Uint32(data[8:12])
	v.Reserved1 = binary.LittleEndian.Uint32(data[12:16])
	v.Reserved2 = binary.LittleEndian.Uint32(data[16:20])
	v.Reserved3 = binary.LittleEndian.Uint32(data[20:24])
	return nil
}

func marshalFlatBinderObject(v *FlatBinderObject) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], v.Type)
	binary.LittleEndian.PutUint32(buf[4:8], v.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], v.Binder)
	binary.LittleEndian.PutUint64(buf[16:24], v.Cookie)
	return buf
}

func unmarshalFlatBinderObject(data []byte, v *FlatBinderObject) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	v.Type = binary.LittleEndian.Uint32(data[0:4])
	v.Flags = binary.LittleEndian.Uint32(data[4:8])
	v.Binder = binary.LittleEndian.Uint64(data[8:16])
	v.Cookie = binary.LittleEndian.Uint64(data[16:24])
	return nil
}

// MarshalError is the error type produced by failed (un)marshal calls.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrUnknownType      MarshalError = "unknown type for unmarshaling"
)
