// Package uapi holds the fixed-layout structures exchanged across the
// Binder ioctl boundary, plus their little-endian marshal/unmarshal pairs.
package uapi

import "unsafe"

// BinderVersion is returned by BINDER_VERSION.
//
//	struct binder_version {
//	  __s32 protocol_version;
//	};
type BinderVersion struct {
	ProtocolVersion int32
}

var _ [4]byte = [unsafe.Sizeof(BinderVersion{})]byte{}

// CurrentProtocolVersion matches the kernel's BINDER_CURRENT_PROTOCOL_VERSION.
const CurrentProtocolVersion int32 = 8

// BinderFreezeInfo is the argument to BINDER_FREEZE.
//
//	struct binder_freeze_info {
//	  __u32 pid;
//	  __u32 enable;
//	  __u32 timeout_ms;
//	};
type BinderFreezeInfo struct {
	PID       uint32
	Enable    uint32
	TimeoutMs uint32
}

var _ [12]byte = [unsafe.Sizeof(BinderFreezeInfo{})]byte{}

// BinderFrozenStatusInfo is returned by BINDER_GET_FROZEN_INFO.
//
//	struct binder_frozen_status_info {
//	  __u32 pid;
//	  __u32 sync_recv;
//	  __u32 async_recv;
//	};
//
// sync_recv bit 0: sync transaction received while frozen.
// sync_recv bit 1: in the kernel ABI, transactions were still pending when
// the status was taken. Nothing in this module sets it; only bit 0 is
// ever reported.
// async_recv bit 0: async transaction received while frozen.
type BinderFrozenStatusInfo struct {
	PID       uint32
	SyncRecv  uint32
	AsyncRecv uint32
}

var _ [12]byte = [unsafe.Sizeof(BinderFrozenStatusInfo{})]byte{}

// BinderNodeDebugInfo is returned by BINDER_GET_NODE_DEBUG_INFO.
//
//	struct binder_node_debug_info {
//	  binder_uintptr_t ptr;
//	  binder_uintptr_t cookie;
//	  __u32 has_strong_ref;
//	  __u32 has_weak_ref;
//	};
type BinderNodeDebugInfo struct {
	Ptr          uint64
	Cookie       uint64
	HasStrongRef uint32
	HasWeakRef   uint32
}

var _ [24]byte = [unsafe.Sizeof(BinderNodeDebugInfo{})]byte{}

// BinderNodeInfoForRef is the argument/result of BINDER_GET_NODE_INFO_FOR_REF.
//
//	struct binder_node_info_for_ref {
//	  __u32 handle;
//	  __u32 strong_count;
//	  __u32 weak_count;
//	  __u32 reserved1;
//	  __u32 reserved2;
//	  __u32 reserved3;
//	};
type BinderNodeInfoForRef struct {
	Handle      uint32
	StrongCount uint32
	WeakCount   uint32
	Reserved1   uint32
	Reserved2   uint32
	Reserved3   uint32
}

var _ [24]byte = [unsafe.Sizeof(BinderNodeInfoForRef{})]byte{}

// FlatBinderObject is the wire representation of a node/handle crossing a
// transaction boundary, as written into a BC_TRANSACTION buffer.
//
//	struct flat_binder_object {
//	  __u32 type;
//	  __u32 flags;
//	  union {
//	    binder_uintptr_t binder;  // local object token (BINDER_TYPE_BINDER)
//	    __u32 handle;             // remote object handle (BINDER_TYPE_HANDLE)
//	  };
//	  binder_uintptr_t cookie;
//	};
type FlatBinderObject struct {
	Type   uint32
	Flags  uint32
	Binder uint64 // overlaps Handle for BINDER_TYPE_HANDLE objects
	Cookie uint64
}

var _ [24]byte = [unsafe.Sizeof(FlatBinderObject{})]byte{}

// Handle returns the low 32 bits of the Binder field, the layout a
// BINDER_TYPE_HANDLE/BINDER_TYPE_WEAK_HANDLE object actually uses.
func (f *FlatBinderObject) Handle() uint32 { return uint32(f.Binder) }

// SetHandle packs a handle into the union field.
func (f *FlatBinderObject) SetHandle(h uint32) { f.Binder = uint64(h) }

// Object type tags (BINDER_TYPE_*).
const (
	TypeBinder      uint32 = 0x85
	TypeWeakBinder   uint32 = 0x86
	TypeHandle       uint32 = 0x87
	TypeWeakHandle   uint32 = 0x88
	TypeFD           uint32 = 0x89
	TypeFDA          uint32 = 0x8a
	TypePtr          uint32 = 0x8b
)

// Object flags relevant to this subsystem (FLAT_BINDER_FLAG_*).
const (
	FlagAcceptFDs       uint32 = 0x100
	FlagTxnSecurityCtx  uint32 = 0x1000
	FlagPriorityMask    uint32 = 0xff
	FlagSchedPolicyMask uint32 = 0x3 << 9
)
