// Package uapi provides the Linux kernel UAPI definitions the Binder
// process subsystem exposes over ioctl(2).
package uapi

// ioctl encoding constants, matching asm-generic/ioctl.h.
const (
	_IOC_WRITE     = 1
	_IOC_READ      = 2
	_IOC_SIZEBITS  = 14
	_IOC_DIRBITS   = 2
	_IOC_TYPEBITS  = 8
	_IOC_NRBITS    = 8
	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS

	binderIOCMagic = 'b'
)

// IoctlEncode creates an ioctl command number the same way _IOC() does.
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

func ior(nr, size uint32) uint32  { return IoctlEncode(_IOC_READ, binderIOCMagic, nr, size) }
func iow(nr, size uint32) uint32  { return IoctlEncode(_IOC_WRITE, binderIOCMagic, nr, size) }
func iowr(nr, size uint32) uint32 { return IoctlEncode(_IOC_READ|_IOC_WRITE, binderIOCMagic, nr, size) }

// Ioctl command numbers for /dev/binder, matching
// include/uapi/linux/android/binder.h.
var (
	BinderWriteRead         = iowr(1, 24) // sizeof(struct binder_write_read)
	BinderSetIdleTimeout    = iow(3, 8)
	BinderSetMaxThreads     = iow(5, 4)
	BinderSetIdlePriority   = iow(6, 4)
	BinderSetContextMgr     = iow(7, 4)
	BinderThreadExit        = iow(8, 4)
	BinderVersionIoctl      = iowr(9, uint32(sizeofBinderVersion))
	BinderGetNodeDebugInfo  = iowr(11, uint32(sizeofBinderNodeDebugInfo))
	BinderGetNodeInfoForRef = iowr(12, uint32(sizeofBinderNodeInfoForRef))
	BinderSetContextMgrExt  = iow(13, 24) // sizeof(struct flat_binder_object)
	BinderFreezeIoctl       = iow(14, uint32(sizeofBinderFreezeInfo))
	BinderGetFrozenInfo     = iowr(15, uint32(sizeofBinderFrozenStatusInfo))
	BinderEnableOnewaySpam  = iow(16, 4)
	BinderGetExtendedError  = iowr(17, 16) // sizeof(struct binder_extended_error)
)

const (
	sizeofBinderVersion            = 4
	sizeofBinderFreezeInfo          = 12
	sizeofBinderFrozenStatusInfo    = 12
	sizeofBinderNodeDebugInfo       = 24
	sizeofBinderNodeInfoForRef      = 24
)

// Binder command-payload opcodes relevant to this subsystem's BC_*/BR_*
// vocabulary, as pushed/returned through binder_write_read.
const (
	BCIncRefsDone = 0x0206
	BCAcquireDone = 0x0207
	BCFreeBuffer  = 0x0209
	BCExitLooper  = 0x0216
	BCEnterLooper = 0x0219
	BCRegisterLooper = 0x0218
	BCRequestDeathNotification = 0x0210
	BCClearDeathNotification   = 0x0211
	BCDeadBinderDone           = 0x0212
)

const (
	BRTransactionComplete = 0x0209
	BRIncRefs             = 0x020a
	BRAcquire             = 0x020b
	BRRelease             = 0x020c
	BRDecRefs             = 0x020d
	BRDeadBinder          = 0x020f
	BRClearDeathNotificationDone = 0x0210
	BRDeadReply           = 0x0211
	BRSpawnLooper         = 0x0213
	BRError               = 0x0201
	BRFrozenBinder        = 0x0215
	BRClearFreezeNotificationDone = 0x0216
)
