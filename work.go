package binder

// DeliverToRead is anything that can be handed to a thread's read side:
// a transaction, a refcount change notification, or a death
// notification. push_work queues or directly delivers a DeliverToRead the
// same way process.rs's trait object of the same name does; Kind exists so
// tests and DebugString can describe queued work without a type switch at
// every call site.
type DeliverToRead interface {
	Kind() string
}

// TransactionWork wraps an opaque transaction payload. The transaction
// marshalling/wire-format layer itself is out of scope (see SPEC_FULL.md
// Non-goals); Payload is treated as an opaque blob here.
type TransactionWork struct {
	Payload []byte
	Oneway  bool
	Reply   bool
}

func (*TransactionWork) Kind() string { return "transaction" }

// NodeWork carries a refcount change (BR_ACQUIRE/BR_RELEASE/BR_INCREFS/
// BR_DECREFS) that must reach the node's owner thread.
type NodeWork struct {
	Node      *Node
	Strong    bool
	Increment bool
}

func (*NodeWork) Kind() string { return "node_refcount" }

// DeathNotificationWork carries a BR_DEAD_BINDER notification.
type DeathNotificationWork struct {
	Death *NodeDeath
}

func (*DeathNotificationWork) Kind() string { return "dead_binder" }

// ClearDeathWork carries a BR_CLEAR_DEATH_NOTIFICATION_DONE acknowledgement.
type ClearDeathWork struct {
	Death *NodeDeath
}

func (*ClearDeathWork) Kind() string { return "clear_death_done" }

// FrozenBinderWork carries a BR_FROZEN_BINDER notification, delivered to a
// process that attempted a sync transaction into a frozen target.
type FrozenBinderWork struct {
	PID      int32
	IsFrozen bool
}

func (*FrozenBinderWork) Kind() string { return "frozen_binder" }
