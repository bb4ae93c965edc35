// Package engine contains the automation core: the eligibility engine
// that decides which users need a punch right now, the single-slot run
// lock serializing scheduled and manual triggers, the action executor
// with its retry loop, and the cycle processor orchestrating one pass.
//
// # Eligibility tiers
//
// Login is pursued in three tiers: the tolerance window around the
// jittered target, a bounded retry horizon with an attempt ceiling, and
// unbounded retry every cycle after the horizon expires. A login is
// only ever abandoned at the emergency-logout boundary. Logout has two
// tiers plus a fallback: the tolerance window, indefinite pursuit once
// logged in, and the fixed end-of-day emergency window that fires even
// when login never happened (a late partial punch beats none).
//
// # Concurrency
//
// One cycle at a time, process-wide, enforced cooperatively through
// Lock by every entry point. Within a cycle, actions run strictly
// sequentially: the portal automation behind the Provider is too heavy
// to fan out.
package engine
