// Package libops implements the update-session transfer protocol: a
// client-side state machine for time-bounded item modification sessions,
// a transfer-spec classifier, an asynchronous push-upload driver, and the
// orchestrator that sequences open → register → transfer → keepalive →
// complete/fail against the management API.
//
// The authoritative session state lives on the remote service; Session is a
// local mirror refreshed after every mutating call. The DEFUNCT state is
// client-only and means "the session no longer exists server-side" — it is
// observed, never requested, and is terminal.
package libops
