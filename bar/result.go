/*
NAME
  result.go

DESCRIPTION
  result.go defines Result, the routing API's richer outcome enum, kept
  alongside idiomatic (ID, error) returns elsewhere in the facade because
  connect must distinguish two already-connected cases the Go error
  alone would flatten, per SPEC_FULL.md §6.

AUTHORS
  Audio bar contributors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package bar

// Result is the routing API's outcome code, per spec.md §6:
// `connect(sourceId, sinkId) -> {Ok, Failed, SourceAlreadyConnected,
// SinkAlreadyConnected, ...}`.
type Result int

const (
	Ok Result = iota
	Failed
	SourceAlreadyConnected
	SinkAlreadyConnected
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	case SourceAlreadyConnected:
		return "source already connected"
	case SinkAlreadyConnected:
		return "sink already connected"
	default:
		return "unknown"
	}
}
