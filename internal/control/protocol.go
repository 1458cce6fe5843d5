// Package control is C5: the length-framed binary control protocol server
// over a Unix-domain socket. Wire opcodes are grounded directly on
// original_source/src/control-cmds.h (dinit's own control-cmds.h); this
// file transcribes those constants into Go rather than reinventing a
// request shape, since the protocol itself (not just its intent) is part
// of what a dinitctl-compatible client needs to agree on.
package control

// Request opcodes (client -> server).
const (
	CPQueryVersion   byte = 0
	CPFindService    byte = 1
	CPLoadService    byte = 2
	CPStartService   byte = 3
	CPStopService    byte = 4
	CPWakeService    byte = 5
	CPReleaseService byte = 6
	CPUnpinService   byte = 7
	CPShutdown       byte = 10
)

// Reply opcodes (server -> client).
const (
	RPAck            byte = 50
	RPNak            byte = 51
	RPBadReq         byte = 52
	RPOom            byte = 53
	RPServiceLoadErr byte = 54
	RPServiceOom     byte = 55
	RPSSIssued       byte = 56
	RPSSRedundant    byte = 57
	RPCPVersion      byte = 58
	RPServiceRecord  byte = 59
	RPNoService      byte = 60
	RPAlreadySS      byte = 61
)

// Information opcodes (server -> client, unsolicited).
const (
	IPServiceEvent     byte = 100
	IPRollbackComplete byte = 101
)

// ProtocolVersion is the version this server and pkg/dinitclient agree on.
const ProtocolVersion uint16 = 1

// StopFlags bits for CPStopService's flag byte.
const (
	StopFlagForce      byte = 1 << 0 // bring down even if still depended on
	StopFlagRestart    byte = 1 << 1 // stop with intent to immediately restart
	StopFlagNoWaitDown byte = 1 << 2 // don't wait for children, just request
)

// StartFlags bits for CPStartService's flag byte.
const (
	StartFlagPin byte = 1 << 0 // pin started after reaching the target state
)
