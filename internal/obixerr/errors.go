// Package obixerr implements the oBIX error-contract taxonomy: a single
// enumerated set of error kinds, each carrying a stable contract URI and a
// human display message, that every subsystem returns instead of panicking.
package obixerr

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Kind enumerates the error taxonomy of the oBIX core.
type Kind int

// The full taxonomy. Values are stable for the lifetime of the server;
// do not renumber.
const (
	NoInput Kind = iota
	NoHref
	NoName
	NoRequesterID
	NoSuchURI
	NoMem
	NoOpNode
	NoMetaNode
	InvalidInput
	InvalidHref
	InvalidMeta
	InvalidArgument
	InvalidState
	InvalidObj
	TsCompare
	TsObsolete
	ReadonlyHref
	PermDenied
	DiskIO
	DeviceConflictOwner
	DeviceExists
	DeviceOrphan
	DeviceNoSuchURI
	DeviceChildren
	WatchNoSuchURI
	WatchNoMonitoredURI
	HistoryDevID
	HistoryIO
	HistoryData
	HistoryEmpty
	BatchRecursive
	BatchHistory
	BatchPollChanges
)

var contracts = map[Kind]string{
	NoInput:             "obix:NoInputContract",
	NoHref:              "obix:NoHrefContract",
	NoName:              "obix:NoNameContract",
	NoRequesterID:       "obix:NoRequesterIdContract",
	NoSuchURI:           "obix:BadUriContract",
	NoMem:               "obix:NoMemContract",
	NoOpNode:            "obix:NoOpNodeContract",
	NoMetaNode:          "obix:NoMetaNodeContract",
	InvalidInput:        "obix:InvalidInputContract",
	InvalidHref:         "obix:InvalidHrefContract",
	InvalidMeta:         "obix:InvalidMetaContract",
	InvalidArgument:     "obix:InvalidArgumentContract",
	InvalidState:        "obix:InvalidStateContract",
	InvalidObj:          "obix:InvalidObjContract",
	TsCompare:           "obix:TimestampCompareContract",
	TsObsolete:          "obix:TimestampObsoleteContract",
	ReadonlyHref:        "obix:ReadonlyHrefContract",
	PermDenied:          "obix:PermissionDeniedContract",
	DiskIO:              "obix:DiskIoContract",
	DeviceConflictOwner: "obix:DeviceConflictOwnerContract",
	DeviceExists:        "obix:DeviceExistsContract",
	DeviceOrphan:        "obix:DeviceOrphanContract",
	DeviceNoSuchURI:     "obix:DeviceBadUriContract",
	DeviceChildren:      "obix:DeviceChildrenContract",
	WatchNoSuchURI:      "obix:WatchBadUriContract",
	WatchNoMonitoredURI: "obix:WatchNoMonitoredUriContract",
	HistoryDevID:        "obix:HistoryDevIdContract",
	HistoryIO:           "obix:HistoryIoContract",
	HistoryData:         "obix:HistoryDataContract",
	HistoryEmpty:        "obix:HistoryEmptyContract",
	BatchRecursive:      "obix:BatchRecursiveContract",
	BatchHistory:        "obix:BatchHistoryContract",
	BatchPollChanges:    "obix:BatchPollChangesContract",
}

// ContractType returns the stable contract URI for k.
func (k Kind) ContractType() string {
	if c, ok := contracts[k]; ok {
		return c
	}
	return "obix:UnknownErrorContract"
}

// Error is a structured, zap-loggable error carrying an oBIX error kind,
// the href that triggered it, a display message, and arbitrary key/value
// context for logging.
type Error struct {
	Kind    Kind
	Href    string
	Display string
	kv      []interface{}
}

// New constructs an *Error. kv is an optional list of alternating
// key/value pairs logged alongside the error, in the style of zap's
// sugared logging calls.
func New(kind Kind, href, display string, kv ...interface{}) *Error {
	return &Error{Kind: kind, Href: href, Display: display, kv: kv}
}

func (e *Error) Error() string {
	if e.Href != "" {
		return fmt.Sprintf("%s: %s (href=%s)", e.Kind.ContractType(), e.Display, e.Href)
	}
	return fmt.Sprintf("%s: %s", e.Kind.ContractType(), e.Display)
}

// MarshalLogObject implements zapcore.ObjectMarshaler so handlers can log
// an *Error with zap.Object.
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("contract", e.Kind.ContractType())
	enc.AddString("href", e.Href)
	enc.AddString("display", e.Display)
	for i := 0; i+1 < len(e.kv); i += 2 {
		key, ok := e.kv[i].(string)
		if !ok {
			continue
		}
		enc.AddReflected(key, e.kv[i+1])
	}
	return nil
}

// Fatal is a preallocated error for the case where constructing an
// ordinary error node itself fails. Nothing in this repository returns
// it: Tree.DumpError falls back to a bare obix:err node instead.
var Fatal = New(InvalidState, "", "internal error: failed to construct error contract")
