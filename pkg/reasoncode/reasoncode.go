package reasoncode

import "fmt"

// Code is a broker-protocol reason/return code. The numeric values follow the
// MQTT client error enumeration so that codes read the same in logs regardless
// of which transport produced them.
type Code int

const (
	Again        Code = -1
	Success      Code = 0
	NoMem        Code = 1
	Protocol     Code = 2
	Inval        Code = 3
	NoConn       Code = 4
	ConnRefused  Code = 5
	NotFound     Code = 6
	ConnLost     Code = 7
	TLS          Code = 8
	PayloadSize  Code = 9
	NotSupported Code = 10
	Auth         Code = 11
	ACLDenied    Code = 12
	Unknown      Code = 13
	Errno        Code = 14
	QueueSize    Code = 15
)

type entry struct {
	name        string
	description string
}

// catalog is never written after package initialisation, so concurrent
// lookups from any number of workers need no locking.
var catalog = map[Code]entry{
	Again:        {"MQTT_ERR_AGAIN", "operation would block, retry later"},
	Success:      {"MQTT_ERR_SUCCESS", "success"},
	NoMem:        {"MQTT_ERR_NOMEM", "out of memory"},
	Protocol:     {"MQTT_ERR_PROTOCOL", "protocol error"},
	Inval:        {"MQTT_ERR_INVAL", "invalid argument"},
	NoConn:       {"MQTT_ERR_NO_CONN", "no connection to broker"},
	ConnRefused:  {"MQTT_ERR_CONN_REFUSED", "connection refused"},
	NotFound:     {"MQTT_ERR_NOT_FOUND", "not found"},
	ConnLost:     {"MQTT_ERR_CONN_LOST", "connection lost"},
	TLS:          {"MQTT_ERR_TLS", "TLS or security layer failure"},
	PayloadSize:  {"MQTT_ERR_PAYLOAD_SIZE", "payload too large"},
	NotSupported: {"MQTT_ERR_NOT_SUPPORTED", "operation not supported"},
	Auth:         {"MQTT_ERR_AUTH", "authentication failure"},
	ACLDenied:    {"MQTT_ERR_ACL_DENIED", "access denied"},
	Unknown:      {"MQTT_ERR_UNKNOWN", "unknown error"},
	Errno:        {"MQTT_ERR_ERRNO", "low-level I/O error"},
	QueueSize:    {"MQTT_ERR_QUEUE_SIZE", "message queue or quota exceeded"},
}

// Describe returns the human-readable description of code. The second return
// value is false for codes outside the catalog; callers treat those as
// unclassified rather than as a fault.
func Describe(code Code) (string, bool) {
	e, ok := catalog[code]
	if !ok {
		return "", false
	}
	return e.description, true
}

// Codes returns every code in the catalog in ascending order.
func Codes() []Code {
	codes := make([]Code, 0, len(catalog))
	for c := Again; c <= QueueSize; c++ {
		if _, ok := catalog[c]; ok {
			codes = append(codes, c)
		}
	}
	return codes
}

func (c Code) String() string {
	if e, ok := catalog[c]; ok {
		return e.name
	}
	return fmt.Sprintf("unclassified(%d)", int(c))
}

// Reason returns the description of c, or "unclassified" for unknown codes.
// It is the form used in log fields.
func (c Code) Reason() string {
	if d, ok := Describe(c); ok {
		return d
	}
	return "unclassified"
}

// IsSuccess reports whether c signals success.
func (c Code) IsSuccess() bool {
	return c == Success
}
