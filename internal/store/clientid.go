package store

import (
	"strconv"
	"strings"
	"sync/atomic"
)

const clientIDPrefix = "client:"

var clientIDCounter atomic.Uint64

// GenerateClientID returns a new ID for a record the server did not
// identify. IDs are unique for the life of the process.
func GenerateClientID() string {
	return clientIDPrefix + strconv.FormatUint(clientIDCounter.Add(1), 10)
}

// IsClientID reports whether id was generated on the client.
func IsClientID(id string) bool { return strings.HasPrefix(id, clientIDPrefix) }

// ClientEdgeID is the ID of the edge record linking connectionID to nodeID.
func ClientEdgeID(connectionID, nodeID string) string {
	return clientIDPrefix + connectionID + ":" + nodeID
}
