package wire

import "fmt"

// Tag is the leading byte of every record in a datagram.
type Tag uint8

const (
	TagSetup            Tag = 0
	TagController       Tag = 1
	TagSpawn            Tag = 2
	TagDelete           Tag = 3
	TagEndMatch         Tag = 4
	TagClientMatchReady Tag = 5
	TagNewClient        Tag = 6
	TagRequestSpawn     Tag = 7
	TagDisconnect       Tag = 8
	TagServerFull       Tag = 9
	TagChat             Tag = 10
	TagEmpty            Tag = 11
	TagClientReady      Tag = 12

	// 13..18 belong to the lobby protocol.

	TagEntityChecksum    Tag = 19
	TagRequestEntityList Tag = 20
	TagEntityList        Tag = 21
)

var tagNames = map[Tag]string{
	TagSetup:             "SETUP",
	TagController:        "CONTROLLER",
	TagSpawn:             "SPAWN",
	TagDelete:            "DELETE",
	TagEndMatch:          "END_MATCH",
	TagClientMatchReady:  "CLIENT_MATCH_READY",
	TagNewClient:         "NEW_CLIENT",
	TagRequestSpawn:      "REQUEST_SPAWN_PACKET",
	TagDisconnect:        "DISCONNECT",
	TagServerFull:        "SERVER_FULL",
	TagChat:              "CHAT",
	TagEmpty:             "EMPTY",
	TagClientReady:       "CLIENT_READY",
	TagEntityChecksum:    "ENTITY_CHECKSUM",
	TagRequestEntityList: "REQUEST_ENTITY_LIST",
	TagEntityList:        "ENTITY_LIST",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TAG(%d)", uint8(t))
}

// Known reports whether t is a tag this protocol version understands.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}
