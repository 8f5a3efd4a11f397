package domain

import "errors"

// ErrRoomNotFound means the room is absent from the record store. Fatal to
// the connection attempt that triggered it, never to the process.
var ErrRoomNotFound = errors.New("room not found")
