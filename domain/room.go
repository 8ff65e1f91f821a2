package domain

// RoomID names a broadcast group. It maps to a chat channel id.
type RoomID string

// ConnectionID is the opaque id of one live transport session.
type ConnectionID string
