package models

import (
	"net"
	"strconv"
)

// Peer represents a remote chat instance learned from presence announcements.
type Peer struct {
	Nickname string `json:"nickname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// Addr returns the peer's TCP listening address.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
