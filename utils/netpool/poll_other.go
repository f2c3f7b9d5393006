//go:build !darwin && !linux

package netpool

import "net"

func probeAlive(net.Conn) bool { return true }
