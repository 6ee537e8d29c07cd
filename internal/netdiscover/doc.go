// Package netdiscover resolves the local identity of a network interface
// (MAC address, ifindex, RX queue count, link speed) that the reflector
// supervisor needs before it can pick a backend and size its worker pool.
package netdiscover
