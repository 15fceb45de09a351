package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MigrateCommand builds the default migration command payload:
// [1-byte flag=1][4-byte IPv4 address][2-byte port]. The shape is part of the
// wire contract with the client; anything else about packet encoding is
// opaque to the rest of the server.
func MigrateCommand(host string, port uint16) ([]byte, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		if addrs, err := net.LookupIP(host); err == nil && len(addrs) > 0 {
			ip = addrs[0]
		}
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("protocol: %q is not a resolvable IPv4 host", host)
	}

	buf := make([]byte, 0, 7)
	buf = append(buf, 1)
	buf = append(buf, v4...)
	buf = binary.BigEndian.AppendUint16(buf, port)
	return buf, nil
}
