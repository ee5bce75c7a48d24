package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Listen opens a TCP listener, TLS-wrapped when a config is given. Both
// framed planes (control and file) use it.
func Listen(addr string, tlsConf *tls.Config) (net.Listener, error) {
	if tlsConf != nil {
		ln, err := tls.Listen("tcp", addr, tlsConf)
		if err != nil {
			return nil, fmt.Errorf("listen tls %s: %w", addr, err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}
