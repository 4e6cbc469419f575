package at

import (
	"fmt"
	"strconv"
)

// SetMux selects the application connection id the following CA* commands refer to.
func SetMux(mux int) string {
	return "AT+CACID=" + strconv.Itoa(mux)
}

// SSLVersion sets the TLS protocol version of the SSL context for mux.
func SSLVersion(mux, version int) string {
	return fmt.Sprintf(`AT+CSSLCFG="sslversion",%d,%d`, mux, version)
}

// EnableSSL switches TLS on or off for the connection id.
func EnableSSL(mux int, on bool) string {
	flag := 0
	if on {
		flag = 1
	}
	return fmt.Sprintf("AT+CASSLCFG=%d,SSL,%d", mux, flag)
}

// BindSSLContext binds the connection id to the SSL context of the same number.
func BindSSLContext(mux int) string {
	return fmt.Sprintf("AT+CASSLCFG=%d,crindex,%d", mux, mux)
}

// SSLContextIndex selects the PDP context TLS is applied to.
func SSLContextIndex(mux int) string {
	return fmt.Sprintf(`AT+CSSLCFG="ctxindex",%d`, mux)
}

// CACert references a certificate already provisioned on the modem file system.
func CACert(mux int, name string) string {
	return fmt.Sprintf(`AT+CASSLCFG=%d,CACERT,"%s"`, mux, name)
}

// SNI sets the server name presented in the TLS handshake.
func SNI(mux int, host string) string {
	return fmt.Sprintf(`AT+CSSLCFG="sni",%d,"%s"`, mux, host)
}

// Open opens a TCP connection on the connection id.
func Open(mux, pdp int, host string, port uint16) string {
	return fmt.Sprintf(`AT+CAOPEN=%d,%d,"TCP","%s",%d`, mux, pdp, host, port)
}

// Close closes the connection id.
func Close(mux int) string {
	return "AT+CACLOSE=" + strconv.Itoa(mux)
}

// Send announces length raw bytes for the connection id.
func Send(mux, length int) string {
	return fmt.Sprintf("AT+CASEND=%d,%d", mux, length)
}

// Recv asks for up to size buffered bytes of the connection id.
func Recv(mux, size int) string {
	return fmt.Sprintf("AT+CARECV=%d,%d", mux, size)
}
