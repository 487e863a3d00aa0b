package main

import (
	"log"
	"net"

	"github.com/northlane/proxyhdr"
	"github.com/sirupsen/logrus"
)

func main() {
	ln, err := net.Listen("tcp", "127.0.0.1:9090")
	if err != nil {
		log.Fatal(err)
	}

	proxyListener := proxyhdr.NewListener(ln, proxyhdr.WithPostReadHeader(loggingHeader))
	for {
		conn, err := proxyListener.Accept()
		if err != nil {
			log.Println(err)
			continue
		}

		go serve(conn)
	}
}

func serve(tcpConn net.Conn) {
	conn, ok := tcpConn.(*proxyhdr.Conn)
	if ok && conn != nil && conn.Endpoint() != nil {
		if version, ok := conn.Endpoint().TLSVersion(); ok {
			logrus.WithField("tls_version", version).Info("passthrough TLS version")
		}
	}
}

func loggingHeader(h *proxyhdr.Header, err error) {
	if err != nil {
		logrus.WithError(err).Error("failed to parse proxy header")
		return
	}
	logrus.WithFields(h.LogrusFields()).Info("successfully parsed proxy header")
}
