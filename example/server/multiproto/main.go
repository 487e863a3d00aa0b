package main

import (
	"log"
	"net"
	"net/http"

	"github.com/northlane/proxyhdr"
)

// multiproto shows a single listener routing proxied connections to an
// HTTP handler once the PROXY preface has resolved "http" as the next
// protocol in the chain.
func main() {
	ln, err := net.Listen("tcp", "127.0.0.1:9090")
	if err != nil {
		log.Fatal(err)
	}

	passthrough := proxyhdr.ConnectionFactoryFunc(func(conn net.Conn) (net.Conn, error) {
		return conn, nil
	})

	connector := proxyhdr.NewConnector()
	connector.Register(proxyhdr.ProxyProtocolName, passthrough)
	connector.Register("http", passthrough)

	proxyListener := proxyhdr.NewListenerWithConnector(ln, connector, nil)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Println("recv request from", r.RemoteAddr, "url:", r.URL.Path)
		}),
	}
	log.Println(srv.Serve(proxyListener))
}
