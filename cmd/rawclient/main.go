// Command rawclient sends a single GET request through a Peer pool
// and prints the response status and body.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/quillhttp/engine"
	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/session"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "server authority")
	path := flag.String("path", "/", "request path")
	flag.Parse()

	e := engine.New(engine.DefaultOptions())

	done := make(chan struct{})
	p, err := e.Connect(*addr, engine.DefaultOptions(), func(s *session.Session, st *session.Stream, resp *message.Message) int {
		fmt.Printf("status=%d body=%q\n", resp.Status, resp.Body)
		close(done)
		return 0
	})
	if err != nil {
		log.Fatalf("connect to %s: %v", *addr, err)
	}

	go e.Run()
	defer e.Stop()

	req := message.New()
	req.Method = "GET"
	req.Path = *path
	req.Scheme = "http"
	req.Authority = *addr
	if _, err := p.SendRequest(req); err != nil {
		log.Fatalf("send request: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Fatal("timed out waiting for response")
	}
}
