// Command rawserver is a minimal demonstration server: it echoes the
// request method and path back as a 200 response over plain HTTP/1.1.
package main

import (
	"flag"
	"log"
	"strconv"

	"github.com/quillhttp/engine"
	"github.com/quillhttp/engine/pkg/message"
	"github.com/quillhttp/engine/pkg/session"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen authority")
	flag.Parse()

	e := engine.New(engine.DefaultOptions())

	err := e.Serve(*addr, engine.DefaultOptions(), func(s *session.Session, st *session.Stream, req *message.Message) int {
		resp := message.New()
		resp.Status = 200
		body := []byte(req.Method + " " + req.Path + "\n")
		resp.Body = body
		resp.AddHeader("Content-Length", strconv.Itoa(len(body)))
		if err := s.SendResponse(st, resp); err != nil {
			return -1
		}
		return 0
	})
	if err != nil {
		log.Fatalf("listen on %s: %v", *addr, err)
	}

	log.Printf("rawserver listening on %s", *addr)
	e.Run()
}
