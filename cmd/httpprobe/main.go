package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nczempin/httpd-go-uring/client"
	"github.com/nczempin/httpd-go-uring/logging"
	"github.com/nczempin/httpd-go-uring/transport"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 5555, "server port")
	backend := flag.String("backend", "syscall", "client I/O backend (syscall|netpoll|iouring|uring)")
	timeout := flag.Duration("timeout", 10*time.Second, "read timeout per response")
	bodies := flag.Bool("body", false, "print response bodies")
	flag.Parse()

	log := logging.New(os.Getenv("HTTPD_LOG_LEVEL"))

	uris := flag.Args()
	if len(uris) == 0 {
		uris = []string{"/"}
	}

	b, err := transport.ParseBackend(*backend)
	if err != nil {
		log.WithError(err).Fatal("Invalid backend")
	}

	start := time.Now()
	resps, err := client.Probe(*host, *port, b, *timeout, uris...)
	elapsed := time.Since(start)

	for i, resp := range resps {
		fmt.Printf("%s -> %d %s (%d bytes)\n", uris[i], resp.StatusCode, resp.Message, len(resp.Body))
		if *bodies {
			fmt.Println(string(resp.Body))
		}
	}
	if err != nil {
		log.WithError(err).WithField("received", len(resps)).Error("Probe failed")
		os.Exit(1)
	}
	log.WithField("elapsed", elapsed).Infof("Received %d pipelined responses", len(resps))
}
