package main

// mock stateful target: a line based server cycling through
// START -> AUTH -> DATA -> START, writing AFL style edge counts into the
// shared memory segment named by __AFL_SHM_ID.

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/gen2brain/shm"
	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

var states = []string{"START", "AUTH", "DATA"}

// crashTrigger makes the server panic when it is received in DATA.
var crashTrigger = []byte("BOOM")

type options struct {
	Host string `long:"host" default:"127.0.0.1" description:"listen address"`
	Port int    `short:"p" long:"port" default:"2121" description:"listen port"`
}

type coverage struct {
	mu  sync.Mutex
	buf []byte
}

func attachCoverage(logger *zap.Logger) *coverage {
	raw := os.Getenv("__AFL_SHM_ID")
	if raw == "" {
		logger.Warn("__AFL_SHM_ID not set, running without coverage")
		return &coverage{}
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		logger.Fatal("invalid __AFL_SHM_ID", zap.String("value", raw))
	}
	buf, err := shm.At(id, 0, 0)
	if err != nil {
		logger.Fatal("failed to attach shared memory", zap.Error(err))
	}
	if size, err := strconv.Atoi(os.Getenv("AFL_MAP_SIZE")); err == nil && size > 0 && size < len(buf) {
		buf = buf[:size]
	}
	return &coverage{buf: buf}
}

// hit bumps the edge counter for (state, token).
func (c *coverage) hit(state int, token []byte) {
	if len(c.buf) == 0 {
		return
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:", state)
	h.Write(token)
	c.mu.Lock()
	c.buf[int(h.Sum32())%len(c.buf)]++
	c.mu.Unlock()
}

func (c *coverage) message(state int, msg []byte) {
	c.hit(state, nil)
	for _, word := range bytes.Fields(msg) {
		if len(word) > 4 {
			word = word[:4]
		}
		c.hit(state, bytes.ToUpper(word))
	}
}

func serve(conn net.Conn, cov *coverage, logger *zap.Logger) {
	defer conn.Close()
	state := 0
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return
		}
		cov.message(state, line)
		if states[state] == "DATA" && bytes.Contains(line, crashTrigger) {
			panic(fmt.Sprintf("mock target crashed on %q", line))
		}
		state = (state + 1) % len(states)
		if _, err := fmt.Fprintf(conn, "%s\r\n", states[state]); err != nil {
			logger.Debug("client went away", zap.Error(err))
			return
		}
	}
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cov := attachCoverage(logger)
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}
	logger.Info("mock target listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", zap.Error(err))
			continue
		}
		go serve(conn, cov, logger)
	}
}
