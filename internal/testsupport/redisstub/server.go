// Package redisstub runs a minimal in-process Redis server speaking just
// enough RESP for the key/value commands the session store issues. Tests
// point a real client at it instead of requiring a Redis deployment.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type kvEntry struct {
	value     string
	expiresAt time.Time
}

// Server is a single-process RESP endpoint backed by an in-memory map.
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	data  map[string]kvEntry
	conns map[net.Conn]struct{}

	wg     sync.WaitGroup
	closed chan struct{}
}

// Start launches the stub on a random loopback port.
func Start(t interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	srv := &Server{
		listener: listener,
		data:     make(map[string]kvEntry),
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}
	srv.wg.Add(1)
	go srv.acceptLoop()
	t.Cleanup(srv.Close)
	return srv
}

// Addr returns the listen address in host:port form.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the listener and waits for connection handlers to finish.
func (s *Server) Close() {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)
	_ = s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		s.dispatch(writer, args)
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *bufio.Writer, args []string) {
	switch strings.ToUpper(args[0]) {
	case "PING":
		writeSimpleString(w, "PONG")
	case "SET":
		s.handleSet(w, args[1:])
	case "GET":
		s.handleGet(w, args[1:])
	case "DEL":
		s.handleDel(w, args[1:])
	case "PTTL":
		s.handleTTL(w, args[1:], time.Millisecond)
	case "TTL":
		s.handleTTL(w, args[1:], time.Second)
	case "INCR":
		s.handleIncr(w, args[1:])
	case "EXPIRE":
		s.handleExpire(w, args[1:])
	case "AUTH", "SELECT":
		writeSimpleString(w, "OK")
	default:
		// Newer clients probe with HELLO and CLIENT SETINFO on connect;
		// a real pre-RESP3 server rejects those without dropping the
		// connection.
		writeError(w, fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) handleSet(w *bufio.Writer, args []string) {
	if len(args) < 2 {
		writeError(w, "ERR wrong number of arguments for 'set' command")
		return
	}
	entry := kvEntry{value: args[1]}
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX", "PX":
			if i+1 >= len(args) {
				writeError(w, "ERR syntax error")
				return
			}
			amount, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || amount <= 0 {
				writeError(w, "ERR invalid expire time in 'set' command")
				return
			}
			unit := time.Second
			if strings.EqualFold(args[i], "PX") {
				unit = time.Millisecond
			}
			entry.expiresAt = time.Now().Add(time.Duration(amount) * unit)
			i++
		default:
			writeError(w, "ERR syntax error")
			return
		}
	}
	s.mu.Lock()
	s.data[args[0]] = entry
	s.mu.Unlock()
	writeSimpleString(w, "OK")
}

func (s *Server) handleGet(w *bufio.Writer, args []string) {
	if len(args) != 1 {
		writeError(w, "ERR wrong number of arguments for 'get' command")
		return
	}
	entry, ok := s.lookup(args[0])
	if !ok {
		writeNullBulk(w)
		return
	}
	writeBulkString(w, entry.value)
}

func (s *Server) handleDel(w *bufio.Writer, args []string) {
	removed := 0
	s.mu.Lock()
	for _, key := range args {
		if _, ok := s.data[key]; ok {
			delete(s.data, key)
			removed++
		}
	}
	s.mu.Unlock()
	writeInteger(w, int64(removed))
}

func (s *Server) handleTTL(w *bufio.Writer, args []string, unit time.Duration) {
	if len(args) != 1 {
		writeError(w, "ERR wrong number of arguments")
		return
	}
	entry, ok := s.lookup(args[0])
	if !ok {
		writeInteger(w, -2)
		return
	}
	if entry.expiresAt.IsZero() {
		writeInteger(w, -1)
		return
	}
	remaining := time.Until(entry.expiresAt)
	if remaining < unit {
		remaining = unit
	}
	writeInteger(w, int64(remaining/unit))
}

func (s *Server) handleIncr(w *bufio.Writer, args []string) {
	if len(args) != 1 {
		writeError(w, "ERR wrong number of arguments for 'incr' command")
		return
	}
	entry, _ := s.lookup(args[0])
	current, err := strconv.ParseInt(entry.value, 10, 64)
	if entry.value != "" && err != nil {
		writeError(w, "ERR value is not an integer or out of range")
		return
	}
	current++
	entry.value = strconv.FormatInt(current, 10)
	s.mu.Lock()
	s.data[args[0]] = entry
	s.mu.Unlock()
	writeInteger(w, current)
}

func (s *Server) handleExpire(w *bufio.Writer, args []string) {
	if len(args) != 2 {
		writeError(w, "ERR wrong number of arguments for 'expire' command")
		return
	}
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		writeError(w, "ERR value is not an integer or out of range")
		return
	}
	s.mu.Lock()
	entry, ok := s.data[args[0]]
	if ok {
		entry.expiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
		s.data[args[0]] = entry
	}
	s.mu.Unlock()
	if ok {
		writeInteger(w, 1)
		return
	}
	writeInteger(w, 0)
}

func (s *Server) lookup(key string) (kvEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return kvEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !time.Now().Before(entry.expiresAt) {
		delete(s.data, key)
		return kvEntry{}, false
	}
	return entry, true
}

// Expire rewinds a key's expiry so tests can force expiration without
// sleeping.
func (s *Server) Expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.data[key]; ok {
		entry.expiresAt = time.Now().Add(-time.Second)
		s.data[key] = entry
	}
}

// Keys returns a snapshot of the stored keys.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, nil
	}
	if line[0] != '*' {
		// Inline command.
		return strings.Fields(line), nil
	}
	count, err := strconv.Atoi(line[1:])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("malformed array header %q", line)
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 || header[0] != '$' {
			return nil, fmt.Errorf("malformed bulk header %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil || size < 0 {
			return nil, fmt.Errorf("malformed bulk length %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeSimpleString(w *bufio.Writer, s string) {
	fmt.Fprintf(w, "+%s\r\n", s)
}

func writeError(w *bufio.Writer, s string) {
	fmt.Fprintf(w, "-%s\r\n", s)
}

func writeBulkString(w *bufio.Writer, s string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s)
}

func writeNullBulk(w *bufio.Writer) {
	w.WriteString("$-1\r\n")
}

func writeInteger(w *bufio.Writer, n int64) {
	fmt.Fprintf(w, ":%d\r\n", n)
}
