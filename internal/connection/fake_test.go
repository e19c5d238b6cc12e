package connection

import (
	"encoding/json"
	"errors"
	"sync"
)

// fakeTransport records every Open call. Tests drive the returned
// connections by hand; nothing happens until they do.
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	urls    []string
	openErr error
}

func (f *fakeTransport) Open(url string, ev Events) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := &fakeConn{ev: ev}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeTransport) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeConn struct {
	mu        sync.Mutex
	ev        Events
	open      bool
	closed    bool
	closeCode int
	sent      [][]byte
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("not open")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = true
	c.closeCode = code
	return nil
}

func (c *fakeConn) accept() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.ev.OnOpen()
}

// vanish marks the socket dead without any close notification.
func (c *fakeConn) vanish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeConn) drop(code int) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.ev.OnClose(code, "test")
}

func (c *fakeConn) deliver(frame string) {
	c.ev.OnMessage([]byte(frame))
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.sent))
	for _, raw := range c.sent {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &env)
		types = append(types, env.Type)
	}
	return types
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeCompleteness struct {
	zones, logs bool
}

func (f *fakeCompleteness) ZonesReceived() bool    { return f.zones }
func (f *fakeCompleteness) ZoneLogsReceived() bool { return f.logs }
