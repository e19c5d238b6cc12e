package connection

// Close codes with special meaning to the manager. Any other code, including
// AbnormalClosure for dial failures, counts as a failure.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// Events are the callbacks a transport invokes for one connection. They may
// be called from any goroutine but never concurrently for the same
// connection, and never from inside Open or Close.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Conn is one live or pending transport connection.
type Conn interface {
	// Send writes one text frame. It fails unless the connection is open.
	Send(data []byte) error
	IsOpen() bool
	// Close starts an orderly shutdown. Callbacks for this connection may
	// still fire afterwards and are ignored by the manager.
	Close(code int, reason string) error
}

// Transport opens connections. Open must not block on the network: it
// returns immediately and reports the outcome through ev.
type Transport interface {
	Open(url string, ev Events) (Conn, error)
}

func isNormalClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}
