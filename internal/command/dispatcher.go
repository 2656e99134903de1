package command

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Response status codes.
const (
	StatusSuccess  = 200
	StatusNotFound = 404
	StatusError    = 500
)

// DefaultResponseBuffer is the response size limit when none is configured.
const DefaultResponseBuffer = 128

var unsupportedPayload = []byte(`{"Status":"Unsupported Command"}`)

// Response is a handler's reply.
type Response struct {
	Status  int
	Payload []byte
}

// Handler executes one command.
type Handler interface {
	Handle(payload []byte) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload []byte) Response

// Handle calls f.
func (f HandlerFunc) Handle(payload []byte) Response {
	return f(payload)
}

// Dispatcher routes commands by name.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	bufSize  int
}

// NewDispatcher creates a dispatcher with no handlers. Responses larger
// than bufSize bytes are replaced by an error response.
func NewDispatcher(bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultResponseBuffer
	}
	return &Dispatcher{handlers: make(map[string]Handler), bufSize: bufSize}
}

// Register binds name to h, replacing any earlier binding.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Dispatch runs the handler for name. Unknown names yield 404 with the
// fixed unsupported-command payload whatever the payload was.
func (d *Dispatcher) Dispatch(name string, payload []byte) Response {
	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()

	if !ok {
		dispatched.WithLabelValues("unsupported", "404").Inc()
		return Response{Status: StatusNotFound, Payload: unsupportedPayload}
	}

	resp := h.Handle(payload)
	if len(resp.Payload) > d.bufSize {
		resp = errorResponse(StatusError, fmt.Sprintf("%v (%d > %d bytes)", ErrResponseTooLarge, len(resp.Payload), d.bufSize))
	}
	dispatched.WithLabelValues(name, fmt.Sprint(resp.Status)).Inc()
	return resp
}

// errorResponse builds {"Error":msg}.
func errorResponse(status int, msg string) Response {
	b, _ := json.Marshal(struct { //nolint:errcheck // A string field cannot fail to marshal
		Error string `json:"Error"`
	}{msg})
	return Response{Status: status, Payload: b}
}
