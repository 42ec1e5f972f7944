// Package ipc implements the Unix-domain socket control interface:
// newline-delimited JSON requests (prompt, message) with streamed
// status/chunk frames and a terminal done or error frame.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/orchestrator"
	"github.com/skippy-ai/skippy/pkg/skippy/tools"
)

// socketTimeout is the hard per-connection deadline.
const socketTimeout = 5 * time.Minute

// Request is one inbound IPC request.
type Request struct {
	Type    string `json:"type"`
	Prompt  string `json:"prompt,omitempty"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output,omitempty"` // stdout | chat
	Channel string `json:"channel,omitempty"`
	User    string `json:"user,omitempty"`
	Model   string `json:"model,omitempty"`
	Context string `json:"context,omitempty"`
}

// Frame is one outbound IPC frame.
type Frame struct {
	Type    string `json:"type"` // chunk | status | done | error
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server serves the control socket.
type Server struct {
	path        string
	orch        *orchestrator.Orchestrator
	sender      tools.MessageSender
	defaultUser string
	logger      *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	closing  chan struct{}
}

// NewServer creates the IPC server. sender may be nil when the chat
// gateway is not running; message requests then fail cleanly.
func NewServer(path string, orch *orchestrator.Orchestrator, sender tools.MessageSender, defaultUser string, logger *slog.Logger) *Server {
	return &Server{
		path:        path,
		orch:        orch,
		sender:      sender,
		defaultUser: defaultUser,
		logger:      logger.With("component", "ipc"),
		closing:     make(chan struct{}),
	}
}

// Start binds the socket, removing a stale one, and begins accepting.
func (s *Server) Start() error {
	// A leftover socket from a dead process blocks the bind.
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("ipc: removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	s.listener = ln
	s.logger.Info("listening", "socket", s.path)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops accepting, waits for in-flight connections and removes the
// socket.
func (s *Server) Stop() {
	close(s.closing)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	s.logger.Info("stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.logger.Warn("accept failed", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(socketTimeout))

	writer := &frameWriter{enc: json.NewEncoder(conn)}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	if !scanner.Scan() {
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		writer.Error("malformed request: " + err.Error())
		return
	}

	switch req.Type {
	case "prompt":
		s.handlePrompt(writer, req)
	case "message":
		s.handleMessage(writer, req)
	default:
		writer.Error(fmt.Sprintf("unknown request type %q", req.Type))
	}
}

func (s *Server) handlePrompt(w *frameWriter, req Request) {
	if req.Prompt == "" {
		w.Error("prompt is required")
		return
	}
	user := req.User
	if user == "" {
		user = s.defaultUser
	}

	orchReq := orchestrator.Request{
		Prompt:       req.Prompt,
		Model:        req.Model,
		ExtraContext: req.Context,
		Channel:      req.Channel,
		User:         user,
		Status:       w,
	}
	if req.Output != "chat" {
		orchReq.OnChunk = func(chunk string) { w.Chunk(chunk) }
	}

	answer, err := s.orch.Run(context.Background(), orchReq)
	if err != nil {
		w.Error(err.Error())
		return
	}

	if req.Output == "chat" && req.Channel != "" && s.sender != nil {
		if err := s.sender.SendMessage(context.Background(), req.Channel, answer); err != nil {
			w.Error("delivering to chat: " + err.Error())
			return
		}
	}
	w.Done(answer)
}

func (s *Server) handleMessage(w *frameWriter, req Request) {
	if req.Message == "" {
		w.Error("message is required")
		return
	}
	if req.Channel == "" {
		w.Error("channel is required")
		return
	}
	if s.sender == nil {
		w.Error("chat gateway is not running")
		return
	}
	if err := s.sender.SendMessage(context.Background(), req.Channel, req.Message); err != nil {
		w.Error(err.Error())
		return
	}
	w.Done("sent")
}

// frameWriter serializes frames onto the connection. Safe for the
// status callbacks that arrive from the loop goroutine.
type frameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *frameWriter) write(f Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.Encode(f)
}

// Status implements orchestrator.StatusSink.
func (w *frameWriter) Status(text string) { w.write(Frame{Type: "status", Message: text}) }

func (w *frameWriter) Chunk(content string) { w.write(Frame{Type: "chunk", Content: content}) }
func (w *frameWriter) Done(content string)  { w.write(Frame{Type: "done", Content: content}) }
func (w *frameWriter) Error(msg string)     { w.write(Frame{Type: "error", Message: msg}) }
