package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is the thin IPC client the CLI commands use.
type Client struct {
	path string
}

// NewClient creates a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{path: path}
}

// Do sends one request and streams response frames to onFrame until a
// done or error frame arrives. Returns the done content.
func (c *Client) Do(req Request, onFrame func(Frame)) (string, error) {
	conn, err := net.DialTimeout("unix", c.path, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("is the daemon running? dialing %s: %w", c.path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(socketTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		var frame Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			return "", fmt.Errorf("malformed frame: %w", err)
		}
		if onFrame != nil {
			onFrame(frame)
		}
		switch frame.Type {
		case "done":
			return frame.Content, nil
		case "error":
			return "", fmt.Errorf("%s", frame.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return "", fmt.Errorf("connection closed before completion")
}
