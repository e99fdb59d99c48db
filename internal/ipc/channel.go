/*
 *
 * Copyright 2025 iceoryx-go authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrDaemonUnavailable indicates the daemon's channel does not exist.
	// Applications never create the channel themselves.
	ErrDaemonUnavailable = errors.New("ipc: daemon unavailable")

	// ErrTimeout indicates a request got no reply within its deadline.
	ErrTimeout = errors.New("ipc: request timed out")

	// ErrMessageTooLarge indicates an encoded message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("ipc: message exceeds maximum size")
)

// DaemonChannel is the daemon side of the control channel: a unix datagram
// socket that receives requests and addresses replies to the sender.
type DaemonChannel struct {
	conn *net.UnixConn
	path string
}

// ListenDaemon binds the daemon control socket. A connect probe first
// refuses the path when a live daemon answers on it; otherwise a leftover
// socket file from a dead daemon is removed before binding.
func ListenDaemon(path string) (*DaemonChannel, error) {
	if conn, err := net.Dial("unixgram", path); err == nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: channel %s is in use by a running daemon", path)
	}
	os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to bind channel %s: %w", path, err)
	}
	os.Chmod(path, 0666)
	return &DaemonChannel{conn: conn, path: path}, nil
}

// Recv blocks for the next request and returns it with the sender address.
func (c *DaemonChannel) Recv(buf []byte) (Request, *net.UnixAddr, error) {
	var req Request
	n, from, err := c.conn.ReadFromUnix(buf)
	if err != nil {
		return req, nil, err
	}
	if err := msgpack.Unmarshal(buf[:n], &req); err != nil {
		return req, from, fmt.Errorf("ipc: malformed message: %w", err)
	}
	return req, from, nil
}

// Reply sends a response to the given application address. Datagram sends
// never block on a live peer; a vanished peer is simply unreachable.
func (c *DaemonChannel) Reply(to *net.UnixAddr, resp *Response) error {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	_, err = c.conn.WriteToUnix(data, to)
	return err
}

// SetDeadline bounds the next Recv; used for shutdown polling.
func (c *DaemonChannel) SetDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes and unlinks the channel.
func (c *DaemonChannel) Close() error {
	err := c.conn.Close()
	os.Remove(c.path)
	return err
}

// Path returns the socket path.
func (c *DaemonChannel) Path() string {
	return c.path
}

// AppChannel is the application side: its own datagram socket for replies
// plus the daemon's address.
type AppChannel struct {
	conn       *net.UnixConn
	path       string
	daemonAddr *net.UnixAddr
}

// DialApp creates the application's reply socket and verifies the daemon
// channel exists. replyPath must be unique per process.
func DialApp(daemonPath, replyPath string) (*AppChannel, error) {
	if _, err := os.Stat(daemonPath); err != nil {
		return nil, ErrDaemonUnavailable
	}

	os.Remove(replyPath)
	addr := &net.UnixAddr{Name: replyPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to bind reply socket %s: %w", replyPath, err)
	}

	return &AppChannel{
		conn:       conn,
		path:       replyPath,
		daemonAddr: &net.UnixAddr{Name: daemonPath, Net: "unixgram"},
	}, nil
}

// Send fires a request without waiting for a reply (KEEP_ALIVE).
func (c *AppChannel) Send(req *Request) error {
	req.ReplyTo = c.path
	data, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if _, err := c.conn.WriteToUnix(data, c.daemonAddr); err != nil {
		return ErrDaemonUnavailable
	}
	return nil
}

// Request sends a request and blocks for the matching reply or the
// timeout. Requests are synchronous from the application's viewpoint.
func (c *AppChannel) Request(req *Request, timeout time.Duration) (*Response, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, MaxMessageSize)
	for {
		n, _, err := c.conn.ReadFromUnix(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}

		var resp Response
		if err := msgpack.Unmarshal(buf[:n], &resp); err != nil {
			continue // garbage on our socket; keep waiting for the reply
		}
		if resp.Type != req.Type {
			continue // reply to an earlier, timed-out request
		}
		return &resp, nil
	}
}

// Close closes and unlinks the reply socket.
func (c *AppChannel) Close() error {
	err := c.conn.Close()
	os.Remove(c.path)
	return err
}

// Path returns the reply socket path.
func (c *AppChannel) Path() string {
	return c.path
}
