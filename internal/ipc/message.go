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

// Package ipc defines the control-plane protocol between applications and
// the daemon: msgpack-encoded request/response messages over a named unix
// datagram channel. The data path never touches this package.
package ipc

// ProtocolVersion is checked on REGISTER; mismatch yields CompatibilityError.
const ProtocolVersion = uint32(1)

// MaxMessageSize bounds every message on the wire.
const MaxMessageSize = 4096

// Request types.
const (
	TypeRegister         = "REGISTER"
	TypeUnregister       = "UNREGISTER"
	TypeCreatePublisher  = "CREATE_PUBLISHER"
	TypeCreateSubscriber = "CREATE_SUBSCRIBER"
	TypeDestroyPort      = "DESTROY_PORT"
	TypeKeepAlive        = "KEEP_ALIVE"
)

// Error codes carried in replies. An empty code means success.
const (
	CodeOK                      = ""
	CodeNameTaken               = "NameTaken"
	CodeOutOfPorts              = "OutOfPorts"
	CodeOutOfMemory             = "OutOfMemory"
	CodeDescriptorQuotaExceeded = "DescriptorQuotaExceeded"
	CodeTooManySubscribers      = "TooManySubscribers"
	CodePublisherAlreadyExists  = "PublisherAlreadyExists"
	CodeStaleSession            = "StaleSession"
	CodeUnknownRequest          = "UnknownRequest"
	CodeMalformedMessage        = "MalformedMessage"
	CodeCompatibilityError      = "CompatibilityError"
	CodeInvalidDescriptor       = "InvalidDescriptor"
	CodeNoSuchProcess           = "NoSuchProcess"
	CodeNoSuchPort              = "NoSuchPort"
	CodeInternal                = "InternalError"
)

// PortKind distinguishes port references in DESTROY_PORT.
const (
	PortKindPublisher  = uint32(1)
	PortKindSubscriber = uint32(2)
)

// Request is the single wire shape for every application-to-daemon
// message; Type selects which fields matter.
type Request struct {
	Type    string `msgpack:"type"`
	Session uint64 `msgpack:"session,omitempty"`
	ReplyTo string `msgpack:"reply_to,omitempty"`

	// REGISTER
	Name      string `msgpack:"name,omitempty"`
	PID       uint32 `msgpack:"pid,omitempty"`
	UID       uint32 `msgpack:"uid,omitempty"`
	GID       uint32 `msgpack:"gid,omitempty"`
	Monitored bool   `msgpack:"monitored,omitempty"`
	Version   uint32 `msgpack:"version,omitempty"`

	// CREATE_PUBLISHER / CREATE_SUBSCRIBER
	Service  string `msgpack:"service,omitempty"`
	Instance string `msgpack:"instance,omitempty"`
	Event    string `msgpack:"event,omitempty"`

	HistoryCapacity uint32 `msgpack:"history_capacity,omitempty"`
	Budget          uint32 `msgpack:"budget,omitempty"`
	QueueCapacity   uint32 `msgpack:"queue_capacity,omitempty"`
	Policy          uint32 `msgpack:"policy,omitempty"`
	HistoryRequest  uint32 `msgpack:"history_request,omitempty"`

	// DESTROY_PORT
	PortKind uint32 `msgpack:"port_kind,omitempty"`
	PortRef  uint64 `msgpack:"port_ref,omitempty"`
}

// SegmentInfo describes one segment an application must map.
type SegmentInfo struct {
	ID   uint32 `msgpack:"id"`
	Name string `msgpack:"name"`
	Size uint64 `msgpack:"size"`
}

// Response is the single wire shape for every daemon-to-application reply.
type Response struct {
	Type string `msgpack:"type"`
	Code string `msgpack:"code,omitempty"`

	// REGISTER
	Session           uint64        `msgpack:"session,omitempty"`
	Segments          []SegmentInfo `msgpack:"segments,omitempty"`
	ManagementSegment SegmentInfo   `msgpack:"mgmt_segment,omitempty"`
	ManagementBlock   uint64        `msgpack:"mgmt_block,omitempty"`
	DataSegmentID     uint32        `msgpack:"data_segment,omitempty"`
	InstanceID        string        `msgpack:"instance,omitempty"`
	Version           uint32        `msgpack:"version,omitempty"`
	KeepAliveMs       uint32        `msgpack:"keepalive_ms,omitempty"`

	// CREATE_* / DESTROY_PORT
	PortRef uint64 `msgpack:"port_ref,omitempty"`
}

// OK reports whether the reply carries no error code.
func (r *Response) OK() bool {
	return r.Code == CodeOK
}
