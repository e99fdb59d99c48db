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

package ports

import (
	"errors"
	"strings"
)

// ErrInvalidDescriptor indicates an empty or oversized descriptor string.
var ErrInvalidDescriptor = errors.New("ports: invalid service descriptor")

// ServiceDescriptor identifies a topic by the (service, instance, event)
// string triple. Equality matches publishers to subscribers; the total
// order is lexicographic over the three fields in sequence.
type ServiceDescriptor struct {
	Service  string
	Instance string
	Event    string
}

// Validate checks the bounds of all three strings.
func (d ServiceDescriptor) Validate() error {
	for _, s := range []string{d.Service, d.Instance, d.Event} {
		if len(s) == 0 || len(s) > ServiceStringCapacity {
			return ErrInvalidDescriptor
		}
	}
	return nil
}

// Equal reports whether two descriptors identify the same topic.
func (d ServiceDescriptor) Equal(o ServiceDescriptor) bool {
	return d.Service == o.Service && d.Instance == o.Instance && d.Event == o.Event
}

// Less implements the lexicographic total order.
func (d ServiceDescriptor) Less(o ServiceDescriptor) bool {
	if d.Service != o.Service {
		return d.Service < o.Service
	}
	if d.Instance != o.Instance {
		return d.Instance < o.Instance
	}
	return d.Event < o.Event
}

// String renders "service/instance/event" for logs and index keys.
func (d ServiceDescriptor) String() string {
	var b strings.Builder
	b.Grow(len(d.Service) + len(d.Instance) + len(d.Event) + 2)
	b.WriteString(d.Service)
	b.WriteByte('/')
	b.WriteString(d.Instance)
	b.WriteByte('/')
	b.WriteString(d.Event)
	return b.String()
}

// descriptorData is the fixed-size wire form inside a port structure.
type descriptorData struct {
	service     [ServiceStringCapacity]byte
	instance    [ServiceStringCapacity]byte
	event       [ServiceStringCapacity]byte
	serviceLen  uint32
	instanceLen uint32
	eventLen    uint32
	pad         uint32
}

func (dd *descriptorData) store(d ServiceDescriptor) {
	dd.serviceLen = uint32(copy(dd.service[:], d.Service))
	dd.instanceLen = uint32(copy(dd.instance[:], d.Instance))
	dd.eventLen = uint32(copy(dd.event[:], d.Event))
}

func (dd *descriptorData) load() ServiceDescriptor {
	return ServiceDescriptor{
		Service:  string(dd.service[:dd.serviceLen]),
		Instance: string(dd.instance[:dd.instanceLen]),
		Event:    string(dd.event[:dd.eventLen]),
	}
}
