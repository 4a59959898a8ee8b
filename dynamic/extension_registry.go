package dynamic

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// ExtensionRegistry is a thread-safe collection of extension descriptors,
// indexed by the message type they extend. A registry is consulted when a
// message needs to resolve an extension by tag number or by full name, for
// example while deserializing JSON keys of the form "[pkg.ext_name]".
//
// A nil *ExtensionRegistry is a valid empty registry.
type ExtensionRegistry struct {
	mu   sync.RWMutex
	exts map[protoreflect.FullName]map[protoreflect.FieldNumber]protoreflect.FieldDescriptor
}

// AddExtension registers the given extension descriptors. It returns an
// error if any descriptor is not an extension.
func (r *ExtensionRegistry) AddExtension(exts ...protoreflect.FieldDescriptor) error {
	for _, ext := range exts {
		if !ext.IsExtension() {
			return fmt.Errorf("field %s is not an extension", ext.FullName())
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.putExtensionLocked(ext)
	}
	return nil
}

// AddExtensionsFromFile registers all extensions declared in the given file,
// including those nested inside message declarations.
func (r *ExtensionRegistry) AddExtensionsFromFile(fd protoreflect.FileDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exts := fd.Extensions()
	for i := 0; i < exts.Len(); i++ {
		r.putExtensionLocked(exts.Get(i))
	}
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		r.addExtensionsFromMessageLocked(msgs.Get(i))
	}
}

func (r *ExtensionRegistry) addExtensionsFromMessageLocked(md protoreflect.MessageDescriptor) {
	exts := md.Extensions()
	for i := 0; i < exts.Len(); i++ {
		r.putExtensionLocked(exts.Get(i))
	}
	msgs := md.Messages()
	for i := 0; i < msgs.Len(); i++ {
		r.addExtensionsFromMessageLocked(msgs.Get(i))
	}
}

func (r *ExtensionRegistry) putExtensionLocked(fd protoreflect.FieldDescriptor) {
	if r.exts == nil {
		r.exts = map[protoreflect.FullName]map[protoreflect.FieldNumber]protoreflect.FieldDescriptor{}
	}
	msgName := fd.ContainingMessage().FullName()
	byNumber := r.exts[msgName]
	if byNumber == nil {
		byNumber = map[protoreflect.FieldNumber]protoreflect.FieldDescriptor{}
		r.exts[msgName] = byNumber
	}
	byNumber[fd.Number()] = fd
}

// FindExtension returns the extension of the named message with the given
// tag number, or nil if the registry has no such extension.
func (r *ExtensionRegistry) FindExtension(message protoreflect.FullName, number protoreflect.FieldNumber) protoreflect.FieldDescriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exts[message][number]
}

// FindExtensionByName returns the extension of the named message with the
// given full name, or nil if the registry has no such extension.
func (r *ExtensionRegistry) FindExtensionByName(message protoreflect.FullName, field protoreflect.FullName) protoreflect.FieldDescriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fd := range r.exts[message] {
		if fd.FullName() == field {
			return fd
		}
	}
	return nil
}

// AllExtensionsForType returns all registered extensions of the named
// message, in no particular order.
func (r *ExtensionRegistry) AllExtensionsForType(message protoreflect.FullName) []protoreflect.FieldDescriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	flds := r.exts[message]
	if len(flds) == 0 {
		return nil
	}
	ret := make([]protoreflect.FieldDescriptor, 0, len(flds))
	for _, fd := range flds {
		ret = append(ret, fd)
	}
	return ret
}
