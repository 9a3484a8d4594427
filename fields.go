package gax

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Record gives paging and bundling access to request and response fields
// named by dotted paths such as "page_token" or "parent.name". Protobuf
// messages and map[string]any values are supported; see [AsRecord].
type Record interface {
	// Get returns the value at path. Unset message fields read as nil.
	Get(path string) (any, error)
	// Set stores v at path.
	Set(path string, v any) error
	// List returns the elements of the repeated field at path.
	List(path string) ([]any, error)
	// SetList replaces the repeated field at path with elems.
	SetList(path string, elems []any) error
	// Clone returns a deep copy.
	Clone() Record
	// Unwrap returns the underlying message or map.
	Unwrap() any
}

// AsRecord adapts v to [Record]. It fails with [ErrUnsupportedRecord] for
// anything other than a proto.Message or a map[string]any.
//
//nolint:ireturn // Record has two implementations selected at run time
func AsRecord(v any) (Record, error) {
	switch t := v.(type) {
	case proto.Message:
		return protoRecord{msg: t.ProtoReflect()}, nil
	case map[string]any:
		if t == nil {
			return nil, fmt.Errorf("%w: nil map", ErrUnsupportedRecord)
		}

		return mapRecord(t), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedRecord, v)
	}
}

// ---------------------------------------------------------------------------
// protobuf messages
// ---------------------------------------------------------------------------

type protoRecord struct {
	msg protoreflect.Message
}

// resolve walks path down to the message holding its last element.
func (r protoRecord) resolve(path string, create bool) (protoreflect.Message, protoreflect.FieldDescriptor, error) {
	names := strings.Split(path, ".")
	msg := r.msg

	for i, name := range names {
		fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return nil, nil, fmt.Errorf("%w: %q in %s", ErrFieldNotFound, path, r.msg.Descriptor().FullName())
		}

		if i == len(names)-1 {
			return msg, fd, nil
		}

		if fd.Message() == nil || fd.IsList() || fd.IsMap() {
			return nil, nil, fmt.Errorf("%w: %q is not a message path", ErrFieldNotFound, path)
		}

		switch {
		case create:
			msg = msg.Mutable(fd).Message()
		case msg.Has(fd):
			msg = msg.Get(fd).Message()
		default:
			return nil, nil, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: empty path", ErrFieldNotFound)
}

func (r protoRecord) Get(path string) (any, error) {
	msg, fd, err := r.resolve(path, false)
	if err != nil || msg == nil {
		return nil, err
	}

	switch {
	case fd.IsList():
		return r.listOf(msg, fd), nil
	case fd.Message() != nil && !msg.Has(fd):
		return nil, nil
	default:
		return fromProtoValue(fd, msg.Get(fd)), nil
	}
}

func (r protoRecord) Set(path string, v any) error {
	msg, fd, err := r.resolve(path, true)
	if err != nil {
		return err
	}

	if fd.IsList() {
		elems, ok := v.([]any)
		if !ok {
			return fmt.Errorf("gax: field %q is repeated, got %T", path, v)
		}

		return r.SetList(path, elems)
	}

	pv, err := toProtoValue(fd, v)
	if err != nil {
		return fmt.Errorf("gax: field %q: %w", path, err)
	}

	msg.Set(fd, pv)

	return nil
}

func (r protoRecord) List(path string) ([]any, error) {
	msg, fd, err := r.resolve(path, false)
	if err != nil {
		return nil, err
	}

	if msg == nil {
		return nil, nil
	}

	if !fd.IsList() {
		return nil, fmt.Errorf("%w: %q is not repeated", ErrFieldNotFound, path)
	}

	return r.listOf(msg, fd), nil
}

func (protoRecord) listOf(msg protoreflect.Message, fd protoreflect.FieldDescriptor) []any {
	list := msg.Get(fd).List()
	out := make([]any, 0, list.Len())

	for i := range list.Len() {
		out = append(out, fromProtoValue(fd, list.Get(i)))
	}

	return out
}

func (r protoRecord) SetList(path string, elems []any) error {
	msg, fd, err := r.resolve(path, true)
	if err != nil {
		return err
	}

	if !fd.IsList() {
		return fmt.Errorf("%w: %q is not repeated", ErrFieldNotFound, path)
	}

	values := make([]protoreflect.Value, 0, len(elems))

	for _, e := range elems {
		pv, err := toProtoValue(fd, e)
		if err != nil {
			return fmt.Errorf("gax: field %q: %w", path, err)
		}

		values = append(values, pv)
	}

	msg.Clear(fd)

	if len(values) == 0 {
		return nil
	}

	list := msg.Mutable(fd).List()
	for _, pv := range values {
		list.Append(pv)
	}

	return nil
}

//nolint:ireturn // Record
func (r protoRecord) Clone() Record {
	return protoRecord{msg: proto.Clone(r.msg.Interface()).ProtoReflect()}
}

func (r protoRecord) Unwrap() any { return r.msg.Interface() }

func fromProtoValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.Message() != nil {
		return v.Message().Interface()
	}

	if fd.Enum() != nil {
		return v.Enum()
	}

	return v.Interface()
}

// toProtoValue converts v for fd, rejecting Go types that do not match the
// field's kind.
func toProtoValue(fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	mismatch := fmt.Errorf("cannot store %T in %s field", v, fd.Kind())

	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		m, ok := v.(proto.Message)
		if !ok || fd.IsMap() || !m.ProtoReflect().IsValid() {
			return protoreflect.Value{}, mismatch
		}

		if got, want := m.ProtoReflect().Descriptor().FullName(), fd.Message().FullName(); got != want {
			return protoreflect.Value{}, fmt.Errorf("cannot store %s in %s field", got, want)
		}

		return protoreflect.ValueOfMessage(m.ProtoReflect()), nil
	case protoreflect.EnumKind:
		switch e := v.(type) {
		case protoreflect.EnumNumber:
			return protoreflect.ValueOfEnum(e), nil
		case protoreflect.Enum:
			return protoreflect.ValueOfEnum(e.Number()), nil
		case int32:
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(e)), nil
		}
	case protoreflect.BoolKind:
		if b, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if n, ok := v.(int32); ok {
			return protoreflect.ValueOfInt32(n), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if n, ok := v.(int64); ok {
			return protoreflect.ValueOfInt64(n), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if n, ok := v.(uint32); ok {
			return protoreflect.ValueOfUint32(n), nil
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if n, ok := v.(uint64); ok {
			return protoreflect.ValueOfUint64(n), nil
		}
	case protoreflect.FloatKind:
		if f, ok := v.(float32); ok {
			return protoreflect.ValueOfFloat32(f), nil
		}
	case protoreflect.DoubleKind:
		if f, ok := v.(float64); ok {
			return protoreflect.ValueOfFloat64(f), nil
		}
	case protoreflect.StringKind:
		if str, ok := v.(string); ok {
			return protoreflect.ValueOfString(str), nil
		}
	case protoreflect.BytesKind:
		if b, ok := v.([]byte); ok {
			return protoreflect.ValueOfBytes(b), nil
		}
	}

	return protoreflect.Value{}, mismatch
}

// ---------------------------------------------------------------------------
// map[string]any
// ---------------------------------------------------------------------------

type mapRecord map[string]any

func (r mapRecord) parent(path string, create bool) (map[string]any, string, error) {
	names := strings.Split(path, ".")
	m := map[string]any(r)

	for _, name := range names[:len(names)-1] {
		next, ok := m[name]
		if !ok || next == nil {
			if !create {
				return nil, "", nil
			}

			child := map[string]any{}
			m[name] = child
			m = child

			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("%w: %q is not a map path", ErrFieldNotFound, path)
		}

		m = child
	}

	return m, names[len(names)-1], nil
}

func (r mapRecord) Get(path string) (any, error) {
	m, key, err := r.parent(path, false)
	if err != nil || m == nil {
		return nil, err
	}

	return m[key], nil
}

func (r mapRecord) Set(path string, v any) error {
	m, key, err := r.parent(path, true)
	if err != nil {
		return err
	}

	m[key] = v

	return nil
}

func (r mapRecord) List(path string) ([]any, error) {
	v, err := r.Get(path)
	if err != nil || v == nil {
		return nil, err
	}

	if elems, ok := v.([]any); ok {
		return elems, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %q is not a list", ErrFieldNotFound, path)
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, nil
}

func (r mapRecord) SetList(path string, elems []any) error {
	return r.Set(path, elems)
}

//nolint:ireturn // Record
func (r mapRecord) Clone() Record {
	return mapRecord(deepCopyMap(r))
}

func (r mapRecord) Unwrap() any { return map[string]any(r) }

func deepCopyMap(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = deepCopyValue(v)
	}

	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}

		return out
	case proto.Message:
		return proto.Clone(t)
	default:
		return v
	}
}

// ---------------------------------------------------------------------------
// element sizing
// ---------------------------------------------------------------------------

// elementSize is the byte size a bundled element contributes to a bundle:
// the length of its string form, with messages rendered in text format.
func elementSize(e any) int {
	switch t := e.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	case proto.Message:
		return len(prototext.Format(t))
	default:
		return len(fmt.Sprint(e))
	}
}

// isZero reports whether a field value counts as unset.
func isZero(v any) bool {
	if v == nil {
		return true
	}

	if m, ok := v.(proto.Message); ok {
		return !m.ProtoReflect().IsValid()
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return rv.IsZero()
	}
}
