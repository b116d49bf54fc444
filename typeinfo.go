package xmsg

import "reflect"

// TypeInfo associates a payload with a stable name. The bus treats it as
// opaque; only identity comparison is required.
type TypeInfo interface {
	Name() string
}

type reflectTypeInfo struct {
	t reflect.Type
}

func (i reflectTypeInfo) Name() string { return i.t.String() }

// TypeOf derives a TypeInfo from a payload value via reflection. Two calls
// with payloads of the same static type yield equal descriptors.
func TypeOf(payload any) TypeInfo {
	if payload == nil {
		return nil
	}
	return reflectTypeInfo{t: reflect.TypeOf(payload)}
}
