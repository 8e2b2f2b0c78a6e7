package workflowerrors

import "reflect"

// panicErrorType is the persisted type tag for recovered panics.
var panicErrorType = typeName(&PanicError{})

// typeName derives the persisted Type tag from an error's Go type.
// The unexported type behind errors.New carries no information a reader
// could act on, so it maps to the empty tag.
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.PkgPath() == "errors" && t.Name() == "errorString" {
		return ""
	}

	return t.Name()
}
