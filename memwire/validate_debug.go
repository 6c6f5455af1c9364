//go:build debug_memwire

package memwire

// DebugValidate validates the provided object, if the debug_memwire build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
