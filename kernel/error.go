package kernel

// Error describes a kernel error. Static errors must be defined as global
// variables that are pointers to the Error structure; dynamic ones (whose
// message embeds a runtime value) should go through NewError instead. This
// requirement stems from the fact that the Go allocator is not available to
// us early on, so we cannot use errors.New or fmt.Errorf.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
