package bridge

// Validation error messages sent back to the extension.
const (
	MsgNoTarget        = "No target specified"
	MsgTargetNotString = "Target must be a string"
)

// ErrorReply is the failure shape of a response. It never carries result fields.
type ErrorReply struct {
	Error string `json:"error"`
}
