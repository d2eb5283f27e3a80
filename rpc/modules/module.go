package modules

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeNotFound      = -32004
	codeModulePaused  = -32030
	codeQuotaExceeded = -32040
)

type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
