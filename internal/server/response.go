package server

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is the envelope of every non-empty JSON answer that is not a
// listing.
type Response struct {
	Status Status `json:"status,omitempty"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewValueResponse(key, value string) Response {
	return Response{Status: StatusOK, Key: key, Value: value}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

type SizeResponse struct {
	Size uint64 `json:"size"`
}

type BackupRequest struct {
	Path string `json:"path"`
}

type BackupResponse struct {
	Path string `json:"path"`
}

type PropertyResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BatchOp is one element of a POST /batch body. Type is "put" or "del".
type BatchOp struct {
	Type  string  `json:"type"`
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

// RangeEntry is one record of a GET /range listing. Omitted parts are
// absent.
type RangeEntry struct {
	Key   *string `json:"key,omitempty"`
	Value *string `json:"value,omitempty"`
}
