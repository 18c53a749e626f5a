package gcal

import (
	"errors"

	"google.golang.org/api/googleapi"
)

// APIErrorInfo is the part of a googleapi error the sync engine classifies on
type APIErrorInfo struct {
	Status  int
	Message string
	Reason  string
}

// Inspect extracts status, message and first reason from a Calendar API error.
// ok is false for transport failures that carry no response.
func Inspect(err error) (info APIErrorInfo, ok bool) {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return APIErrorInfo{}, false
	}
	info = APIErrorInfo{Status: gerr.Code, Message: gerr.Message}
	if len(gerr.Errors) > 0 {
		info.Reason = gerr.Errors[0].Reason
		if info.Message == "" {
			info.Message = gerr.Errors[0].Message
		}
	}
	return info, true
}
