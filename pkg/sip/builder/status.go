package builder

// Коды ответов, которые ядро формирует или обрабатывает особо
const (
	StatusTrying                = 100
	StatusRinging               = 180
	StatusSessionProgress       = 183
	StatusOK                    = 200
	StatusForbidden             = 403
	StatusNotFound              = 404
	StatusMethodNotAllowed      = 405
	StatusProxyAuthRequired     = 407
	StatusRequestTimeout        = 408
	StatusSessionIntervalSmall  = 422
	StatusTemporarilyUnavail    = 480
	StatusCallDoesNotExist      = 481
	StatusBusyHere              = 486
	StatusRequestTerminated     = 487
	StatusNotAcceptableHere     = 488
	StatusRequestPending        = 491
	StatusInternalServerError   = 500
	StatusDecline               = 603
	StatusNotAcceptableAnywhere = 606
)

var statusText = map[int]string{
	StatusTrying:                "Trying",
	StatusRinging:               "Ringing",
	StatusSessionProgress:       "Session Progress",
	StatusOK:                    "OK",
	202:                         "Accepted",
	400:                         "Bad Request",
	401:                         "Unauthorized",
	StatusForbidden:             "Forbidden",
	StatusNotFound:              "Not Found",
	StatusMethodNotAllowed:      "Method Not Allowed",
	StatusProxyAuthRequired:     "Proxy Authentication Required",
	StatusRequestTimeout:        "Request Timeout",
	415:                         "Unsupported Media Type",
	StatusSessionIntervalSmall:  "Session Interval Too Small",
	StatusTemporarilyUnavail:    "Temporarily Unavailable",
	StatusCallDoesNotExist:      "Call/Transaction Does Not Exist",
	StatusBusyHere:              "Busy Here",
	StatusRequestTerminated:     "Request Terminated",
	StatusNotAcceptableHere:     "Not Acceptable Here",
	StatusRequestPending:        "Request Pending",
	StatusInternalServerError:   "Server Internal Error",
	503:                         "Service Unavailable",
	StatusDecline:               "Decline",
	StatusNotAcceptableAnywhere: "Not Acceptable",
}

// StatusText фраза ответа по коду (RFC 3261 21)
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	switch {
	case code < 200:
		return "Provisional"
	case code < 300:
		return "Success"
	case code < 400:
		return "Redirection"
	case code < 500:
		return "Client Error"
	case code < 600:
		return "Server Error"
	}
	return "Global Failure"
}
