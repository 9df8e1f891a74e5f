package proxycore

// reasonPhrases covers the status codes this proxy itself ever originates
// (SPEC_FULL §6, "SIP wire behavior") plus the common ones it needs to
// label when echoing a downstream status in a CANCEL Reason header.
var reasonPhrases = map[int]string{
	100: "Trying",
	180: "Ringing",
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	416: "Unsupported URI Scheme",
	481: "Call/Transaction Does Not Exist",
	483: "Too Many Hops",
	487: "Request Terminated",
	500: "Server Internal Error",
	503: "Service Unavailable",
	504: "Server Time-out",
}

func reasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}
