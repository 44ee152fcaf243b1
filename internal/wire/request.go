package wire

import (
	"strconv"

	"github.com/indigo-web/utils/strcomp"
)

const defaultUserAgent = "httppool/1.0"

// Field is a single header name/value pair in wire order.
type Field struct {
	Key   string
	Value string
}

// RenderRequest appends an HTTP/1.1 request to buf and returns the result.
//
// Host, Content-Length and User-Agent are filled in when the caller did not
// set them. Content-Length is only added for non-empty bodies or methods
// that conventionally carry one.
func RenderRequest(buf []byte, method, target, host string, fields []Field, body []byte) []byte {
	if method == "" {
		method = "GET"
	}
	if target == "" {
		target = "/"
	}

	buf = append(buf, method...)
	buf = append(buf, ' ')
	buf = append(buf, target...)
	buf = append(buf, " HTTP/1.1\r\n"...)

	if !hasField(fields, "host") {
		buf = appendField(buf, "Host", host)
	}
	if !hasField(fields, "user-agent") {
		buf = appendField(buf, "User-Agent", defaultUserAgent)
	}
	for _, f := range fields {
		buf = appendField(buf, f.Key, f.Value)
	}
	if !hasField(fields, "content-length") && !hasField(fields, "transfer-encoding") {
		if len(body) > 0 || method == "POST" || method == "PUT" {
			buf = appendField(buf, "Content-Length", strconv.Itoa(len(body)))
		}
	}

	buf = append(buf, "\r\n"...)
	return append(buf, body...)
}

func appendField(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, ": "...)
	buf = append(buf, value...)
	return append(buf, "\r\n"...)
}

func hasField(fields []Field, key string) bool {
	for _, f := range fields {
		if strcomp.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}
