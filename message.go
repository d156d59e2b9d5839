package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

var (
	errNoMessage       = errors.New("no message provided")
	errMalformedJSON   = errors.New("invalid JSON body")
	errMalformedForm   = errors.New("invalid form body")
	errMessageTooLarge = errors.New("message too large")
)

// controllerPayload is the JSON shape controllers send. Older controllers
// use "command" instead of "message".
type controllerPayload struct {
	Message string `json:"message"`
	Command string `json:"command"`
}

func (p controllerPayload) text() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Command
}

// parseRequestMessage extracts the message from an HTTP controller body.
// JSON bodies must carry a message or command field, multipart forms a
// message field, urlencoded forms a message field or else the raw body, and
// anything else is taken as raw text.
func parseRequestMessage(contentType string, body []byte) ([]byte, error) {
	mediaType, params, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/json":
		var p controllerPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errMalformedJSON
		}
		return nonEmpty(p.text())
	case "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(body)); err == nil {
			if _, ok := form["message"]; ok {
				return nonEmpty(form.Get("message"))
			}
		}
	case "multipart/form-data":
		return parseMultipartMessage(params["boundary"], body)
	}
	return nonEmpty(string(bytes.TrimSpace(body)))
}

// The envelope of a multipart body is never relayed, so a form without a
// message field has no message.
func parseMultipartMessage(boundary string, body []byte) ([]byte, error) {
	if boundary == "" {
		return nil, errMalformedForm
	}
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(int64(len(body)))
	if err != nil {
		return nil, errMalformedForm
	}
	defer form.RemoveAll()
	if values := form.Value["message"]; len(values) > 0 {
		return nonEmpty(values[0])
	}
	return nil, errNoMessage
}

// parseLineMessage extracts the message from one line of the TCP protocol.
// A line that looks like a JSON object is decoded, anything else is raw text.
func parseLineMessage(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		var p controllerPayload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, errMalformedJSON
		}
		return nonEmpty(p.text())
	}
	return nonEmpty(line)
}

func nonEmpty(s string) ([]byte, error) {
	if s == "" {
		return nil, errNoMessage
	}
	return []byte(s), nil
}
