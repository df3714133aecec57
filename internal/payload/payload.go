// Package payload normalizes submitted text and pulls the few fields the
// device cares about out of JSON bodies without decoding the rest.
package payload

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"paperpiper/internal/model"
)

var escapedNewline = strings.NewReplacer("\r", "", `\n`, "\n")

// Normalize strips carriage returns and expands a literal backslash-n into
// a newline. Every text path (HTTP, form, JSON, MQTT) ends up here.
func Normalize(s string) string {
	return escapedNewline.Replace(s)
}

// Text is the result of decoding a text submission.
type Text struct {
	Body    string
	Size    int
	HasSize bool
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInputRejected, fmt.Sprintf(format, args...))
}

// members walks a top-level JSON object and hands each member name to fn,
// with the decoder positioned at the value. fn must consume the value or
// return false to have it skipped.
func members(r io.Reader, fn func(name string, dec *jsontext.Decoder) (bool, error)) error {
	dec := jsontext.NewDecoder(r)

	tok, err := dec.ReadToken()
	if err != nil {
		return rejected("invalid json: %v", err)
	}
	if tok.Kind() != '{' {
		return rejected("expected a json object")
	}

	for {
		tok, err := dec.ReadToken()
		if err != nil {
			return rejected("invalid json: %v", err)
		}
		if tok.Kind() == '}' {
			return nil
		}
		consumed, err := fn(tok.String(), dec)
		if err != nil {
			return err
		}
		if !consumed {
			if err := dec.SkipValue(); err != nil {
				return rejected("invalid json: %v", err)
			}
		}
	}
}

func readString(dec *jsontext.Decoder, field string) (string, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return "", rejected("invalid json: %v", err)
	}
	if tok.Kind() != '"' {
		return "", rejected("%q must be a string", field)
	}
	return tok.String(), nil
}

func readInt(dec *jsontext.Decoder, field string) (int, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return 0, rejected("invalid json: %v", err)
	}
	if tok.Kind() != '0' {
		return 0, rejected("%q must be a number", field)
	}
	return int(tok.Int()), nil
}

// DecodeText extracts "text" and "size" from a JSON object. Other members
// are skipped. The text is returned as sent; normalization and the empty
// check happen where the text is accepted.
func DecodeText(r io.Reader) (Text, error) {
	var out Text
	err := members(r, func(name string, dec *jsontext.Decoder) (bool, error) {
		switch name {
		case "text":
			s, err := readString(dec, name)
			if err != nil {
				return true, err
			}
			out.Body = s
			return true, nil
		case "size":
			n, err := readInt(dec, name)
			if err != nil {
				return true, err
			}
			out.Size, out.HasSize = n, true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Text{}, err
	}
	return out, nil
}

// DecodeMQTT extracts broker settings. broker and topic are required; port
// defaults to 1883.
func DecodeMQTT(r io.Reader) (model.MQTTSettings, error) {
	s := model.MQTTSettings{Port: model.DefaultMQTTPort}
	err := members(r, func(name string, dec *jsontext.Decoder) (bool, error) {
		var err error
		switch name {
		case "broker":
			s.Broker, err = readString(dec, name)
		case "topic":
			s.Topic, err = readString(dec, name)
		case "username":
			s.Username, err = readString(dec, name)
		case "password":
			s.Password, err = readString(dec, name)
		case "port":
			s.Port, err = readInt(dec, name)
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return model.MQTTSettings{}, err
	}
	if s.Broker == "" || s.Topic == "" {
		return model.MQTTSettings{}, rejected("broker and topic are required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = model.DefaultMQTTPort
	}
	return s, nil
}

// ParseSize reads a form "size" value. ok is false for empty or
// non-numeric input.
func ParseSize(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
