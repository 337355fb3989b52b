package beacon

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/zamazir/THMmonitor/errors"
)

//go:embed beacon.schema.json
var schemaJSON []byte

// Format is the encoding of a message body.
type Format int

// Body formats.
const (
	FormatRaw Format = iota
	FormatJSON
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "raw"
	}
}

// Detect guesses the body format from its first byte. JSON objects start
// with '{' after optional whitespace and CBOR maps carry major type 5.
// Anything else is treated as a raw binary frame.
func Detect(body []byte) Format {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	if len(body) > 0 && body[0]>>5 == 5 {
		return FormatCBOR
	}
	return FormatRaw
}

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("beacon: CBOR decoder initialization failed: " + err.Error())
	}
}

// Parser turns beacon bodies into maps validated against the beacon schema.
type Parser struct {
	schema *gojsonschema.Schema
}

// NewParser compiles the embedded beacon schema.
func NewParser() (*Parser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, errors.WrapFatal(err, "Parser", "NewParser", "compile beacon schema")
	}
	return &Parser{schema: schema}, nil
}

// Parse decodes a JSON or CBOR body and validates it.
func (p *Parser) Parse(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return nil, malformed("Parse", "empty body")
	}

	var m map[string]any
	switch Detect(body) {
	case FormatJSON:
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedBeacon, err),
				"Parser", "Parse", "json parsing")
		}
	case FormatCBOR:
		if err := decMode.Unmarshal(body, &m); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedBeacon, err),
				"Parser", "Parse", "cbor parsing")
		}
	default:
		return nil, malformed("Parse", "body is neither a JSON object nor a CBOR map")
	}

	if err := p.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks a decoded beacon against the schema.
func (p *Parser) Validate(m map[string]any) error {
	result, err := p.schema.Validate(gojsonschema.NewGoLoader(m))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedBeacon, err),
			"Parser", "Validate", "schema validation")
	}
	if result.Valid() {
		return nil
	}

	descs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descs = append(descs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return malformed("Validate", strings.Join(descs, "; "))
}

func malformed(method, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMalformedBeacon, reason),
		"Parser", method, "parse beacon")
}
