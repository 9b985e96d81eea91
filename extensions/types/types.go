// Package types defines the shared types for protocol extensions, most
// notably the Bazaar discovery extension carried under the "bazaar" key of
// payment payloads and payment required responses.
package types

import "encoding/json"

// BAZAAR is the extension key for Bazaar discovery data
const BAZAAR = "bazaar"

// QueryParamMethods are HTTP methods whose input travels in query parameters
type QueryParamMethods string

// BodyMethods are HTTP methods whose input travels in the request body
type BodyMethods string

// HTTP method constants
const (
	MethodGET    = QueryParamMethods("GET")
	MethodHEAD   = QueryParamMethods("HEAD")
	MethodDELETE = QueryParamMethods("DELETE")
	MethodPOST   = BodyMethods("POST")
	MethodPUT    = BodyMethods("PUT")
	MethodPATCH  = BodyMethods("PATCH")
)

// BodyType describes the encoding of a request body
type BodyType string

// Body type constants
const (
	BodyTypeJSON     = BodyType("json")
	BodyTypeFormData = BodyType("form-data")
	BodyTypeText     = BodyType("text")
)

// JSONSchema is a JSON Schema document
type JSONSchema map[string]interface{}

// QueryInput describes how to call an endpoint using query parameters
type QueryInput struct {
	Type        string                 `json:"type"`
	Method      QueryParamMethods      `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// BodyInput describes how to call an endpoint using a request body
type BodyInput struct {
	Type        string                 `json:"type"`
	Method      BodyMethods            `json:"method"`
	BodyType    BodyType               `json:"bodyType"`
	Body        interface{}            `json:"body"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
}

// OutputInfo describes the shape of an endpoint's response
type OutputInfo struct {
	Type    string      `json:"type"`
	Example interface{} `json:"example,omitempty"`
}

// OutputConfig configures the output section when declaring an extension
type OutputConfig struct {
	Example interface{}
	Schema  JSONSchema
}

// DiscoveryInfo describes how to call a discoverable endpoint.
// Input is a QueryInput or a BodyInput depending on the HTTP method.
type DiscoveryInfo struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON decodes Input into a QueryInput or BodyInput based on the
// method field, so callers can type switch on the concrete input type.
func (d *DiscoveryInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Output = raw.Output

	if len(raw.Input) == 0 {
		return nil
	}

	var methodCheck struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw.Input, &methodCheck); err != nil {
		return err
	}

	if IsBodyMethod(methodCheck.Method) {
		var input BodyInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		d.Input = input
		return nil
	}

	var input QueryInput
	if err := json.Unmarshal(raw.Input, &input); err != nil {
		return err
	}
	d.Input = input
	return nil
}

// QueryDiscoveryInfo is DiscoveryInfo with a typed query input
type QueryDiscoveryInfo struct {
	Input  QueryInput  `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// BodyDiscoveryInfo is DiscoveryInfo with a typed body input
type BodyDiscoveryInfo struct {
	Input  BodyInput   `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// DiscoveryExtension is the Bazaar extension payload: the discovery info
// plus a JSON Schema the info must satisfy
type DiscoveryExtension struct {
	Info   DiscoveryInfo `json:"info"`
	Schema JSONSchema    `json:"schema"`
}

// QueryDiscoveryExtension is a DiscoveryExtension with a typed query input
type QueryDiscoveryExtension struct {
	Info   QueryDiscoveryInfo `json:"info"`
	Schema JSONSchema         `json:"schema"`
}

// BodyDiscoveryExtension is a DiscoveryExtension with a typed body input
type BodyDiscoveryExtension struct {
	Info   BodyDiscoveryInfo `json:"info"`
	Schema JSONSchema        `json:"schema"`
}

// IsQueryMethod reports whether the method carries input in query parameters
func IsQueryMethod(method string) bool {
	switch QueryParamMethods(method) {
	case MethodGET, MethodHEAD, MethodDELETE:
		return true
	}
	return false
}

// IsBodyMethod reports whether the method carries input in the request body
func IsBodyMethod(method string) bool {
	switch BodyMethods(method) {
	case MethodPOST, MethodPUT, MethodPATCH:
		return true
	}
	return false
}
