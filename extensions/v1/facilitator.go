// Package v1 extracts discovery information from V1 payment requirements,
// where it lives in the outputSchema field rather than a dedicated
// extensions map.
package v1

import (
	"encoding/json"
	"strings"

	"github.com/t402-io/t402/extensions/types"
)

// V1OutputSchema represents the v1 outputSchema structure
type V1OutputSchema struct {
	Input  map[string]interface{} `json:"input"`
	Output interface{}            `json:"output,omitempty"`
}

// ExtractDiscoveryInfoV1 extracts discovery info from v1 payment
// requirements and transforms it to the v2 format.
//
// V1 endpoints declared their shape in outputSchema with loosely agreed
// field names, so normalization makes assumptions:
//   - GET/HEAD/DELETE: looks for queryParams, query, or params fields
//   - POST/PUT/PATCH: looks for bodyFields, body, or data fields and
//     normalizes bodyType
//   - optional headers are extracted when present
//
// Returns nil (without error) when the requirements carry no discoverable
// information.
func ExtractDiscoveryInfoV1(paymentRequirements interface{}) (*types.DiscoveryInfo, error) {
	var reqMap map[string]interface{}

	switch req := paymentRequirements.(type) {
	case map[string]interface{}:
		reqMap = req
	default:
		data, err := json.Marshal(paymentRequirements)
		if err != nil {
			return nil, nil //nolint:nilerr // no discovery info available
		}
		if err := json.Unmarshal(data, &reqMap); err != nil {
			return nil, nil //nolint:nilerr // no discovery info available
		}
	}

	outputSchemaRaw, ok := reqMap["outputSchema"]
	if !ok {
		return nil, nil
	}

	outputSchemaMap, ok := outputSchemaRaw.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	v1InputRaw, ok := outputSchemaMap["input"]
	if !ok {
		return nil, nil
	}

	v1Input, ok := v1InputRaw.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	inputType, ok := v1Input["type"].(string)
	if !ok || inputType != "http" {
		return nil, nil
	}

	methodRaw, ok := v1Input["method"]
	if !ok {
		return nil, nil
	}

	method, ok := methodRaw.(string)
	if !ok {
		return nil, nil
	}

	// Discoverable defaults to true when unspecified
	discoverable := true
	if discoverableRaw, ok := v1Input["discoverable"]; ok {
		if discoverableBool, ok := discoverableRaw.(bool); ok {
			discoverable = discoverableBool
		}
	}
	if !discoverable {
		return nil, nil
	}

	method = strings.ToUpper(method)

	var headers map[string]string
	if headerFieldsRaw, ok := v1Input["headerFields"]; ok {
		if headerFieldsMap, ok := headerFieldsRaw.(map[string]interface{}); ok {
			headers = make(map[string]string)
			for k := range headerFieldsMap {
				headers[k] = "" // v1 header schemas are free-form, keep keys only
			}
		}
	} else if headerFieldsRaw, ok := v1Input["header_fields"]; ok {
		if headerFieldsMap, ok := headerFieldsRaw.(map[string]interface{}); ok {
			headers = make(map[string]string)
			for k := range headerFieldsMap {
				headers[k] = ""
			}
		}
	} else if headersRaw, ok := v1Input["headers"]; ok {
		if headersMap, ok := headersRaw.(map[string]interface{}); ok {
			headers = make(map[string]string)
			for k, v := range headersMap {
				if vStr, ok := v.(string); ok {
					headers[k] = vStr
				}
			}
		}
	}

	var output *types.OutputInfo
	if outputRaw, ok := outputSchemaMap["output"]; ok && outputRaw != nil {
		output = &types.OutputInfo{
			Type:    "json",
			Example: outputRaw,
		}
	}

	if types.IsQueryMethod(method) {
		queryInput := types.QueryInput{
			Type:        "http",
			Method:      types.QueryParamMethods(method),
			QueryParams: extractQueryParams(v1Input),
			Headers:     headers,
		}

		return &types.DiscoveryInfo{
			Input:  queryInput,
			Output: output,
		}, nil
	} else if types.IsBodyMethod(method) {
		body, bodyType := extractBodyInfo(v1Input)

		bodyInput := types.BodyInput{
			Type:        "http",
			Method:      types.BodyMethods(method),
			BodyType:    bodyType,
			Body:        body,
			QueryParams: extractQueryParams(v1Input),
			Headers:     headers,
		}

		return &types.DiscoveryInfo{
			Input:  bodyInput,
			Output: output,
		}, nil
	}

	return nil, nil
}

// extractQueryParams extracts query parameters from v1 input, checking the
// common field names in both camelCase and snake_case.
func extractQueryParams(v1Input map[string]interface{}) map[string]interface{} {
	if queryParams, ok := v1Input["queryParams"].(map[string]interface{}); ok {
		return queryParams
	}
	if queryParams, ok := v1Input["query_params"].(map[string]interface{}); ok {
		return queryParams
	}
	if query, ok := v1Input["query"].(map[string]interface{}); ok {
		return query
	}
	if params, ok := v1Input["params"].(map[string]interface{}); ok {
		return params
	}
	return nil
}

// extractBodyInfo extracts body content and body type from v1 input
func extractBodyInfo(v1Input map[string]interface{}) (interface{}, types.BodyType) {
	bodyType := types.BodyTypeJSON

	if bodyTypeField, ok := v1Input["bodyType"].(string); ok {
		bodyType = normalizeBodyType(bodyTypeField)
	} else if bodyTypeField, ok := v1Input["body_type"].(string); ok {
		bodyType = normalizeBodyType(bodyTypeField)
	}

	var body interface{} = map[string]interface{}{}

	if bodyFields, ok := v1Input["bodyFields"]; ok {
		body = bodyFields
	} else if bodyFields, ok := v1Input["body_fields"]; ok && bodyFields != nil {
		body = bodyFields
	} else if bodyParams, ok := v1Input["bodyParams"]; ok {
		body = bodyParams
	} else if bodyRaw, ok := v1Input["body"]; ok {
		body = bodyRaw
	} else if data, ok := v1Input["data"]; ok {
		body = data
	} else if properties, ok := v1Input["properties"]; ok {
		body = properties
	}

	return body, bodyType
}

func normalizeBodyType(typeStr string) types.BodyType {
	typeStr = strings.ToLower(typeStr)
	if strings.Contains(typeStr, "form") || strings.Contains(typeStr, "multipart") {
		return types.BodyTypeFormData
	} else if strings.Contains(typeStr, "text") || strings.Contains(typeStr, "plain") {
		return types.BodyTypeText
	}
	return types.BodyTypeJSON
}

// IsDiscoverableV1 checks whether v1 payment requirements contain
// discoverable information.
func IsDiscoverableV1(paymentRequirements interface{}) bool {
	info, _ := ExtractDiscoveryInfoV1(paymentRequirements)
	return info != nil
}

// ExtractResourceMetadataV1 extracts resource metadata (url, description,
// mimeType) from v1 payment requirements, where it is embedded directly
// rather than carried in a resource object.
func ExtractResourceMetadataV1(paymentRequirements interface{}) map[string]string {
	var reqMap map[string]interface{}

	switch req := paymentRequirements.(type) {
	case map[string]interface{}:
		reqMap = req
	default:
		data, err := json.Marshal(paymentRequirements)
		if err != nil {
			return map[string]string{}
		}
		if err := json.Unmarshal(data, &reqMap); err != nil {
			return map[string]string{}
		}
	}

	result := make(map[string]string)

	if resource, ok := reqMap["resource"].(string); ok {
		result["url"] = resource
	}
	if description, ok := reqMap["description"].(string); ok {
		result["description"] = description
	}
	if mimeType, ok := reqMap["mimeType"].(string); ok {
		result["mimeType"] = mimeType
	}

	return result
}
