package bazaar

import (
	"fmt"

	"github.com/t402-io/t402/extensions/types"
)

// DeclareDiscoveryExtension creates a discovery extension for any HTTP method
//
// This function helps servers declare how their endpoint should be called,
// including the expected input parameters/body and output format.
//
// Args:
//   - method: HTTP method (GET, POST, PUT, PATCH, DELETE, HEAD)
//   - input: Example input data (query params for GET/HEAD/DELETE, body for POST/PUT/PATCH)
//   - inputSchema: JSON Schema for the input
//   - bodyType: Body type for POST/PUT/PATCH methods (optional, defaults to "json")
//   - output: Output configuration (optional)
//
// Returns:
//   - DiscoveryExtension with both info and schema
//
// Example:
//
//	// For a GET endpoint with query params
//	extension, err := bazaar.DeclareDiscoveryExtension(
//	    types.MethodGET,
//	    map[string]interface{}{"query": "example"},
//	    types.JSONSchema{
//	        "properties": map[string]interface{}{
//	            "query": map[string]interface{}{"type": "string"},
//	        },
//	        "required": []string{"query"},
//	    },
//	    "",
//	    nil,
//	)
func DeclareDiscoveryExtension(
	method interface{}, // QueryParamMethods or BodyMethods
	input interface{},
	inputSchema types.JSONSchema,
	bodyType types.BodyType,
	output *types.OutputConfig,
) (types.DiscoveryExtension, error) {
	var methodStr string
	switch m := method.(type) {
	case types.QueryParamMethods:
		methodStr = string(m)
	case types.BodyMethods:
		methodStr = string(m)
	case string:
		methodStr = m
	default:
		return types.DiscoveryExtension{}, fmt.Errorf("unsupported method type: %T", method)
	}

	if types.IsQueryMethod(methodStr) {
		return createQueryDiscoveryExtension(types.QueryParamMethods(methodStr), input, inputSchema, output)
	} else if types.IsBodyMethod(methodStr) {
		if bodyType == "" {
			bodyType = types.BodyTypeJSON
		}
		return createBodyDiscoveryExtension(types.BodyMethods(methodStr), input, inputSchema, bodyType, output)
	}

	return types.DiscoveryExtension{}, fmt.Errorf("unsupported HTTP method: %s", methodStr)
}

// createQueryDiscoveryExtension creates a query discovery extension
func createQueryDiscoveryExtension(
	method types.QueryParamMethods,
	input interface{},
	inputSchema types.JSONSchema,
	output *types.OutputConfig,
) (types.DiscoveryExtension, error) {
	var queryParams map[string]interface{}
	if input != nil {
		if params, ok := input.(map[string]interface{}); ok {
			queryParams = params
		}
	}

	if inputSchema == nil {
		inputSchema = types.JSONSchema{"properties": map[string]interface{}{}}
	}

	queryInfo := types.QueryDiscoveryInfo{
		Input: types.QueryInput{
			Type:        "http",
			Method:      method,
			QueryParams: queryParams,
		},
	}

	if output != nil && output.Example != nil {
		queryInfo.Output = &types.OutputInfo{
			Type:    "json",
			Example: output.Example,
		}
	}

	schemaProperties := map[string]interface{}{
		"input": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{
					"type":  "string",
					"const": "http",
				},
				"method": map[string]interface{}{
					"type": "string",
					"enum": []string{string(method)},
				},
			},
			"required":             []string{"type", "method"},
			"additionalProperties": false,
		},
	}

	if len(inputSchema) > 0 {
		inputProps := schemaProperties["input"].(map[string]interface{})
		props := inputProps["properties"].(map[string]interface{})
		props["queryParams"] = map[string]interface{}{
			"type": "object",
		}
		for k, v := range inputSchema {
			props["queryParams"].(map[string]interface{})[k] = v
		}
	}

	if output != nil && output.Example != nil {
		schemaProperties["output"] = buildOutputSchema(output)
	}

	schema := types.JSONSchema{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": schemaProperties,
		"required":   []string{"input"},
	}

	return types.DiscoveryExtension{
		Info: types.DiscoveryInfo{
			Input:  queryInfo.Input,
			Output: queryInfo.Output,
		},
		Schema: schema,
	}, nil
}

// createBodyDiscoveryExtension creates a body discovery extension
func createBodyDiscoveryExtension(
	method types.BodyMethods,
	input interface{},
	inputSchema types.JSONSchema,
	bodyType types.BodyType,
	output *types.OutputConfig,
) (types.DiscoveryExtension, error) {
	if inputSchema == nil {
		inputSchema = types.JSONSchema{"properties": map[string]interface{}{}}
	}

	bodyInfo := types.BodyDiscoveryInfo{
		Input: types.BodyInput{
			Type:     "http",
			Method:   method,
			BodyType: bodyType,
			Body:     input,
		},
	}

	if output != nil && output.Example != nil {
		bodyInfo.Output = &types.OutputInfo{
			Type:    "json",
			Example: output.Example,
		}
	}

	schemaProperties := map[string]interface{}{
		"input": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{
					"type":  "string",
					"const": "http",
				},
				"method": map[string]interface{}{
					"type": "string",
					"enum": []string{string(method)},
				},
				"bodyType": map[string]interface{}{
					"type": "string",
					"enum": []string{"json", "form-data", "text"},
				},
				"body": inputSchema,
			},
			"required":             []string{"type", "method", "bodyType", "body"},
			"additionalProperties": false,
		},
	}

	if output != nil && output.Example != nil {
		schemaProperties["output"] = buildOutputSchema(output)
	}

	schema := types.JSONSchema{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": schemaProperties,
		"required":   []string{"input"},
	}

	return types.DiscoveryExtension{
		Info: types.DiscoveryInfo{
			Input:  bodyInfo.Input,
			Output: bodyInfo.Output,
		},
		Schema: schema,
	}, nil
}

func buildOutputSchema(output *types.OutputConfig) map[string]interface{} {
	outputSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type": "string",
			},
			"example": map[string]interface{}{
				"type": "object",
			},
		},
		"required": []string{"type"},
	}

	if output.Schema != nil {
		for k, v := range output.Schema {
			outputSchema["properties"].(map[string]interface{})["example"].(map[string]interface{})[k] = v
		}
	}

	return outputSchema
}
