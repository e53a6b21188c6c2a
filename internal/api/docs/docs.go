// Package docs holds the swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/subscriptions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "List subscriptions",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "array", "items": {"$ref": "#/definitions/api.SubscriptionResponse"}}
                    }
                }
            }
        },
        "/subscriptions/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "Get a subscription by name",
                "parameters": [
                    {"type": "string", "description": "Subscription name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SubscriptionResponse"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/filters/compile": {
            "post": {
                "description": "Compiles the filter with the configured engine. Invalid clauses are listed in details.clauses.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["filters"],
                "summary": "Validate a filter specification",
                "parameters": [
                    {"description": "Filter specification", "name": "filter", "in": "body", "required": true, "schema": {"$ref": "#/definitions/filter.Specification"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.CompileResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/filters/apply": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["filters"],
                "summary": "Dry-run a filter against one message",
                "parameters": [
                    {"description": "Filter and message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.ApplyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ApplyResponse"}},
                    "400": {"description": "INVALID_FILTER or DECODE_ERROR", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "filter.Expression": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "operator": {"type": "string", "enum": ["EQ", "NE", "GT", "LT", "GE", "LE", "EQUALS", "NOT_EQUALS", "GREATER_THAN", "LESS_THAN", "GREATER_THAN_OR_EQUALS", "LESS_THAN_OR_EQUALS"]},
                "value": {}
            }
        },
        "filter.Specification": {
            "type": "object",
            "properties": {
                "condition": {"type": "string", "enum": ["AND", "OR"]},
                "expressions": {"type": "array", "items": {"$ref": "#/definitions/filter.Expression"}}
            }
        },
        "api.SubscriptionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "source": {"type": "object", "additionalProperties": true},
                "sink": {"type": "object", "additionalProperties": true},
                "engine": {"type": "string"},
                "pass_through": {"type": "boolean"},
                "expression": {"type": "string"},
                "filter": {"$ref": "#/definitions/filter.Specification"},
                "created_at": {"type": "string"}
            }
        },
        "api.CompileResponse": {
            "type": "object",
            "properties": {
                "engine": {"type": "string"},
                "pass_through": {"type": "boolean"},
                "expression": {"type": "string"}
            }
        },
        "api.ApplyRequest": {
            "type": "object",
            "required": ["message"],
            "properties": {
                "filter": {"$ref": "#/definitions/filter.Specification"},
                "message": {}
            }
        },
        "api.ApplyResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "outcome": {"type": "string"},
                "delivered_original": {"type": "boolean"},
                "error": {"type": "string"}
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Stream Filter API",
	Description:      "Inspect subscriptions and dry-run payload filters",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
