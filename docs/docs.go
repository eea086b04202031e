// Package docs registers the swagger document served at /swagger/doc.json.
// Keep it in step with the handler annotations in internal/transport/http.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/jobs": {
            "post": {
                "description": "Debits the generation cost and schedules the first step.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create a comic job",
                "parameters": [
                    {
                        "description": "job payload",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.createJobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/result": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get the finished documents",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.resultResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/finalize": {
            "post": {
                "description": "Rejected with the list of missing approvals when the gate is not satisfied.",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Assemble the approved book",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/pages/{target}/approval": {
            "post": {
                "produces": ["application/json"],
                "tags": ["approval"],
                "summary": "Approve a page",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "cover, storyPage1..storyPage10 or backCover", "name": "target", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["approval"],
                "summary": "Withdraw a page approval",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "cover, storyPage1..storyPage10 or backCover", "name": "target", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/pages/{target}/edit": {
            "post": {
                "description": "Debits the edit cost first; the page's approval is reset on success.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["approval"],
                "summary": "Regenerate a page or one of its panels",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "cover, storyPage1..storyPage10 or backCover", "name": "target", "in": "path", "required": true},
                    {
                        "description": "edit instructions",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/httptransport.editDTO"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.editResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/users/{userID}/credits": {
            "get": {
                "produces": ["application/json"],
                "tags": ["credits"],
                "summary": "Get a user's credit balance",
                "parameters": [
                    {"type": "string", "description": "user id", "name": "userID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.balanceResp"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "httptransport.balanceResp": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "balance": {"type": "integer"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "missingApprovals": {"type": "array", "items": {"type": "string"}}
            }
        },
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "input": {"$ref": "#/definitions/entity.Input"}
            }
        },
        "httptransport.createJobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}
            }
        },
        "httptransport.editDTO": {
            "type": "object",
            "properties": {
                "instructions": {"type": "string"},
                "panel": {"description": "0 = whole page, 1..n = panel band", "type": "integer"}
            }
        },
        "httptransport.editResp": {
            "type": "object",
            "properties": {
                "assetPath": {"type": "string"}
            }
        },
        "httptransport.jobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "status": {"type": "string", "enum": ["queued", "processing", "awaiting_approval", "completed", "failed"]},
                "progress": {"type": "integer"},
                "current_page": {"type": "integer"},
                "input": {"$ref": "#/definitions/entity.Input"},
                "output": {"type": "object"},
                "page_approvals": {"type": "object", "additionalProperties": {"type": "boolean"}},
                "credits_used": {"type": "integer"},
                "error": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "httptransport.resultResp": {
            "type": "object",
            "properties": {
                "comicUrl": {"type": "string"},
                "coverUrl": {"type": "string"},
                "interiorUrl": {"type": "string"}
            }
        },
        "entity.Input": {
            "type": "object",
            "properties": {
                "hero": {
                    "type": "object",
                    "properties": {
                        "name": {"type": "string"},
                        "age": {"type": "integer"},
                        "description": {"type": "string"}
                    }
                },
                "story": {
                    "type": "object",
                    "properties": {
                        "title": {"type": "string"},
                        "description": {"type": "string"},
                        "theme": {"type": "string"}
                    }
                },
                "style": {"type": "string"},
                "language": {"type": "string"},
                "photoPath": {"type": "string"},
                "contactEmail": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Comic Orchestrator API",
	Description:      "Creates comic generation jobs, gates them on page approval and assembles the finished book.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
