// Package docs holds the OpenAPI description served by Swagger UI.
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
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service banner",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Pings the database.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/analyze": {
            "post": {
                "description": "Runs the verifier, doctor, nutritionist and exercise agents over the uploaded PDF.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["analyses"],
                "summary": "Analyse a blood test report",
                "parameters": [
                    {"type": "file", "description": "Blood test report (PDF)", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "Question about the report", "name": "query", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.AnalysisResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/analyses": {
            "get": {
                "description": "Newest first.",
                "produces": ["application/json"],
                "tags": ["analyses"],
                "summary": "List analyses",
                "parameters": [
                    {"type": "integer", "default": 10, "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.AnalysisListResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/analyses/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["analyses"],
                "summary": "Get one analysis",
                "parameters": [
                    {"type": "string", "description": "Analysis ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.AnalysisRecord"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/analyses/{id}/report": {
            "get": {
                "description": "Redirects to a short-lived presigned URL, or streams the PDF through the API when inline=1.",
                "produces": ["application/pdf"],
                "tags": ["analyses"],
                "summary": "Download the archived report",
                "parameters": [
                    {"type": "string", "description": "Analysis ID (UUID)", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Stream through the API instead of redirecting", "name": "inline", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "307": {"description": "Temporary Redirect"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/export.csv": {
            "get": {
                "produces": ["text/csv"],
                "tags": ["analyses"],
                "summary": "Download all analyses as CSV",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        }
    },
    "definitions": {
        "handler.errorEnvelope": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handler.errorPayload": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/handler.errorEnvelope"},
                "request_id": {"type": "string"}
            }
        },
        "model.AnalysisRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "file_id": {"type": "string"},
                "filename": {"type": "string"},
                "stored_path": {"type": "string"},
                "query": {"type": "string"},
                "output": {"type": "string"},
                "status": {"type": "string"},
                "analyzed_at": {"type": "string"}
            }
        },
        "service.AnalysisListResult": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/model.AnalysisRecord"}},
                "total": {"type": "integer"}
            }
        },
        "service.AnalysisResult": {
            "type": "object",
            "properties": {
                "analysis": {"type": "string"},
                "analysis_id": {"type": "string"},
                "file_processed": {"type": "string"},
                "query": {"type": "string"},
                "status": {"type": "string"}
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
	Title:            "Blood Test Report Analyser API",
	Description:      "Upload a blood test report and get an interpretation from a crew of LLM agents.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
