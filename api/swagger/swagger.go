package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Invigilation Planner API",
        "description": "Assigns invigilators to exam sessions and balances their workload",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Plans", "description": "Solve invigilation plans from timetables"},
        {"name": "Plan Runs", "description": "Saved and published plan versions"},
        {"name": "Ops", "description": "Health and metrics"}
    ],
    "paths": {
        "/plans": {
            "post": {
                "tags": ["Plans"],
                "summary": "Solve a plan from JSON timetable rows",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PlanRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No feasible plan", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/upload": {
            "post": {
                "tags": ["Plans"],
                "summary": "Solve a plan from an uploaded CSV timetable",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "required": true, "type": "file"},
                    {"name": "staffCount", "in": "formData", "type": "integer"},
                    {"name": "dayExemptions", "in": "formData", "type": "string"},
                    {"name": "timeExemptions", "in": "formData", "type": "string"},
                    {"name": "params", "in": "formData", "type": "string", "description": "PlanParams as JSON"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Upload too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/jobs": {
            "post": {
                "tags": ["Plans"],
                "summary": "Queue a planning job",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PlanRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/jobs/{id}": {
            "get": {
                "tags": ["Plans"],
                "summary": "Get planning job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/cache": {
            "delete": {
                "tags": ["Plans"],
                "summary": "Drop all cached planning results",
                "responses": {
                    "204": {"description": "Flushed"},
                    "503": {"description": "Cache unreachable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/{id}": {
            "get": {
                "tags": ["Plans"],
                "summary": "Get a solved plan",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found or expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/{id}/save": {
            "post": {
                "tags": ["Plans"],
                "summary": "Save a solved plan as a versioned run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SavePlanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Persistence disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plans/{id}/export": {
            "get": {
                "tags": ["Plans"],
                "summary": "Export a solved plan",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "kind", "in": "query", "type": "string", "enum": ["roster", "statistics"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/plan-runs": {
            "get": {
                "tags": ["Plan Runs"],
                "summary": "List saved plan runs",
                "parameters": [
                    {"name": "exam_period", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["DRAFT", "PUBLISHED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plan-runs/{id}": {
            "get": {
                "tags": ["Plan Runs"],
                "summary": "Get a saved plan run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Plan Runs"],
                "summary": "Delete a draft plan run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Run is published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plan-runs/{id}/assignments": {
            "get": {
                "tags": ["Plan Runs"],
                "summary": "List assignments of a saved run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "staff_id", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plan-runs/{id}/publish": {
            "post": {
                "tags": ["Plan Runs"],
                "summary": "Publish a saved run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/plan-runs/{id}/export": {
            "get": {
                "tags": ["Plan Runs"],
                "summary": "Export a saved run",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "kind", "in": "query", "type": "string", "enum": ["roster", "statistics"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Ops"],
                "summary": "Planner metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "TimetableRow": {
            "type": "object",
            "properties": {
                "day": {"type": "string"},
                "time": {"type": "string", "example": "09:00-10:30"},
                "room": {"type": "string", "example": "301,302"},
                "subject": {"type": "string"}
            },
            "required": ["day", "time", "room"]
        },
        "ExemptionRule": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["DAY", "TIME_RANGE"]},
                "staffId": {"type": "integer"},
                "day": {"type": "string"},
                "start": {"type": "integer"},
                "end": {"type": "integer"}
            },
            "required": ["kind", "staffId"]
        },
        "PlanOptions": {
            "type": "object",
            "properties": {
                "dailyCap": {"type": "integer"},
                "enforceRestPeriod": {"type": "boolean"},
                "enableClusteringBonus": {"type": "boolean"},
                "clusteringBonus": {"type": "integer"},
                "fairnessHardBound": {"type": "integer"},
                "morningHardBound": {"type": "integer"},
                "restrictDayExemptions": {"type": "boolean"},
                "sessionLabeling": {"type": "string", "enum": ["auto", "fixed_threshold", "latest_task_per_day"]},
                "eveningThreshold": {"type": "string", "example": "16:00"}
            }
        },
        "PlanRequest": {
            "type": "object",
            "properties": {
                "staffCount": {"type": "integer"},
                "dayExemptions": {"type": "string", "example": "1: Monday; 2: Tuesday"},
                "timeExemptions": {"type": "string", "example": "3: 09:00-12:00"},
                "exemptions": {"type": "array", "items": {"$ref": "#/definitions/ExemptionRule"}},
                "weights": {"type": "object"},
                "bigRooms": {"type": "array", "items": {"type": "string"}},
                "timeBudgetSeconds": {"type": "integer"},
                "options": {"$ref": "#/definitions/PlanOptions"},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/TimetableRow"}}
            },
            "required": ["staffCount", "rows"]
        },
        "SavePlanRequest": {
            "type": "object",
            "properties": {
                "examPeriod": {"type": "string"},
                "publish": {"type": "boolean"}
            },
            "required": ["examPeriod"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
