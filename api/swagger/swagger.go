package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Colloscope API",
        "description": "Constraint model and solver pipeline for colloscopes, the rotating oral-exam schedules of French preparatory classes",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Client credential tokens"},
        {"name": "Solves", "description": "Solve attempt lifecycle and event streams"},
        {"name": "Schedule", "description": "Latest accepted schedule"},
        {"name": "Attempts", "description": "Archive of finished solve attempts"}
    ],
    "paths": {
        "/healthz": {
            "get": {
                "summary": "Health check with live engine state",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/auth/token": {
            "post": {
                "tags": ["Auth"],
                "summary": "Issue an access and refresh token pair",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Expired or revoked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Describe the authenticated client",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/solves": {
            "post": {
                "tags": ["Solves"],
                "summary": "Request a solve attempt",
                "description": "Supersedes any attempt in flight. A nil model reuses the retained snapshot; pins and unpins are deltas. Snapshot validation is synchronous, build and solve failures arrive on the event stream.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SolveRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Malformed payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Snapshot failed validation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/solves/active": {
            "get": {
                "tags": ["Solves"],
                "summary": "Live engine state",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Solves"],
                "summary": "Cancel the attempt in flight",
                "responses": {
                    "202": {"description": "Cancellation requested", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No attempt in flight", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/solves/{id}/events": {
            "get": {
                "tags": ["Solves"],
                "summary": "Stream attempt events",
                "description": "Server-sent events. Each attempt stream has exactly one consumer; the stream closes after the terminal transition.",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Event stream"},
                    "404": {"description": "No stream for this attempt", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Stream already claimed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/schedule": {
            "get": {
                "tags": ["Schedule"],
                "summary": "Latest accepted schedule",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No schedule accepted yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/schedule/rows": {
            "get": {
                "tags": ["Schedule"],
                "summary": "Latest schedule as flat rows",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No schedule accepted yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/schedule/pins": {
            "get": {
                "tags": ["Schedule"],
                "summary": "Canonical pin set",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/attempts": {
            "get": {
                "tags": ["Attempts"],
                "summary": "List archived attempts",
                "parameters": [
                    {"name": "outcome", "in": "query", "type": "string"},
                    {"name": "backend", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Archive disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/attempts/{id}": {
            "get": {
                "tags": ["Attempts"],
                "summary": "Get one archived attempt",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "TokenRequest": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "client_secret": {"type": "string"}
            },
            "required": ["client_id", "client_secret"]
        },
        "RefreshRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            },
            "required": ["refresh_token"]
        },
        "TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "refresh_token": {"type": "string"},
                "expires_in": {"type": "integer"},
                "role": {"type": "string"},
                "issued_at": {"type": "string"}
            }
        },
        "SolveRequest": {
            "type": "object",
            "properties": {
                "model": {"$ref": "#/definitions/Snapshot"},
                "pins": {"type": "array", "items": {"$ref": "#/definitions/Pin"}},
                "unpins": {"type": "array", "items": {"$ref": "#/definitions/AssignmentKey"}},
                "resetPins": {"type": "boolean"},
                "config": {"$ref": "#/definitions/SolverOptions"}
            }
        },
        "Snapshot": {
            "type": "object",
            "properties": {
                "weekCount": {"type": "integer"},
                "maxCollesPerWeek": {"type": "integer"},
                "periods": {"type": "array", "items": {"$ref": "#/definitions/Period"}},
                "patterns": {"type": "array", "items": {"$ref": "#/definitions/WeekPattern"}},
                "subjects": {"type": "array", "items": {"$ref": "#/definitions/Subject"}},
                "teachers": {"type": "array", "items": {"$ref": "#/definitions/Teacher"}},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/Slot"}},
                "students": {"type": "array", "items": {"$ref": "#/definitions/Student"}},
                "groups": {"type": "array", "items": {"$ref": "#/definitions/Group"}},
                "associations": {"type": "array", "items": {"$ref": "#/definitions/Association"}},
                "incompatibilities": {"type": "array", "items": {"$ref": "#/definitions/Incompatibility"}}
            },
            "required": ["weekCount", "periods", "patterns", "subjects", "teachers", "slots", "groups", "associations"]
        },
        "Period": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "firstWeek": {"type": "integer"},
                "weekCount": {"type": "integer"}
            }
        },
        "WeekPattern": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "weeks": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Subject": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "duration": {"type": "integer"},
                "pattern": {"type": "integer"},
                "groupSizeMin": {"type": "integer"},
                "groupSizeMax": {"type": "integer"},
                "periodicity": {"type": "integer"},
                "strictPeriodicity": {"type": "boolean"},
                "maxGroupsPerSlot": {"type": "integer"},
                "teachers": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Teacher": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "subjects": {"type": "array", "items": {"type": "integer"}},
                "slots": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Slot": {
            "type": "object",
            "properties": {
                "teacher": {"type": "integer"},
                "day": {"type": "integer"},
                "start": {"type": "integer"},
                "duration": {"type": "integer"},
                "pattern": {"type": "integer"}
            }
        },
        "Student": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "subjects": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Group": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "subject": {"type": "integer"},
                "students": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Association": {
            "type": "object",
            "properties": {
                "subject": {"type": "integer"},
                "groups": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Incompatibility": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "slots": {"type": "array", "items": {"type": "integer"}},
                "maxCount": {"type": "integer"},
                "students": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "Pin": {
            "type": "object",
            "properties": {
                "week": {"type": "integer"},
                "subject": {"type": "integer"},
                "group": {"type": "integer"},
                "teacher": {"type": "integer"},
                "slot": {"type": "integer"}
            }
        },
        "AssignmentKey": {
            "type": "object",
            "properties": {
                "week": {"type": "integer"},
                "subject": {"type": "integer"},
                "group": {"type": "integer"}
            }
        },
        "SolverOptions": {
            "type": "object",
            "properties": {
                "balanceWeight": {"type": "integer"},
                "repeatWindow": {"type": "integer"},
                "repeatPenaltyWeight": {"type": "integer"},
                "disruptionWeight": {"type": "integer"}
            }
        },
        "SolveAccepted": {
            "type": "object",
            "properties": {
                "attemptId": {"type": "string"},
                "state": {"type": "string"}
            }
        },
        "EngineState": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "attemptId": {"type": "string"},
                "error": {"$ref": "#/definitions/APIError"},
                "since": {"type": "string"}
            }
        },
        "Schedule": {
            "type": "object",
            "properties": {
                "rows": {"type": "array", "items": {"$ref": "#/definitions/ScheduleRow"}},
                "pins": {"type": "array", "items": {"$ref": "#/definitions/Pin"}},
                "objective": {"type": "number"},
                "gap": {"type": "number"},
                "breakdown": {"$ref": "#/definitions/Breakdown"}
            }
        },
        "ScheduleRow": {
            "type": "object",
            "properties": {
                "week": {"type": "integer"},
                "subject": {"type": "integer"},
                "group": {"type": "integer"},
                "teacher": {"type": "integer"},
                "slot": {"type": "integer"}
            }
        },
        "Breakdown": {
            "type": "object",
            "properties": {
                "balance": {"type": "integer"},
                "repeat": {"type": "integer"},
                "disruption": {"type": "integer"},
                "custom": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "SolveAttempt": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "backend": {"type": "string"},
                "outcome": {"type": "string"},
                "error_code": {"type": "string"},
                "objective": {"type": "number"},
                "gap": {"type": "number"},
                "assignments": {"type": "integer"},
                "pinned": {"type": "integer"},
                "decision_vars": {"type": "integer"},
                "aux_vars": {"type": "integer"},
                "rows": {"type": "integer"},
                "build_ms": {"type": "integer"},
                "solve_ms": {"type": "integer"},
                "total_ms": {"type": "integer"},
                "started_at": {"type": "string"},
                "finished_at": {"type": "string"}
            }
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
