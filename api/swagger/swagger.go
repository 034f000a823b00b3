package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CampusWorks Registrar API",
        "description": "Asynchronous course enrollment service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Enrollments", "description": "Asynchronous enrollment requests"},
        {"name": "Sections", "description": "Course section catalog"}
    ],
    "paths": {
        "/enrollments": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Request enrollment into a section",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already enrolled or duplicate request"}
                }
            }
        },
        "/enrollments/status/{jobId}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Poll an enrollment request decision",
                "parameters": [
                    {"name": "jobId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown or expired job"}
                }
            }
        },
        "/enrollments/{enrollmentId}": {
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Request dropping an enrollment",
                "parameters": [
                    {"name": "enrollmentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/waitlist/{sectionId}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "View a section waitlist",
                "parameters": [
                    {"name": "sectionId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/my": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List the caller's enrollments",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections": {
            "get": {
                "tags": ["Sections"],
                "summary": "List course sections",
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}": {
            "get": {
                "tags": ["Sections"],
                "summary": "Get one course section",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "EnrollRequest": {
            "type": "object",
            "properties": {
                "sectionId": {"type": "string"}
            },
            "required": ["sectionId"]
        },
        "JobQueued": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED"]},
                "estimatedWaitTime": {"type": "integer", "description": "projected wait in seconds from current queue depth"}
            }
        },
        "JobStatus": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "ACTIVE", "COMPLETED", "FAILED"]},
                "result": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "CourseSection": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "course_code": {"type": "string"},
                "title": {"type": "string"},
                "credits": {"type": "integer"},
                "status": {"type": "string", "enum": ["OPEN", "FULL", "INACTIVE"]},
                "max_capacity": {"type": "integer"},
                "current_enrollment": {"type": "integer"},
                "time_slots": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/TimeSlot"}
                }
            }
        },
        "TimeSlot": {
            "type": "object",
            "properties": {
                "day_of_week": {"type": "integer"},
                "start_minute": {"type": "integer"},
                "end_minute": {"type": "integer"}
            }
        },
        "WaitlistEntry": {
            "type": "object",
            "properties": {
                "position": {"type": "integer"},
                "joined_at": {"type": "string"}
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
