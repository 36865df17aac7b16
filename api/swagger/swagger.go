package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Finance API",
        "description": "School fee ledger: charges, arrears, aggregated payments, monthly generation and absence fines.",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": ["http"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Authentication", "description": "Access tokens"},
        {"name": "Fees", "description": "Fee records, payments and ledger projections"},
        {"name": "AbsenceFines", "description": "Escalating fines for excessive absence"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "security": [],
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Invalid credentials"}}
            }
        },
        "/auth/me": {
            "get": {"tags": ["Authentication"], "summary": "Current user", "responses": {"200": {"description": "OK"}}}
        },
        "/fees": {
            "get": {
                "tags": ["Fees"],
                "summary": "List fee records",
                "parameters": [
                    {"in": "query", "name": "studentIds", "type": "string", "description": "Comma separated student IDs"},
                    {"in": "query", "name": "month", "type": "integer"},
                    {"in": "query", "name": "year", "type": "integer"},
                    {"in": "query", "name": "status", "type": "string", "enum": ["unpaid", "partial", "overdue", "paid"]},
                    {"in": "query", "name": "feeType", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Fees"],
                "summary": "Create fee record(s)",
                "description": "feeType all creates tuition and exam charges together",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/CreateFeeRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Validation error"}, "409": {"description": "Duplicate period"}}
            }
        },
        "/fees/{id}": {
            "get": {
                "tags": ["Fees"], "summary": "Get a fee record",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            },
            "put": {
                "tags": ["Fees"], "summary": "Update a fee record",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/UpdateFeeRequest"}}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Concurrent modification"}}
            }
        },
        "/fees/{id}/payment": {
            "put": {
                "tags": ["Fees"], "summary": "Pay a single fee record",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RecordPaymentRequest"}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid amount"}, "409": {"description": "Already paid or duplicate transaction"}}
            }
        },
        "/fees/process-aggregate-payment/{studentId}": {
            "put": {
                "tags": ["Fees"], "summary": "Allocate one payment across outstanding fees, oldest first",
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}, {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/AggregatePaymentRequest"}}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "No outstanding fees"}, "409": {"description": "Duplicate transaction"}}
            }
        },
        "/fees/arrears/{studentId}": {
            "get": {
                "tags": ["Fees"], "summary": "Outstanding balance from previous months",
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fees/student-aggregate/{studentId}": {
            "get": {
                "tags": ["Fees"], "summary": "Current month, fines and arrears summary",
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fees/generate-monthly": {
            "post": {
                "tags": ["Fees"], "summary": "Generate monthly tuition for active students",
                "parameters": [{"in": "body", "name": "payload", "schema": {"$ref": "#/definitions/GenerateMonthlyRequest"}}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fees/statement/{studentId}": {
            "get": {
                "tags": ["Fees"], "summary": "Full fee ledger for a student",
                "produces": ["application/json", "text/csv", "application/pdf"],
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}, {"in": "query", "name": "format", "type": "string", "enum": ["json", "csv", "pdf"]}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fees/cleanup-orphaned": {
            "delete": {"tags": ["Fees"], "summary": "Delete fees whose student is missing or inactive", "responses": {"200": {"description": "OK"}}}
        },
        "/absence-fine/calculate": {
            "post": {
                "tags": ["AbsenceFines"], "summary": "Calculate the absence fine for a month",
                "parameters": [{"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/CalculateAbsenceFineRequest"}}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Student not found"}}
            }
        },
        "/absence-fine/history/{studentId}": {
            "get": {
                "tags": ["AbsenceFines"], "summary": "Absence fine tracking",
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/absence-fine/reset/{studentId}": {
            "put": {
                "tags": ["AbsenceFines"], "summary": "Reset the consecutive month counter",
                "parameters": [{"in": "path", "name": "studentId", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "CreateFeeRequest": {
            "type": "object",
            "required": ["studentId", "feeType"],
            "properties": {
                "studentId": {"type": "string"},
                "feeType": {"type": "string", "enum": ["tuition", "exam", "transport", "library", "laboratory", "other", "all"]},
                "description": {"type": "string"},
                "dueDate": {"type": "string", "format": "date-time"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "baseAmount": {"type": "string"},
                "absenceFine": {"type": "string"},
                "otherAdjustments": {"type": "string"},
                "remarks": {"type": "string"}
            }
        },
        "UpdateFeeRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "baseAmount": {"type": "string"},
                "absenceFine": {"type": "string"},
                "otherAdjustments": {"type": "string"},
                "remarks": {"type": "string"}
            }
        },
        "RecordPaymentRequest": {
            "type": "object",
            "required": ["amount", "paymentMethod"],
            "properties": {
                "amount": {"type": "string"},
                "paymentMethod": {"type": "string", "enum": ["cash", "bank_transfer", "card", "online", "cheque"]},
                "transactionId": {"type": "string"},
                "remarks": {"type": "string"}
            }
        },
        "AggregatePaymentRequest": {
            "type": "object",
            "required": ["paidAmount", "paymentMethod"],
            "properties": {
                "paidAmount": {"type": "string"},
                "paymentMethod": {"type": "string", "enum": ["cash", "bank_transfer", "card", "online", "cheque"]},
                "transactionId": {"type": "string"},
                "remarks": {"type": "string"},
                "absenceFine": {"type": "string"},
                "otherAdjustments": {"type": "string"}
            }
        },
        "GenerateMonthlyRequest": {
            "type": "object",
            "properties": {"month": {"type": "integer"}, "year": {"type": "integer"}, "feeAmount": {"type": "string"}}
        },
        "CalculateAbsenceFineRequest": {
            "type": "object",
            "required": ["studentId", "year", "month", "absenceCount"],
            "properties": {
                "studentId": {"type": "string"},
                "year": {"type": "integer"},
                "month": {"type": "integer"},
                "absenceCount": {"type": "integer"},
                "applyToFee": {"type": "boolean"}
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
