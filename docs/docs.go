// Package docs registers the OpenAPI document served under /swagger.
//
// Regenerate from the handler annotations with:
//
//	swag init -g cmd/server/main.go -o docs
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
        "/import/{domain}": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["Import"],
                "summary": "Import a data file",
                "operationId": "importFile",
                "parameters": [
                    {"type": "string", "description": "Import domain", "name": "domain", "in": "path", "required": true,
                     "enum": ["services", "budget-annual", "ops-actual", "calendar-1404", "seasonality"]},
                    {"type": "string", "default": "dry-run", "description": "Run mode", "name": "mode", "in": "query", "enum": ["dry-run", "commit"]},
                    {"type": "boolean", "description": "Deactivate active services missing from the file", "name": "confirm_deactivate", "in": "query"},
                    {"type": "string", "description": "Replays a committed import", "name": "Idempotency-Key", "in": "header"},
                    {"type": "file", "description": "CSV or XLSX file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "Import report"},
                    "400": {"description": "Bad request"},
                    "404": {"description": "Unknown domain"},
                    "409": {"description": "Concurrent commit"},
                    "413": {"description": "File too large"},
                    "415": {"description": "Unsupported format"},
                    "422": {"description": "Commit aborted"}
                }
            }
        },
        "/import/{domain}/template": {
            "get": {
                "produces": ["application/octet-stream"],
                "tags": ["Import"],
                "summary": "Download an import template",
                "operationId": "importTemplate",
                "parameters": [
                    {"type": "string", "name": "domain", "in": "path", "required": true},
                    {"type": "string", "default": "csv", "name": "format", "in": "query", "enum": ["csv", "xlsx"]}
                ],
                "responses": {"200": {"description": "Template file"}}
            }
        },
        "/budget/snapshots": {
            "get": {"tags": ["Budget"], "summary": "List budget snapshots", "operationId": "listSnapshots",
                    "responses": {"200": {"description": "Snapshots newest first"}}}
        },
        "/budget/diff": {
            "get": {"tags": ["Budget"], "summary": "Compare two budget snapshots", "operationId": "diffSnapshots",
                    "parameters": [
                        {"type": "integer", "name": "from", "in": "query"},
                        {"type": "integer", "name": "to", "in": "query", "required": true}
                    ],
                    "responses": {"200": {"description": "Added, removed and changed lines"}}}
        },
        "/triggers": {
            "get": {"tags": ["Triggers"], "summary": "List triggers (paginated)", "operationId": "listTriggers",
                    "responses": {"200": {"description": "A page of triggers"}, "304": {"description": "Not Modified"}}}
        },
        "/triggers/impacted": {
            "get": {"tags": ["Budget"], "summary": "Triggers impacted by a budget snapshot", "operationId": "listImpactedTriggers",
                    "responses": {"200": {"description": "Diff and triggers"}}}
        },
        "/triggers/{id}": {
            "get": {"tags": ["Triggers"], "summary": "Get a trigger", "operationId": "getTrigger",
                    "responses": {"200": {"description": "Trigger"}, "404": {"description": "Not found"}}}
        },
        "/triggers/{id}/status": {
            "put": {"tags": ["Triggers"], "summary": "Change a trigger's status", "operationId": "updateTriggerStatus",
                    "responses": {"200": {"description": "Trigger"}, "409": {"description": "Transition not allowed"}}}
        },
        "/triggers/{id}/responses": {
            "get": {"tags": ["Responses"], "summary": "List a trigger's responses", "operationId": "listResponses",
                    "responses": {"200": {"description": "Responses"}}},
            "post": {"tags": ["Responses"], "summary": "Respond to a trigger", "operationId": "submitResponse",
                     "responses": {"201": {"description": "Response"}}}
        },
        "/responses/search": {
            "get": {"tags": ["Responses"], "summary": "Search past responses", "operationId": "searchResponses",
                    "responses": {"200": {"description": "Ranked hits"}}}
        },
        "/compute/budget-daily": {
            "post": {"tags": ["Compute"], "summary": "Compute the daily budget", "operationId": "computeBudgetDaily",
                     "responses": {"200": {"description": "Daily result"}}}
        },
        "/compute/deviations": {
            "post": {"tags": ["Compute"], "summary": "Compute deviations", "operationId": "computeDeviations",
                     "responses": {"200": {"description": "Deviation result"}}}
        },
        "/recompute": {
            "post": {"tags": ["Compute"], "summary": "Drain the recompute queue", "operationId": "recompute",
                     "responses": {"200": {"description": "Recompute summary"}}}
        },
        "/settings": {
            "get": {"tags": ["Settings"], "summary": "Current engine settings", "operationId": "getSettings",
                    "responses": {"200": {"description": "Settings"}}},
            "post": {"tags": ["Settings"], "summary": "Append a settings version", "operationId": "updateSettings",
                     "responses": {"201": {"description": "Settings"}}}
        },
        "/dq/run": {
            "post": {"tags": ["Quality"], "summary": "Run data-quality checks", "operationId": "runDQ",
                     "responses": {"200": {"description": "DQ report"}}}
        },
        "/dashboard": {
            "get": {"tags": ["Reports"], "summary": "Dashboard", "operationId": "dashboard",
                    "responses": {"200": {"description": "Dashboard"}}}
        },
        "/reports/weekly.xlsx": {
            "get": {"tags": ["Reports"], "summary": "Weekly deviation report", "operationId": "weeklyReport",
                    "produces": ["application/octet-stream"],
                    "responses": {"200": {"description": "Workbook"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "perfmon API",
	Description:      "Service performance monitoring: imports, daily budgets, deviation triggers and responses.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
