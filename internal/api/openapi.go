package api

import (
	"net/http"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the webhook and the
// admin routes.
func buildOpenAPIDoc(webhookPath string) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Store reachability and message count",
				"tags":        []string{"ops"},
				"responses": map[string]any{
					"200": map[string]any{"description": "Healthy"},
					"503": map[string]any{"description": "Store unreachable"},
				},
			},
		},
		"/messages/{messageID}": map[string]any{
			"get": bearerOperation("getMessage", "Fetch one stored message", "messages", map[string]any{
				"200": map[string]any{"description": "Message"},
				"404": map[string]any{"description": "Unknown id"},
			}),
		},
		"/messages/count": map[string]any{
			"get": bearerOperation("countMessages", "Count stored messages, optionally per account", "messages", map[string]any{
				"200": map[string]any{"description": "Count"},
			}),
		},
		"/events": map[string]any{
			"get": bearerOperation("events", "Server-Sent Events stream of sms.logged and sms.rejected", "events", map[string]any{
				"200": map[string]any{"description": "text/event-stream"},
			}),
		},
	}

	if webhookPath != "" {
		paths[webhookPath] = map[string]any{"post": webhookOperation()}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "SMS Inbound",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
				"SecretKey": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "x-secret-key",
				},
			},
		},
	}
}

func bearerOperation(id, summary, tag string, responses map[string]any) map[string]any {
	responses["401"] = map[string]any{"description": "Missing or invalid token"}
	responses["403"] = map[string]any{"description": "Insufficient scope"}
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
}

func webhookOperation() map[string]any {
	result := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ok":      map[string]any{"type": "boolean"},
			"code":    map[string]any{"type": "string"},
			"id":      map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
		},
		"required": []string{"ok", "code", "message"},
	}
	reply := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{"schema": result},
			},
		}
	}

	return map[string]any{
		"operationId": "logSMS",
		"summary":     "Log one inbound SMS",
		"tags":        []string{"webhook"},
		"security":    []any{map[string]any{"SecretKey": []string{}}},
		"requestBody": map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"message_body":     map[string]any{"description": "Text, or an object holding message_body"},
							"message_body_b64": map[string]any{"type": "string"},
							"encoding":         map[string]any{"type": "string", "enum": []string{"base64"}},
							"sender":           map[string]any{"type": "string"},
							"secret_key":       map[string]any{"type": "string", "description": "Legacy body credential"},
						},
					},
				},
			},
		},
		"responses": map[string]any{
			"200": reply("SMS_LOGGED"),
			"400": reply("MISSING_SECRET_KEY or MISSING_MESSAGE_BODY"),
			"401": reply("INVALID_KEY or INVALID_SIGNATURE"),
			"413": reply("PAYLOAD_TOO_LARGE"),
			"500": reply("INTERNAL_ERROR"),
		},
	}
}

// handleOpenAPI handles GET /openapi.json
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.WebhookPath))
}
