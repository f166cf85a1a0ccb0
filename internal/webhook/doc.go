// Package webhook implements the inbound SMS endpoint.
//
// Mobile automation clients POST a JSON body carrying the message text and a
// per-account secret. The handler captures the body, authenticates the
// secret, recovers the text from whichever encoding the client used and
// inserts exactly one row.
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path (default /webhook/sms)
//  2. Body read up to max_body_size (413 if larger)
//  3. Optional HMAC-SHA256 check of the raw body (401 on mismatch)
//  4. Body parsed as JSON, repaired if it holds raw control characters
//  5. Secret read from the X-Secret-Key header, or the secret_key body field
//     in legacy mode, and resolved to an account (400 if absent, 401 if unknown)
//  6. Message text recovered: plain, nested, base64 or literal (400 if none)
//  7. Message inserted under store_timeout (500 on failure)
//  8. 200 returned with the message id
//
// # Responses
//
// Every reply has the shape
//
//	{"ok": bool, "code": "...", "id": "...", "message": "..."}
//
// with code one of SMS_LOGGED, MISSING_SECRET_KEY, INVALID_KEY,
// INVALID_SIGNATURE, MISSING_MESSAGE_BODY, PAYLOAD_TOO_LARGE or
// INTERNAL_ERROR. Store errors are logged and never returned. In debug mode
// the reply also carries a "debug" object describing how the body was
// handled.
//
// # Example Usage
//
//	cfg, err := webhook.FromGlobalConfig(globalCfg)
//	if err != nil {
//		return err
//	}
//	server := webhook.New(cfg, store, hub, logger)
//	if err := server.Start(ctx); err != nil {
//		return err
//	}
package webhook
