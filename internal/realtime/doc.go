// Package realtime is the WebSocket client for the platform's push channel.
//
// A single Manager owns the connection. It dials <url>?token=<jwt>, keeps the
// socket alive with a periodic ping and reconnects after abnormal closes with
// exponential backoff (base * 2^(attempt-1), capped attempts). A close with
// code 1000, from either side, never reconnects.
//
// Inbound frames are JSON envelopes:
//
//	{"type": "alert", "data": {...}, "timestamp": "2024-05-01T10:00:00Z", "messageId": "msg_..."}
//
// The Dispatcher decodes each frame, appends it to a bounded message log and
// hands a typed payload to every handler registered for the type:
//
//	auth_success, auth_failed  AuthResult
//	error                      ErrorPayload
//	message_monitor            MessageEvent
//	contact_monitor            ContactEvent
//	alert                      AlertEvent
//	system_status              SystemStatus
//	pong                       Pong
//
// Unknown types and payloads that fail validation are counted and dropped.
// Handlers run on the read goroutine in arrival order; a handler that fails
// or panics is logged without affecting the others.
//
// Example Usage:
//
//	mgr := realtime.NewManager(realtime.OptionsFromConfig(cfg.Realtime), session,
//		realtime.WithLogger(log.Component("realtime")),
//		realtime.WithNotifier(notifier))
//	mgr.On(realtime.TypeAlert, realtime.Typed(func(a realtime.AlertEvent, _ realtime.Envelope) error {
//		return nil
//	}))
//	if err := mgr.Connect(ctx); err != nil {
//		return err
//	}
//	defer mgr.Close()
package realtime
