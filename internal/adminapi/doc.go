/*
Package adminapi is the client for the platform admin REST API.

Every call goes through Client, which adds the bearer token and an
X-Request-ID header, waits on a token-bucket limiter and runs inside a
circuit breaker. Responses use one of two envelopes:

	{"code": 0, "message": "ok", "data": {...}}
	{"success": true, "data": {...}}

A 2xx response whose envelope reports failure becomes a *BusinessError
whose text is the server message. Non-2xx responses become an *APIError
wrapping one of the status sentinels (ErrUnauthorized, ErrNotFound, ...).

A 401 triggers exactly one token refresh and one retry. When the refresh
fails, or the retry is rejected again, the unauthorized hook runs so the
session can sign out.

Usage:

	client, err := adminapi.New(adminapi.OptionsFromConfig(cfg.API),
		adminapi.WithLogger(logger),
		adminapi.WithNotifier(notifier))
	if err != nil {
		return err
	}
	client.SetAuth(session, session, session.Expire)

	api := adminapi.NewAPI(client)
	page, err := api.Users.List(ctx, adminapi.ListParams{Page: 1, PageSize: 20})
*/
package adminapi
