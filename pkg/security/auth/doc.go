/*
Package auth implements API key authentication for the rule management
routes.

Keys are resolved once at startup from literal values, environment
variables or files:

	keys, err := auth.LoadKeys(cfg.Server.Auth.Keys)
	if err != nil {
		return err
	}
	mw := auth.NewMiddleware(auth.NewValidator(keys), cfg.Server.Auth.Header, logger)
	r.With(mw.Handle).Post("/v1/rules", createRule)

Clients send the key in the configured header, either bare or with a
"Bearer " prefix. Keys are compared in constant time. Handlers behind the
middleware can read the authenticated key name with KeyName.
*/
package auth
