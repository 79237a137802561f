/*
Package security groups the transport and access controls of the rules
API server.

  - auth guards the rule management routes with API keys
  - tls serves the API over HTTPS with certificate hot reload

Both are off by default and enabled from the server section of the
configuration:

	server:
	  tls:
	    enabled: true
	    cert_file: /etc/rules/tls/server.crt
	    key_file: /etc/rules/tls/server.key
	    min_version: "1.3"
	  auth:
	    enabled: true
	    keys:
	      - name: deploy-bot
	        key_env: RULES_DEPLOY_KEY
*/
package security
