/*
Package api defines the wire types of the runner registration API.

# Endpoint

	POST /api/register

Request body (RegisterRequest):

	{
	  "owner": "octo-org",
	  "repository": "hello-world",
	  "adminPat": "ghp_...",
	  "runnerNames": ["runner-1", "runner-2"],
	  "labels": ["gpu"],
	  "dryRun": false
	}

Responses:

  - 201 Created: runners registered, body maps runner name to secret payload
  - 202 Accepted: dry run, the same shape with placeholder payloads
  - 400 Bad Request: invalid input or failed authorization, plain text message
  - 500 Internal Server Error: process or extraction failure, plain text message

When a batch fails after some runners were registered (for example a bad
name later in the list) the 400 or 500 body is instead an ErrorResponse
carrying those runners, with a Location header listing them.

Every 201/202 carries a Location header with a correlation URI listing the
runner credential IDs in request order:

	runners://octo-org/hello-world/6c0d2f4e-.../0b9a77c1-...

The handler lives in the runnerhandler subpackage, next to a client for it.
*/
package api
