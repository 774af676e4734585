// Package server implements the external task REST API of an engine.
/*
server implements a handler for each engine operation, using the [net/http] package. Paths, request and response
bodies follow the external task REST API of Camunda 7, so that existing external task clients can be used.

Run a Server

A server requires an engine. Basic authentication is enabled, when a username and a password are set.

A server is listening on "127.0.0.1:8080".
The TCP bind address as well as various timeouts can be configured by customizing the configuration.
Since fetch and lock requests can be long polling, the handler timeout must exceed the engine's max async response time.

	server, err := server.New(e, func(o *server.Options) {
		o.BasicAuthUsername = "username"
		o.BasicAuthPassword = "password"
	})
	if err != nil {
		log.Fatalf("failed to create HTTP server: %v", err)
	}

	server.ListenAndServe()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGTERM)

	<-signalC

	server.Shutdown()

Errors

Errors are responded with an exception body {"type": "...", "message": "...", "code": 0}:
  - HTTP 400 InvalidRequestException: invalid request or engine validation error
  - HTTP 404 InvalidRequestException: external task not found
  - HTTP 500 ProcessEngineException: external task is not locked, locked by another worker or the lock has expired
  - HTTP 500 RestException: unexpected error
*/
package server
