// Package client is used to interact with an engine via HTTP.
/*
client provides a full implementation of the [engine.Engine] interface, using the external task REST API.

Create a Client

A client requires the base URL of a HTTP server - e.g. "http://localhost:8080/engine-rest".
Authentication and other request related concerns are implemented as interceptors, which transform the configuration
of each request before it is sent.

	client, err := client.New("http://localhost:8080/engine-rest", func(o *client.Options) {
		o.Interceptors = []client.Interceptor{
			client.BasicAuth("username", "password"),
			client.Header("X-Request-Source", "my-worker"),
		}
	})
	if err != nil {
		log.Fatalf("failed to create HTTP client: %v", err)
	}

	defer client.Shutdown()

Errors

Error responses are returned as [engine.Error], network failures and timeouts as [TransportError].
*/
package client
