// Package common contains paths, headers and bodies, shared between HTTP server and client.
package common
