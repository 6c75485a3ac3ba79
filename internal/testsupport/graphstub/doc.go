// Package graphstub hosts a deterministic HTTP fake of the WhatsApp Graph
// media endpoint for integration tests. The stub records every upload
// attempt, enforces the expected bearer token, and can be scripted to fail a
// fixed number of requests so retry behaviour can be asserted without
// touching the network.
package graphstub
