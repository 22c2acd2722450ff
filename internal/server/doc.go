// Package server exposes the service over HTTP: websocket endpoints for
// browser and telephony calls, a TwiML endpoint for provisioning phone
// numbers, and monitoring endpoints. It also tracks live call sessions
// and enforces the concurrent call limit.
package server
