// Package protocol defines the JSON envelope format exchanged with the
// telephony provider's media stream websocket, plus the TwiML document
// used to route a PSTN call onto that socket.
package protocol
