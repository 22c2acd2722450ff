// Package assistant defines the conversational agent: prompt assembly,
// response generation against an OpenAI-compatible chat completion
// endpoint, tool selection, and delegation to speech synthesis.
package assistant
